package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var defineFlagsOnce sync.Once

// flagKeys maps flag names to canonical config keys. Flags without an
// entry (config, version) never reach Viper.
var flagKeys = map[string]string{
	"schema":          "schema",
	"entity":          "entity",
	"query":           "query",
	"execute":         "execute",
	"timeout":         "timeout",
	"dsn":             "database.dsn",
	"db-host":         "database.host",
	"db-port":         "database.port",
	"db-user":         "database.user",
	"db-name":         "database.database",
	"db-tls":          "database.tls_mode",
	"password-file":   "database.password_file",
	"password-prompt": "database.password_prompt",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
}

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – used only for password file/prompt resolution
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	v := viper.New()

	// Defaults (lowest priority)
	setDefaults(v)

	// --- Flags ---
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	// --- Config file ---
	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("docquery")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/docquery/")
		v.AddConfigPath("$HOME/.docquery")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- Environment variables ---
	// Canonical keys: dot + snake_case
	// Env vars: DOCQUERY_DATABASE_PASSWORD
	v.SetEnvPrefix("DOCQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Flags binding (highest normal priority) ---
	bindChangedFlagsToViper(v)

	if err := validateSingleStdinSource(v); err != nil {
		return nil, err
	}

	// --- Secure password input (explicit override) ---
	// Only resolved when a connection will actually be opened.
	if v.GetBool("execute") {
		if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
			if pwd, err := readPasswordFile(v.GetString("database.password_file")); err != nil {
				return nil, fmt.Errorf("failed to read database password file: %w", err)
			} else {
				v.Set("database.password", pwd)
			}
		}
		if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
			pwd, err := promptPassword()
			if err != nil {
				return nil, fmt.Errorf("failed to read password: %w", err)
			}
			v.Set("database.password", pwd)
		}
	}

	// --- Unmarshal (strict) ---
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := pflag.CommandLine.GetString(f.Name)
			v.Set(key, val)
		case "int":
			val, _ := pflag.CommandLine.GetInt(f.Name)
			v.Set(key, val)
		case "bool":
			val, _ := pflag.CommandLine.GetBool(f.Name)
			v.Set(key, val)
		case "duration":
			val, _ := pflag.CommandLine.GetDuration(f.Name)
			v.Set(key, val)
		default:
			v.Set(key, f.Value.String())
		}
	})
}

// defineFlags defines all command line flags. There is deliberately no
// password flag: argv is visible in process listings. Use
// DOCQUERY_DATABASE_PASSWORD, --password-file, or --password-prompt.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("schema", "", "Path to YAML schema file")
		pflag.String("entity", "", "Entity type to query")
		pflag.String("query", "", "Path to query spec JSON (use - for stdin)")
		pflag.Bool("execute", false, "Execute the compiled statement instead of printing it")
		pflag.Duration("timeout", 0, "Execution timeout (e.g. 30s, 0 = no timeout)")

		// Database connection flags
		pflag.String("dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
		pflag.String("db-host", "", "Database host")
		pflag.Int("db-port", 0, "Database port")
		pflag.String("db-user", "", "Database user")
		pflag.String("db-name", "", "Database name")
		pflag.String("db-tls", "", "Database TLS mode (skip-verify, true, false)")
		pflag.String("password-file", "", "Path to file containing database password (use @- for stdin)")
		pflag.Bool("password-prompt", false, "Prompt for database password securely")

		// Logging flags
		pflag.String("log-level", "", "Log level (debug, info, warn, error)")
		pflag.String("log-format", "", "Log format (json, text)")

		// Config file flag
		pflag.StringP("config", "c", "", "Config file path")
	})
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("schema", "")
	v.SetDefault("entity", "")
	v.SetDefault("query", "-")
	v.SetDefault("execute", false)
	v.SetDefault("timeout", time.Duration(0))

	// Database defaults
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.tls_mode", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// validateSingleStdinSource rejects configurations where the query spec
// and the password file would both consume stdin.
func validateSingleStdinSource(v *viper.Viper) error {
	if !v.GetBool("execute") {
		return nil
	}
	if strings.TrimSpace(v.GetString("query")) == "-" &&
		strings.TrimSpace(v.GetString("database.password_file")) == "@-" {
		return fmt.Errorf(
			"query and database.password_file both read from stdin; only one stdin source is allowed",
		)
	}
	return nil
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readPasswordFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
