// Package config loads CLI configuration from files, environment
// variables, and flags, and validates it.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the full CLI configuration.
type Config struct {
	Schema   string         `mapstructure:"schema"`
	Entity   string         `mapstructure:"entity"`
	Query    string         `mapstructure:"query"`
	Execute  bool           `mapstructure:"execute"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds database connection parameters. A complete DSN
// takes precedence over the discrete fields.
type DatabaseConfig struct {
	ConnectionString string `mapstructure:"dsn"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	User             string `mapstructure:"user"`
	Password         string `mapstructure:"password"`
	PasswordFile     string `mapstructure:"password_file"`
	PasswordPrompt   bool   `mapstructure:"password_prompt"`
	Database         string `mapstructure:"database"`
	TLSMode          string `mapstructure:"tls_mode"` // skip-verify, true, false
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DSN returns a MySQL-compatible data source name.
// If ConnectionString is set, it is used directly (with parseTime and
// loc ensured). Otherwise the DSN is built from the discrete fields.
func (d *DatabaseConfig) DSN() string {
	var dsn string

	if d.ConnectionString != "" {
		dsn = d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
	} else {
		dsn = fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User,
			d.Password,
			d.Host,
			d.Port,
			d.Database,
		)
	}

	if d.TLSMode != "" && !strings.Contains(dsn, "tls=") {
		dsn += fmt.Sprintf("&tls=%s", d.TLSMode)
	}

	return dsn
}
