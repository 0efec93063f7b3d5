package config

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	if strings.TrimSpace(c.Schema) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "schema",
			Message: "schema file path is required",
			Hint:    "pass --schema or set schema in the config file",
		})
	}
	if strings.TrimSpace(c.Entity) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "entity",
			Message: "entity type is required",
			Hint:    "pass --entity naming a type registered in the schema file",
		})
	}
	if strings.TrimSpace(c.Query) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query",
			Message: "query spec path is required",
			Hint:    "pass --query, or use - to read from stdin",
		})
	}
	if c.Timeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "timeout",
			Message: "timeout cannot be negative",
		})
	}

	c.Database.validate(result, c.Execute)
	c.Logging.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult, execute bool) {
	// TLS mode validation
	validTLSModes := map[string]bool{"": true, "skip-verify": true, "true": true, "false": true}
	if !validTLSModes[d.TLSMode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls_mode",
			Message: fmt.Sprintf("invalid TLS mode %q", d.TLSMode),
			Hint:    "valid values are: skip-verify, true, false",
		})
	}

	if !execute {
		// Plan mode never opens a connection.
		if d.PasswordPrompt {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "database.password_prompt",
				Message: "password prompt is ignored without --execute",
				Hint:    "add --execute to run the statement against a database",
			})
		}
		return
	}

	if strings.TrimSpace(d.ConnectionString) != "" {
		parsed, err := mysql.ParseDSN(strings.TrimSpace(d.ConnectionString))
		if err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: fmt.Sprintf("invalid DSN: %v", err),
			})
			return
		}
		dsnDatabase := strings.TrimSpace(parsed.DBName)
		if dsnDatabase == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: "DSN does not name a database",
				Hint:    "append /<database> to the DSN or set database.database",
			})
		}
		if d.Database != "" && dsnDatabase != "" && d.Database != dsnDatabase {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: fmt.Sprintf("database mismatch: database.database=%q but database.dsn targets %q", d.Database, dsnDatabase),
			})
		}
		return
	}

	// Discrete connection fields
	if d.Port < 1 || d.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}
	if strings.TrimSpace(d.User) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.user",
			Message: "database user is required when executing",
		})
	}
	if strings.TrimSpace(d.Database) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.database",
			Message: "database name is required when executing",
			Hint:    "set --db-name or pass a complete --dsn",
		})
	}
}

func (l *LoggingConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[l.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level %q", l.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[l.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format %q", l.Format),
			Hint:    "valid values are: json, text",
		})
	}
}
