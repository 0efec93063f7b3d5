package dbexec

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Open opens a MySQL-compatible database through the instrumented
// driver. Statement spans and connection pool metrics report through
// the global OpenTelemetry providers; without configured providers
// they are no-ops.
func Open(dsn string) (*sql.DB, error) {
	db, err := otelsql.Open("mysql", dsn,
		otelsql.WithAttributes(semconv.DBSystemMySQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL)); err != nil {
		slog.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
	}

	return db, nil
}
