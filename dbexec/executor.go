package dbexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-docquery/compile"
)

// ErrNoDocument is returned when a statement yields no row. Compiled
// statements always produce exactly one row, so hitting this means the
// statement did not come from the compiler.
var ErrNoDocument = errors.New("statement returned no document row")

// Executor runs compiled statements and returns their JSON documents.
// Logger and metrics are optional; a nil logger falls back to the
// process default.
type Executor struct {
	querier Querier
	logger  *slog.Logger
	metrics *Metrics
}

func NewExecutor(querier Querier, logger *slog.Logger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{querier: querier, logger: logger, metrics: metrics}
}

// Document executes one compiled statement and scans the single row
// and column it produces. The bytes are the finished document: a JSON
// array of entity objects, [] when nothing matched.
func (e *Executor) Document(ctx context.Context, q compile.Query) (json.RawMessage, error) {
	queryID := uuid.New().String()
	ctx, span := startDocumentSpan(ctx, queryID, len(q.Args))
	defer span.End()

	start := time.Now()
	doc, err := e.document(ctx, q)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("document query failed",
			slog.String("query_id", queryID),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		e.logger.Debug("document query complete",
			slog.String("query_id", queryID),
			slog.Duration("elapsed", elapsed),
			slog.Int("document_bytes", len(doc)),
		)
	}
	span.SetAttributes(attribute.String("docquery.outcome", outcome))
	e.metrics.observe(outcome, elapsed)

	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Executor) document(ctx context.Context, q compile.Query) (json.RawMessage, error) {
	rows, err := e.querier.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("execute document statement: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read document row: %w", err)
		}
		return nil, ErrNoDocument
	}

	var doc []byte
	if err := rows.Scan(&doc); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read document row: %w", err)
	}
	return json.RawMessage(doc), nil
}

func startDocumentSpan(ctx context.Context, queryID string, argCount int) (context.Context, trace.Span) {
	tracer := otel.Tracer("tidb-docquery/dbexec")
	ctx, span := tracer.Start(ctx, "dbexec.document")
	span.SetAttributes(
		attribute.String("docquery.query_id", queryID),
		attribute.Int("docquery.arg_count", argCount),
	)
	return ctx, span
}
