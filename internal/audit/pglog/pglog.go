// Package pglog provides a PostgreSQL implementation of audit.Log.
package pglog

import (
	_ "embed"
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/greenlight/internal/audit"
)

var tracer = otel.Tracer("github.com/linnemanlabs/greenlight/internal/audit/pglog")

//go:embed schema.sql
var schema string

// Log persists audit entries in PostgreSQL. Inserts only; entries are
// never updated or deleted.
type Log struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Log on the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Log, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Log{pool: pool}, nil
}

// Append inserts one entry.
func (l *Log) Append(ctx context.Context, e *audit.Entry) error {
	ctx, span := tracer.Start(ctx, "pglog.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO audit_log (id, order_id, operation, actor, payload, status, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OrderID, e.Operation, e.Actor, e.Payload, e.Status, e.Timestamp,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByOrder returns an order's entries in write order.
func (l *Log) ListByOrder(ctx context.Context, orderID string) ([]audit.Entry, error) {
	ctx, span := tracer.Start(ctx, "pglog.ListByOrder", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := l.pool.Query(ctx,
		`SELECT id, order_id, operation, actor, payload, status, ts
		 FROM audit_log WHERE order_id = $1 ORDER BY ts, id`, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Operation, &e.Actor, &e.Payload, &e.Status, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
