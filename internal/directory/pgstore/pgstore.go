// Package pgstore provides a PostgreSQL implementation of
// directory.Store.
package pgstore

import (
	_ "embed"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/greenlight/internal/directory"
)

var tracer = otel.Tracer("github.com/linnemanlabs/greenlight/internal/directory/pgstore")

//go:embed schema.sql
var schema string

// Store persists routing configuration in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store on the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ListChannelConfigs returns all channel configs, ordered for stable
// first-match resolution.
func (s *Store) ListChannelConfigs(ctx context.Context) ([]directory.ChannelConfig, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListChannelConfigs", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT vertical, channel_type, destination_id, min_budget, max_budget
		 FROM channel_configs ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query channel configs: %w", err)
	}
	defer rows.Close()

	var out []directory.ChannelConfig
	for rows.Next() {
		var c directory.ChannelConfig
		if err := rows.Scan(&c.Vertical, &c.ChannelType, &c.DestinationID, &c.MinBudget, &c.MaxBudget); err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel configs: %w", err)
	}
	return out, nil
}

// GetAssignment returns the approver assignment for a principal.
func (s *Store) GetAssignment(ctx context.Context, principalID string) (*directory.Assignment, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetAssignment", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var a directory.Assignment
	err := s.pool.QueryRow(ctx,
		`SELECT principal_id, approver_id FROM cem_assignments WHERE principal_id = $1`,
		principalID,
	).Scan(&a.PrincipalID, &a.ApproverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan assignment: %w", err)
	}
	return &a, true, nil
}
