// Package pgstore provides a PostgreSQL implementation of order.Store.
package pgstore

import (
	_ "embed"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/greenlight/internal/order"
)

var tracer = otel.Tracer("github.com/linnemanlabs/greenlight/internal/order/pgstore")

//go:embed schema.sql
var schema string

// Store reads order snapshots and reference data from PostgreSQL and
// writes the status projection.
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

const orderColumns = `id, principal_id, access_level, campaign_name, budget, currency,
	flight_start, flight_end, vertical, urgent, product_ids, format_ids, status, created_at`

// GetOrder retrieves an order snapshot by id.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetOrder", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if o == nil {
		return nil, false, nil
	}
	return o, true, nil
}

// GetPrincipal retrieves a principal by id.
func (s *Store) GetPrincipal(ctx context.Context, id string) (*order.Principal, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetPrincipal", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var p order.Principal
	var level string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, access_level, active, prior_orders FROM principals WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &level, &p.Active, &p.PriorOrders)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan principal: %w", err)
	}
	p.AccessLevel = order.AccessLevel(level)
	return &p, true, nil
}

// GetProducts returns the active-or-not products matching ids.
func (s *Store) GetProducts(ctx context.Context, ids []string) ([]order.Product, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetProducts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, active FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []order.Product
	for rows.Next() {
		var p order.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// ValidFormatIDs returns the creative format catalog as a set.
func (s *Store) ValidFormatIDs(ctx context.Context) (map[string]bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ValidFormatIDs", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id FROM creative_formats`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query formats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan format: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate formats: %w", err)
	}
	return out, nil
}

// SetStatus updates the denormalized status projection.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	ctx, span := tracer.Start(ctx, "pgstore.SetStatus", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// scanOrder scans a single order row. Returns (nil, nil) when no row
// is found.
func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o            order.Order
		level        string
		productsJSON []byte
		formatsJSON  []byte
	)
	err := row.Scan(
		&o.ID, &o.PrincipalID, &level, &o.CampaignName, &o.Budget, &o.Currency,
		&o.FlightStart, &o.FlightEnd, &o.Vertical, &o.Urgent, &productsJSON, &formatsJSON,
		&o.Status, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.AccessLevel = order.AccessLevel(level)
	if err := json.Unmarshal(productsJSON, &o.ProductIDs); err != nil {
		return nil, fmt.Errorf("unmarshal product ids: %w", err)
	}
	if err := json.Unmarshal(formatsJSON, &o.FormatIDs); err != nil {
		return nil, fmt.Errorf("unmarshal format ids: %w", err)
	}
	return &o, nil
}
