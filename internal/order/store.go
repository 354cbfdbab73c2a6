package order

import "context"

// Reader fetches order snapshots and reference collections. All
// methods return (zero, false, nil) for a clean miss and a non-nil
// error only for infrastructure faults, which callers treat as
// transient.
type Reader interface {
	GetOrder(ctx context.Context, id string) (*Order, bool, error)
	GetPrincipal(ctx context.Context, id string) (*Principal, bool, error)
	GetProducts(ctx context.Context, ids []string) ([]Product, error)
	ValidFormatIDs(ctx context.Context) (map[string]bool, error)
}

// StatusWriter updates the denormalized order status projection. The
// audit log, not this field, is the authoritative history.
type StatusWriter interface {
	SetStatus(ctx context.Context, id, status string) error
}

// Store combines snapshot reads with the status projection write path.
type Store interface {
	Reader
	StatusWriter
}
