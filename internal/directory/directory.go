// Package directory resolves notification destinations and approver
// assignments from persisted configuration. Channel configs are loaded
// into an immutable snapshot at startup and refreshed on an interval;
// approver lookups go to the store live so an assignment change takes
// effect on the next evaluation.
package directory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// ChannelConfig maps a (channel type, vertical) pair to a destination,
// optionally bounded to a budget range.
type ChannelConfig struct {
	Vertical      string   `json:"vertical"`
	ChannelType   string   `json:"channel_type"`
	DestinationID string   `json:"destination_id"`
	MinBudget     *float64 `json:"min_budget,omitempty"`
	MaxBudget     *float64 `json:"max_budget,omitempty"`
}

// Assignment maps a principal to its assigned approver.
type Assignment struct {
	PrincipalID string `json:"principal_id"`
	ApproverID  string `json:"approver_id"`
}

// Store is the persistence interface for routing configuration.
type Store interface {
	ListChannelConfigs(ctx context.Context) ([]ChannelConfig, error)
	GetAssignment(ctx context.Context, principalID string) (*Assignment, bool, error)
}

// Registry holds the channel config snapshot. Reads are lock-free
// against an atomically swapped snapshot, so rule evaluation never
// observes a partially reloaded configuration.
type Registry struct {
	store    Store
	logger   log.Logger
	snapshot atomic.Pointer[snapshot]
}

type snapshot struct {
	configs []ChannelConfig
}

// NewRegistry loads the initial snapshot and returns a ready Registry.
func NewRegistry(ctx context.Context, store Store, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.Nop()
	}
	r := &Registry{store: store, logger: logger}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the snapshot from the store.
func (r *Registry) Reload(ctx context.Context) error {
	configs, err := r.store.ListChannelConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load channel configs: %w", err)
	}
	r.snapshot.Store(&snapshot{configs: configs})
	r.logger.Info(ctx, "channel configs loaded", "count", len(configs))
	return nil
}

// Run refreshes the snapshot on the given interval until ctx is done.
// A failed refresh keeps the previous snapshot.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Reload(ctx); err != nil {
				r.logger.Error(ctx, err, "channel config refresh failed")
			}
		}
	}
}

// Resolve returns the destination for a (channel type, vertical) pair
// whose budget bounds, if set, contain budget. The first matching
// config wins.
func (r *Registry) Resolve(channelType, vertical string, budget float64) (string, bool) {
	snap := r.snapshot.Load()
	if snap == nil {
		return "", false
	}
	for _, c := range snap.configs {
		if c.ChannelType != channelType || c.Vertical != vertical {
			continue
		}
		if c.MinBudget != nil && budget < *c.MinBudget {
			continue
		}
		if c.MaxBudget != nil && budget > *c.MaxBudget {
			continue
		}
		return c.DestinationID, true
	}
	return "", false
}

// Pair names a (channel type, vertical) combination the deployment
// requires to exist.
type Pair struct {
	ChannelType string
	Vertical    string
}

// Check verifies every required pair resolves to a destination. Called
// at startup so a misconfigured channel fails fast instead of dropping
// notifications later.
func (r *Registry) Check(required []Pair) error {
	var missing []string
	for _, p := range required {
		// budget bounds are ignored here: the pair just has to exist
		if !r.pairExists(p) {
			missing = append(missing, fmt.Sprintf("%s/%s", p.ChannelType, p.Vertical))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing channel configs: %v", missing)
	}
	return nil
}

func (r *Registry) pairExists(p Pair) bool {
	snap := r.snapshot.Load()
	if snap == nil {
		return false
	}
	for _, c := range snap.configs {
		if c.ChannelType == p.ChannelType && c.Vertical == p.Vertical {
			return true
		}
	}
	return false
}

// Resolver looks up the approver assigned to a principal. Unassigned
// is a normal outcome (ok=false, nil error); a non-nil error means the
// store was unreachable and the lookup should be retried.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver over the assignment store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Approver returns the approver id assigned to principalID.
func (r *Resolver) Approver(ctx context.Context, principalID string) (string, bool, error) {
	a, ok, err := r.store.GetAssignment(ctx, principalID)
	if err != nil {
		return "", false, fmt.Errorf("assignment lookup: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return a.ApproverID, true, nil
}
