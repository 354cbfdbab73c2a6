// Package memlog provides an in-memory implementation of audit.Log.
package memlog

import (
	"context"
	"sync"

	"github.com/linnemanlabs/greenlight/internal/audit"
)

// Log holds audit entries in memory, ordered per order by append time.
// Suitable for dev/testing.
type Log struct {
	mu      sync.RWMutex
	byOrder map[string][]audit.Entry
}

// New initializes an empty in-memory Log.
func New() *Log {
	return &Log{byOrder: make(map[string][]audit.Entry)}
}

// Append stores a copy of the entry.
func (l *Log) Append(_ context.Context, e *audit.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byOrder[e.OrderID] = append(l.byOrder[e.OrderID], *e)
	return nil
}

// ListByOrder returns the entries for an order in append order.
func (l *Log) ListByOrder(_ context.Context, orderID string) ([]audit.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.byOrder[orderID]
	out := make([]audit.Entry, len(entries))
	copy(out, entries)
	return out, nil
}
