// Package memstore provides an in-memory implementation of
// directory.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/greenlight/internal/directory"
)

// Store holds channel configs and assignments in memory. Suitable for
// dev/testing.
type Store struct {
	mu          sync.RWMutex
	configs     []directory.ChannelConfig
	assignments map[string]string // principal id -> approver id
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{assignments: make(map[string]string)}
}

// AddChannelConfig appends a channel config.
func (s *Store) AddChannelConfig(c directory.ChannelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, c)
}

// Assign maps a principal to an approver.
func (s *Store) Assign(principalID, approverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[principalID] = approverID
}

// ListChannelConfigs returns a copy of the configs in insertion order.
func (s *Store) ListChannelConfigs(_ context.Context) ([]directory.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]directory.ChannelConfig, len(s.configs))
	copy(out, s.configs)
	return out, nil
}

// GetAssignment returns the assignment for a principal, if any.
func (s *Store) GetAssignment(_ context.Context, principalID string) (*directory.Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	approver, ok := s.assignments[principalID]
	if !ok {
		return nil, false, nil
	}
	return &directory.Assignment{PrincipalID: principalID, ApproverID: approver}, true, nil
}
