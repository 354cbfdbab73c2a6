// Package memstore provides an in-memory implementation of order.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/greenlight/internal/order"
)

// Store holds orders and reference data in memory. Suitable for
// dev/testing.
type Store struct {
	mu         sync.RWMutex
	orders     map[string]*order.Order
	principals map[string]*order.Principal
	products   map[string]*order.Product
	formats    map[string]bool
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		orders:     make(map[string]*order.Order),
		principals: make(map[string]*order.Principal),
		products:   make(map[string]*order.Product),
		formats:    make(map[string]bool),
	}
}

// PutOrder stores a copy of the order.
func (s *Store) PutOrder(o *order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
}

// PutPrincipal stores a copy of the principal.
func (s *Store) PutPrincipal(p *order.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.principals[p.ID] = &cp
}

// PutProduct stores a copy of the product.
func (s *Store) PutProduct(p *order.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
}

// AddFormat marks a creative format id as valid.
func (s *Store) AddFormat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formats[id] = true
}

// GetOrder retrieves an order snapshot by id. Returns a copy.
func (s *Store) GetOrder(_ context.Context, id string) (*order.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	return &cp, true, nil
}

// GetPrincipal retrieves a principal by id. Returns a copy.
func (s *Store) GetPrincipal(_ context.Context, id string) (*order.Principal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// GetProducts returns the products matching ids. Missing ids are
// simply absent from the result.
func (s *Store) GetProducts(_ context.Context, ids []string) ([]order.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ValidFormatIDs returns the set of known creative format ids.
func (s *Store) ValidFormatIDs(_ context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.formats))
	for id := range s.formats {
		out[id] = true
	}
	return out, nil
}

// SetStatus updates the status projection on a stored order.
func (s *Store) SetStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.Status = status
	}
	return nil
}
