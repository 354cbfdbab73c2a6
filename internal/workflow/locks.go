package workflow

import "sync"

// orderLocks is a per-order advisory lease: at most one workflow
// execution per order at a time. A second trigger while the lease is
// held is refused rather than queued, so a retried upstream event can
// never run validation or apply a decision twice concurrently.
type orderLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newOrderLocks() *orderLocks {
	return &orderLocks{held: make(map[string]bool)}
}

// acquire takes the lease for id. Returns false if already held.
func (l *orderLocks) acquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return false
	}
	l.held[id] = true
	return true
}

// release returns the lease for id.
func (l *orderLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
