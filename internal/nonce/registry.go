// Package nonce implements the single-use nonce registry that gives accepted
// payment proofs their at-most-once guarantee.
package nonce

import (
	"context"
	"sync"
	"time"
)

// Registry records consumed nonces. TryReserve is atomic: exactly one caller
// wins for a given nonce. Implementations expire entries on their own; a
// reservation only needs to outlive the proof it belongs to.
type Registry interface {
	// TryReserve inserts the nonce if absent and reports whether this caller
	// inserted it. false means the nonce was already consumed.
	TryReserve(ctx context.Context, nonce string, expiry time.Time) (bool, error)

	// Close releases background resources.
	Close() error
}

const sweepInterval = 60 * time.Second

// MemoryRegistry is the default process-local registry. A background sweep
// drops expired entries every minute; expired entries still present are
// treated as live to keep TryReserve strict.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce → expiry
	done    chan struct{}
	once    sync.Once
}

func NewMemoryRegistry() *MemoryRegistry {
	r := &MemoryRegistry{
		entries: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func (r *MemoryRegistry) TryReserve(_ context.Context, nonce string, expiry time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[nonce]; exists {
		return false, nil
	}
	r.entries[nonce] = expiry
	return true, nil
}

func (r *MemoryRegistry) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

func (r *MemoryRegistry) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.sweep(time.Now())
		case <-r.done:
			return
		}
	}
}

func (r *MemoryRegistry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for nonce, expiry := range r.entries {
		if expiry.Before(now) {
			delete(r.entries, nonce)
		}
	}
}
