// Package idempotency caches priced responses under client-chosen keys so a
// retried request replays the original result instead of charging twice.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// StoredResponse is the cached outcome of one handler execution, bound to the
// request hash it answered.
type StoredResponse struct {
	RequestHash string            `json:"requestHash"`
	StatusCode  int               `json:"statusCode"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

// Store maps idempotency keys to stored responses. Get returns (nil, nil) on
// a miss; expired entries count as misses. The surface is deliberately
// minimal so network-backed implementations are drop-ins.
type Store interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Set(ctx context.Context, key string, resp StoredResponse) error
	Close() error
}

const (
	// DefaultTTL is how long cached responses stay replayable.
	DefaultTTL = time.Hour

	sweepInterval = 5 * time.Minute
)

type memoryEntry struct {
	resp      StoredResponse
	expiresAt time.Time
}

// MemoryStore is the default in-process store. Reads treat expired entries as
// missing; a background sweep reclaims them every five minutes.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expiresAt.Before(time.Now()) {
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, resp StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: resp, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sweep(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.expiresAt.Before(now) {
			delete(s.entries, key)
		}
	}
}
