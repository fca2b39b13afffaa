package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/shomaj/neighborhood-client/internal/ports/out/idempotency"
)

// Store is an in-memory implementation of idempotency.Store.
// Records older than TTL are treated as absent and pruned on the next Put.
// It is safe for concurrent use.
type Store struct {
	// TTL bounds how long a submission can be replayed. Zero keeps records forever.
	TTL time.Duration
	Now func() time.Time

	mu sync.RWMutex
	m  map[idempotency.Fingerprint]idempotency.Record
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		TTL: ttl,
		Now: time.Now,
		m:   make(map[idempotency.Fingerprint]idempotency.Record),
	}
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[fp]
	if !ok || s.expired(rec) {
		return idempotency.Record{}, false, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.m {
		if s.expired(v) {
			delete(s.m, k)
		}
	}
	rec.Body = append([]byte(nil), rec.Body...)
	s.m[fp] = rec
	return nil
}

func (s *Store) expired(rec idempotency.Record) bool {
	return s.TTL > 0 && s.Now().Sub(rec.CreatedAt) > s.TTL
}
