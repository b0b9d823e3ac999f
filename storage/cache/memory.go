package cache

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/jotutor/core/payment"
)

type memoryEntry struct {
	attempt   payment.Attempt
	expiresAt time.Time // zero: never
}

// MemoryAttemptStore keeps attempts in process. Fine for a single API instance.
type MemoryAttemptStore struct {
	mu        sync.Mutex
	attempts  map[string]memoryEntry
	activeTTL time.Duration
	retention time.Duration
	now       func() time.Time
}

var _ payment.AttemptStore = (*MemoryAttemptStore)(nil)

func NewMemoryAttemptStore(activeTTL, retention time.Duration) *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts:  make(map[string]memoryEntry),
		activeTTL: activeTTL,
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryAttemptStore) Create(_ context.Context, a payment.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	if _, ok := s.attempts[a.OrderID]; ok {
		return payment.ErrDuplicateOrder
	}
	s.attempts[a.OrderID] = s.entry(a)
	return nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, orderID string) (payment.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(orderID)
	if !ok {
		return payment.Attempt{}, payment.ErrAttemptNotFound
	}
	return e.attempt, nil
}

func (s *MemoryAttemptStore) Update(_ context.Context, orderID string, fn func(a *payment.Attempt) error) (payment.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(orderID)
	if !ok {
		return payment.Attempt{}, payment.ErrAttemptNotFound
	}
	a := e.attempt
	if err := fn(&a); err != nil {
		return payment.Attempt{}, err
	}
	s.attempts[orderID] = s.entry(a)
	return a, nil
}

func (s *MemoryAttemptStore) lookup(orderID string) (memoryEntry, bool) {
	e, ok := s.attempts[orderID]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.attempts, orderID)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryAttemptStore) entry(a payment.Attempt) memoryEntry {
	e := memoryEntry{attempt: a}
	if ttl := attemptTTL(a, s.activeTTL, s.retention); ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

func (s *MemoryAttemptStore) sweep() {
	now := s.now()
	for id, e := range s.attempts {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.attempts, id)
		}
	}
}

// attemptTTL keeps ended attempts for retention. Live ones outlast activeTTL by retention,
// so that late events still find them and expire them.
func attemptTTL(a payment.Attempt, activeTTL, retention time.Duration) time.Duration {
	if a.State.IsTerminal() {
		return retention
	}
	if activeTTL <= 0 {
		return 0
	}
	return activeTTL + retention
}
