// Package idempotency remembers Idempotency-Key headers of order requests so a
// retried request returns the order created by the first one.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

const pending = "pending"

var (
	// ErrInFlight another request with the same key has not finished yet
	ErrInFlight = errors.New("request with this idempotency key is in progress")
)

// Store claim -> complete | release
type Store interface {
	// Claim reserves the key. When the key already completed it returns the
	// stored result and claimed=false; when it is still pending it returns
	// ErrInFlight.
	Claim(ctx context.Context, key string) (result string, claimed bool, err error)
	// Complete stores the result for a claimed key.
	Complete(ctx context.Context, key, result string) error
	// Release forgets a claimed key so the request can be retried.
	Release(ctx context.Context, key string) error
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore in-process реализация для dev и тестов
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, keys: make(map[string]memoryEntry)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Claim(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.keys[key]; ok && m.now().Before(e.expires) {
		if e.value == pending {
			return "", false, ErrInFlight
		}
		return e.value, false, nil
	}
	m.keys[key] = memoryEntry{value: pending, expires: m.now().Add(m.ttl)}
	return "", true, nil
}

func (m *MemoryStore) Complete(_ context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = memoryEntry{value: result, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
