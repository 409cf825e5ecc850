package vesting

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// MemorySignatureRegistry is an in-process SignatureRegistry. Entries are
// kept forever; expiry alone already rejects a stale signature but a
// consumed one must stay rejected.
type MemorySignatureRegistry struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemorySignatureRegistry creates an empty registry.
func NewMemorySignatureRegistry() *MemorySignatureRegistry {
	return &MemorySignatureRegistry{used: make(map[string]time.Time)}
}

// Consume records key or fails with ErrSignatureReplayed.
func (m *MemorySignatureRegistry) Consume(_ context.Context, key string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.used[key]; ok {
		return domain.ErrSignatureReplayed
	}
	m.used[key] = expiresAt
	return nil
}

// Release forgets key.
func (m *MemorySignatureRegistry) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.used, key)
	return nil
}

// Len returns the number of consumed signatures.
func (m *MemorySignatureRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}
