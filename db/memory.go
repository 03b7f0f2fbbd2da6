package db

import (
	"context"
	"sync"

	"github.com/brettboylen/mischief-tracker/models"
)

// MemoryHistory is a process-local history store, used when no database is configured
type MemoryHistory struct {
	mutex  sync.RWMutex
	seen   map[string]map[string]bool
	claims map[string][]models.Claim
}

// NewMemoryHistory creates an empty in-memory history
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		seen:   make(map[string]map[string]bool),
		claims: make(map[string][]models.Claim),
	}
}

// Exists reports whether source has already recorded identity
func (m *MemoryHistory) Exists(_ context.Context, source, identity string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.seen[source][identity], nil
}

// InsertIfAbsent records a claim unless source already has identity
func (m *MemoryHistory) InsertIfAbsent(_ context.Context, source, identity string, claim models.Claim) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids, ok := m.seen[source]
	if !ok {
		ids = make(map[string]bool)
		m.seen[source] = ids
	}
	if ids[identity] {
		return false, nil
	}

	ids[identity] = true
	m.claims[source] = append(m.claims[source], claim)
	return true, nil
}

// Claims returns a copy of source's claims, oldest first
func (m *MemoryHistory) Claims(_ context.Context, source string) ([]models.Claim, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	claims := make([]models.Claim, len(m.claims[source]))
	copy(claims, m.claims[source])
	return claims, nil
}
