package storage

import (
	"context"
	"sync"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps the credential in process memory only
type MemoryBackend struct {
	mu    sync.RWMutex
	value string
	set   bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return "", ErrNotFound
	}
	return m.value, nil
}

func (m *MemoryBackend) Put(_ context.Context, value string) error {
	m.mu.Lock()
	m.value, m.set = value, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context) error {
	m.mu.Lock()
	m.value, m.set = "", false
	m.mu.Unlock()
	return nil
}
