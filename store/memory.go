// Package store provides KeyValueStore backends for ocrsched.
//
// The in-memory store suits single-process use and tests; the redis and
// postgres subpackages (separate modules, to keep this module's dependency
// surface small) provide durable, multi-process backends.
package store

import (
	"context"
	"sync"

	"github.com/scandesk/ocrsched"
)

// Memory is an in-memory KeyValueStore. Contents are lost on restart, which
// matches what the scheduler expects from an absent durable store: quota and
// cache degrade gracefully.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ ocrsched.KeyValueStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
