package imagestore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process Store for tests and the CLI.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	BaseURL string
}

func NewMemory(baseURL string) *Memory {
	return &Memory{objects: map[string][]byte{}, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = slices.Clone(data)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.DeleteFunc(m.objects, func(k string, _ []byte) bool { return strings.HasPrefix(k, prefix) })
	return nil
}

func (m *Memory) PublicURL(key string) string { return m.BaseURL + "/" + key }

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.objects))
}
