package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store. SetFailure makes every call fail, which is
// how callers simulate a storage outage.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]string
	failure error
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failure != nil {
		return "", false, unavailable("memory get", m.failure)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failure != nil {
		return nil, unavailable("memory get", m.failure)
	}
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return unavailable("memory set", m.failure)
	}
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return unavailable("memory delete", m.failure)
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) DeleteIf(_ context.Context, guardKey, guardValue string, keys ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failure != nil {
		return false, unavailable("memory delete", m.failure)
	}
	if m.data[guardKey] != guardValue {
		return false, nil
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return true, nil
}

// Snapshot returns a copy of the stored keys and values.
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
