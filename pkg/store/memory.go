package store

import (
	"sync"
)

// Memory is an in-memory KV used by tests and by callers that need a
// degraded, non-durable medium. Failure injection knobs simulate an
// unavailable or full medium.
type Memory struct {
	mu        sync.RWMutex
	data      map[string]string
	available bool

	// FailProbe makes the next Probe report unavailable.
	FailProbe bool
	// FailSaves makes every Save fail without touching availability.
	FailSaves bool
	// QuotaOnSave makes the next Save fail as quota exhaustion, which
	// disables the store for the rest of the session.
	QuotaOnSave bool
}

// NewMemory returns an empty in-memory store, already available.
func NewMemory() *Memory {
	return &Memory{
		data:      make(map[string]string),
		available: true,
	}
}

// Probe records availability according to the FailProbe knob.
func (m *Memory) Probe() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = !m.FailProbe
	return m.available
}

// Available reports the availability flag.
func (m *Memory) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// Load returns the value for key if present and the store is available.
func (m *Memory) Load(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.available {
		return "", false
	}
	value, ok := m.data[key]
	return value, ok
}

// Save stores value under key, honoring the failure injection knobs.
func (m *Memory) Save(key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available || m.FailSaves {
		return false
	}
	if m.QuotaOnSave {
		m.QuotaOnSave = false
		m.available = false
		return false
	}
	m.data[key] = value
	return true
}

// Remove deletes key.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return
	}
	delete(m.data, key)
}

// Len reports the number of stored keys, for test assertions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
