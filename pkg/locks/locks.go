// Package locks provides per-key mutual exclusion for session-scoped calls.
package locks

import "sync"

// Manager hands out one mutex per key. Callers on the same key serialize;
// callers on different keys never block each other. The map itself is guarded
// by its own lock, independent of the per-key mutexes.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*sync.Mutex)}
}

// Acquire returns the mutex for key, creating it on first use. The same key
// always yields the same mutex until Release removes it.
func (m *Manager) Acquire(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Release drops the mutex for key. It does not unlock a held mutex, it only
// removes the registry entry; callers release on session teardown.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
}

// Count returns the number of registered keys.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
