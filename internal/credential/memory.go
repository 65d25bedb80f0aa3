package credential

import "sync"

// MemoryKV is an in-process KV for tests and ephemeral runs.
type MemoryKV struct {
	mu    sync.RWMutex
	store map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		store: make(map[string]string),
	}
}

func (m *MemoryKV) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.store[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
