package tenancy

import "sync"

// ActiveTenantKey is the pointer store key holding the device's active tenant
const ActiveTenantKey = "tenancy.active_tenant"

// MemoryPointerStore is a process local PointerStore
type MemoryPointerStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryPointerStore creates an empty store
func NewMemoryPointerStore() *MemoryPointerStore {
	return &MemoryPointerStore{values: map[string]string{}}
}

func (m *MemoryPointerStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryPointerStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryPointerStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
