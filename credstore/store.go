package credstore

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreUnavailable wraps backend failures.
var ErrStoreUnavailable = errors.New("credential store unavailable")

// Logical key names.
const (
	KeyToken       = "auth.token"
	KeyUsername    = "auth.username"
	KeyPassword    = "auth.password"
	KeyUserProfile = "auth.userProfile"
	KeyThemeMode   = "ui.themeMode"
)

// AuthKeys is the credential set cleared as a unit.
var AuthKeys = []string{KeyToken, KeyUsername, KeyPassword, KeyUserProfile}

// Store is a string key-value capability. Get reports absence with ok=false.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Prefixed namespaces every key of inner with prefix + ".".
func Prefixed(inner Store, prefix string) Store {
	if prefix == "" {
		return inner
	}
	return &prefixedStore{inner: inner, prefix: prefix + "."}
}

type prefixedStore struct {
	inner  Store
	prefix string
}

func (p *prefixedStore) Get(ctx context.Context, key string) (string, bool, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixedStore) Set(ctx context.Context, key, value string) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixedStore) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	return p.inner.Delete(ctx, full...)
}
