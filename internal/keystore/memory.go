package keystore

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
)

var errNoPrivateStore = errors.New("keystore: no private key store configured")

// MemoryPrivateStore keeps keys in process memory.
type MemoryPrivateStore struct {
	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
}

func NewMemoryPrivateStore() *MemoryPrivateStore {
	return &MemoryPrivateStore{keys: make(map[string]*rsa.PrivateKey)}
}

func (m *MemoryPrivateStore) Save(_ context.Context, userID string, key *rsa.PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[userID] = key
	return nil
}

func (m *MemoryPrivateStore) Load(_ context.Context, userID string) (*rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[userID], nil
}

func (m *MemoryPrivateStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, userID)
	return nil
}
