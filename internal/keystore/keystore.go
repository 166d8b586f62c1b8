package keystore

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
)

// PrivateKeyStore persists private keys on the owning client. Load returns
// (nil, nil) when the user has no stored key.
type PrivateKeyStore interface {
	Save(ctx context.Context, userID string, key *rsa.PrivateKey) error
	Load(ctx context.Context, userID string) (*rsa.PrivateKey, error)
	Delete(ctx context.Context, userID string) error
}

// PublicKeyCache memoizes PEM imports. Entries are never evicted; the key
// space is bounded by the number of users a process talks to.
type PublicKeyCache struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

func NewPublicKeyCache() *PublicKeyCache {
	return &PublicKeyCache{keys: make(map[string]*rsa.PublicKey)}
}

func (c *PublicKeyCache) Get(encoded string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	pub, ok := c.keys[encoded]
	c.mu.RUnlock()
	if ok {
		return pub, nil
	}
	pub, err := ImportPublic(encoded)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.keys[encoded] = pub
	c.mu.Unlock()
	return pub, nil
}

func (c *PublicKeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// KeyStore bundles the public-key cache with private-key persistence.
type KeyStore struct {
	public  *PublicKeyCache
	private PrivateKeyStore

	mu     sync.Mutex
	loaded map[string]*rsa.PrivateKey
}

// New returns a KeyStore. private may be nil on the server, which never holds
// private keys.
func New(private PrivateKeyStore) *KeyStore {
	return &KeyStore{
		public:  NewPublicKeyCache(),
		private: private,
		loaded:  make(map[string]*rsa.PrivateKey),
	}
}

func (k *KeyStore) PublicKey(encoded string) (*rsa.PublicKey, error) {
	return k.public.Get(encoded)
}

func (k *KeyStore) PersistPrivate(ctx context.Context, userID string, key *rsa.PrivateKey) error {
	if k.private == nil {
		return errNoPrivateStore
	}
	if key == nil {
		return fmt.Errorf("%w: nil private key", ErrInvalidKeyFormat)
	}
	if err := k.private.Save(ctx, userID, key); err != nil {
		return err
	}
	k.mu.Lock()
	k.loaded[userID] = key
	k.mu.Unlock()
	return nil
}

func (k *KeyStore) LoadPrivate(ctx context.Context, userID string) (*rsa.PrivateKey, error) {
	k.mu.Lock()
	key, ok := k.loaded[userID]
	k.mu.Unlock()
	if ok {
		return key, nil
	}
	if k.private == nil {
		return nil, nil
	}
	key, err := k.private.Load(ctx, userID)
	if err != nil || key == nil {
		return nil, err
	}
	k.mu.Lock()
	k.loaded[userID] = key
	k.mu.Unlock()
	return key, nil
}

func (k *KeyStore) DeletePrivate(ctx context.Context, userID string) error {
	k.mu.Lock()
	delete(k.loaded, userID)
	k.mu.Unlock()
	if k.private == nil {
		return nil
	}
	return k.private.Delete(ctx, userID)
}
