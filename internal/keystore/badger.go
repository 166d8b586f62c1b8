package keystore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/argon2"
)

const (
	saltFile   = "salt"
	saltSize   = 16
	keyPrefix  = "privkey/"
	indexCache = 16 << 20
)

// BadgerPrivateStore keeps PKCS#8-encoded private keys in a badger database
// encrypted at rest with a key derived from a passphrase.
type BadgerPrivateStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store under dir. The badger data lives in
// dir/db and the argon2id salt in dir/salt.
func OpenBadger(dir, passphrase string) (*BadgerPrivateStore, error) {
	if passphrase == "" {
		return nil, errors.New("keystore: passphrase required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}
	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}
	encKey := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)

	opts := badger.DefaultOptions(filepath.Join(dir, "db")).
		WithEncryptionKey(encKey).
		WithIndexCacheSize(indexCache).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("keystore: open badger: %w", err)
	}
	return &BadgerPrivateStore{db: db}, nil
}

// OpenBadgerInMemory opens an unencrypted in-memory store.
func OpenBadgerInMemory() (*BadgerPrivateStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("keystore: open badger: %w", err)
	}
	return &BadgerPrivateStore{db: db}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("keystore: corrupt salt file %s", path)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("keystore: read salt: %w", err)
	}
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("keystore: write salt: %w", err)
	}
	return salt, nil
}

func (b *BadgerPrivateStore) Save(_ context.Context, userID string, key *rsa.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("%w: nil private key", ErrInvalidKeyFormat)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("keystore: marshal private key: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+userID), der)
	})
}

func (b *BadgerPrivateStore) Load(_ context.Context, userID string) (*rsa.PrivateKey, error) {
	var der []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + userID))
		if err != nil {
			return err
		}
		der, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: load private key: %w", err)
	}
	return parsePrivateDER(der)
}

func (b *BadgerPrivateStore) Delete(_ context.Context, userID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + userID))
	})
}

func (b *BadgerPrivateStore) Close() error {
	return b.db.Close()
}
