package cryptocore

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"

	"pgregory.net/rapid"
)

var (
	testKeysOnce sync.Once
	testKeyA     *rsa.PrivateKey
	testKeyB     *rsa.PrivateKey
)

func testKeys(t testing.TB) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		if testKeyA, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if testKeyB, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return testKeyA, testKeyB
}

func TestSymmetricRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		plaintext := rapid.SliceOf(rapid.Byte()).Draw(t, "plaintext")
		key, err := NewContentKey()
		if err != nil {
			t.Fatalf("NewContentKey: %v", err)
		}
		sealed, err := EncryptSymmetric(plaintext, key)
		if err != nil {
			t.Fatalf("EncryptSymmetric: %v", err)
		}
		if len(sealed.IV) != IVSize || len(sealed.AuthTag) != TagSize {
			t.Fatalf("unexpected iv/tag sizes: %d/%d", len(sealed.IV), len(sealed.AuthTag))
		}
		got, err := DecryptSymmetric(sealed, key)
		if err != nil {
			t.Fatalf("DecryptSymmetric: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestSymmetricTamperDetected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		plaintext := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(t, "plaintext")
		key, err := NewContentKey()
		if err != nil {
			t.Fatalf("NewContentKey: %v", err)
		}
		sealed, err := EncryptSymmetric(plaintext, key)
		if err != nil {
			t.Fatalf("EncryptSymmetric: %v", err)
		}
		fields := [][]byte{sealed.Ciphertext, sealed.IV, sealed.AuthTag}
		target := fields[rapid.IntRange(0, len(fields)-1).Draw(t, "field")]
		idx := rapid.IntRange(0, len(target)-1).Draw(t, "index")
		bit := rapid.IntRange(0, 7).Draw(t, "bit")
		target[idx] ^= 1 << uint(bit)

		got, err := DecryptSymmetric(sealed, key)
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
		}
		if got != nil {
			t.Fatalf("tampered decrypt returned plaintext")
		}
	})
}

func TestDecryptWithWrongKey(t *testing.T) {
	key, _ := NewContentKey()
	other, _ := NewContentKey()
	sealed, err := EncryptSymmetric([]byte("hello"), key)
	if err != nil {
		t.Fatalf("EncryptSymmetric: %v", err)
	}
	if _, err := DecryptSymmetric(sealed, other); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestInvalidKeySize(t *testing.T) {
	if _, err := EncryptSymmetric([]byte("x"), make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
	alice, _ := testKeys(t)
	pub := &alice.PublicKey
	if _, err := WrapKey(make([]byte, 31), pub); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize from WrapKey, got %v", err)
	}
}

func TestWrapUnwrap(t *testing.T) {
	alice, bob := testKeys(t)
	key, _ := NewContentKey()
	wrapped, err := WrapKey(key, &alice.PublicKey)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	got, err := UnwrapKey(wrapped, alice)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("unwrapped key mismatch")
	}
	if _, err := UnwrapKey(wrapped, bob); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed for wrong key, got %v", err)
	}
	wrapped[len(wrapped)/2] ^= 0x40
	if _, err := UnwrapKey(wrapped, alice); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed for corrupted key, got %v", err)
	}
}

func TestUnwrapRejectsShortKey(t *testing.T) {
	alice, _ := testKeys(t)
	// Wrap 16 bytes directly so WrapKey's size check is bypassed.
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &alice.PublicKey, make([]byte, 16), nil)
	if err != nil {
		t.Fatalf("EncryptOAEP: %v", err)
	}
	if _, err := UnwrapKey(wrapped, alice); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestOpenEnvelope(t *testing.T) {
	alice, bob := testKeys(t)
	key, _ := NewContentKey()
	sealed, err := EncryptSymmetric([]byte("Hello Bob"), key)
	if err != nil {
		t.Fatalf("EncryptSymmetric: %v", err)
	}
	content, err := sealed.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wrapped, err := WrapKey(key, &bob.PublicKey)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}

	got, err := OpenEnvelope(content, EncodeWrappedKey(wrapped), bob)
	if err != nil {
		t.Fatalf("OpenEnvelope: %v", err)
	}
	if string(got) != "Hello Bob" {
		t.Fatalf("got %q", got)
	}
	if _, err := OpenEnvelope(content, EncodeWrappedKey(wrapped), alice); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}
	if _, err := OpenEnvelope("not json", EncodeWrappedKey(wrapped), bob); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
	if _, err := OpenEnvelope(content, "%%%", bob); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope for wrapped key, got %v", err)
	}
}

func TestDeterministicRandom(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 64)
	key := bytes.Repeat([]byte{0x07}, KeySize)

	restore := UseDeterministicRandom(bytes.NewReader(seed))
	first, err := EncryptSymmetric([]byte("same"), key)
	restore()
	if err != nil {
		t.Fatalf("EncryptSymmetric: %v", err)
	}
	restore = UseDeterministicRandom(bytes.NewReader(seed))
	second, err := EncryptSymmetric([]byte("same"), key)
	restore()
	if err != nil {
		t.Fatalf("EncryptSymmetric: %v", err)
	}
	if !bytes.Equal(first.IV, second.IV) || !bytes.Equal(first.Ciphertext, second.Ciphertext) {
		t.Fatalf("deterministic source produced different output")
	}
}
