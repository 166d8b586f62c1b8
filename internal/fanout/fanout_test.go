package fanout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"e2ee-chat/internal/cryptocore"
	"e2ee-chat/internal/keystore"
)

type party struct {
	kp  *keystore.Keypair
	pem string
}

func newParty(t *testing.T) party {
	t.Helper()
	kp, err := keystore.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	pem, err := keystore.ExportPublic(kp.Public)
	if err != nil {
		t.Fatalf("ExportPublic: %v", err)
	}
	return party{kp: kp, pem: pem}
}

func TestEncryptForRecipients(t *testing.T) {
	alice, bob, carol := newParty(t), newParty(t), newParty(t)
	enc := NewEncryptor(keystore.New(nil), 2)

	recipients := []Recipient{
		{ID: "alice", PublicKey: alice.pem},
		{ID: "bob", PublicKey: bob.pem},
		{ID: "carol", PublicKey: carol.pem},
	}
	envs, err := enc.EncryptForRecipients(context.Background(), []byte("group hello"), recipients)
	if err != nil {
		t.Fatalf("EncryptForRecipients: %v", err)
	}
	if len(envs) != len(recipients) {
		t.Fatalf("got %d envelopes want %d", len(envs), len(recipients))
	}
	keys := map[string]party{"alice": alice, "bob": bob, "carol": carol}
	for i, env := range envs {
		if env.RecipientID != recipients[i].ID {
			t.Fatalf("envelope %d recipient %s want %s", i, env.RecipientID, recipients[i].ID)
		}
		if env.WrappedContent != envs[0].WrappedContent {
			t.Fatalf("content must be shared across envelopes")
		}
		got, err := cryptocore.OpenEnvelope(env.WrappedContent, env.WrappedKey, keys[env.RecipientID].kp.Private)
		if err != nil {
			t.Fatalf("OpenEnvelope(%s): %v", env.RecipientID, err)
		}
		if string(got) != "group hello" {
			t.Fatalf("plaintext mismatch for %s: %q", env.RecipientID, got)
		}
	}

	// Key isolation: bob's envelope does not open with carol's key.
	if _, err := cryptocore.OpenEnvelope(envs[1].WrappedContent, envs[1].WrappedKey, carol.kp.Private); !errors.Is(err, cryptocore.ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestEncryptForRecipientsAllOrNothing(t *testing.T) {
	alice := newParty(t)
	enc := NewEncryptor(keystore.New(nil), 0)

	cases := map[string][]Recipient{
		"empty":     nil,
		"malformed": {{ID: "alice", PublicKey: alice.pem}, {ID: "mallory", PublicKey: "garbage"}},
		"duplicate": {{ID: "alice", PublicKey: alice.pem}, {ID: "alice", PublicKey: alice.pem}},
		"no id":     {{PublicKey: alice.pem}},
	}
	for name, recipients := range cases {
		t.Run(name, func(t *testing.T) {
			envs, err := enc.EncryptForRecipients(context.Background(), []byte("x"), recipients)
			if !errors.Is(err, ErrFanoutEncryptionFailed) {
				t.Fatalf("expected ErrFanoutEncryptionFailed, got %v", err)
			}
			if envs != nil {
				t.Fatalf("expected nil envelopes on failure, got %d", len(envs))
			}
		})
	}
}

func TestEncryptForRecipientsMalformedKeyNamesRecipient(t *testing.T) {
	alice := newParty(t)
	enc := NewEncryptor(keystore.New(nil), 1)
	_, err := enc.EncryptForRecipients(context.Background(), []byte("x"), []Recipient{
		{ID: "alice", PublicKey: alice.pem},
		{ID: "mallory", PublicKey: "garbage"},
	})
	if !errors.Is(err, keystore.ErrInvalidKeyFormat) {
		t.Fatalf("expected wrapped ErrInvalidKeyFormat, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "mallory") {
		t.Fatalf("error should name recipient: %s", got)
	}
}

func TestEncryptForRecipientsCanceled(t *testing.T) {
	alice := newParty(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	enc := NewEncryptor(keystore.New(nil), 1)
	envs, err := enc.EncryptForRecipients(ctx, []byte("x"), []Recipient{{ID: "alice", PublicKey: alice.pem}})
	if !errors.Is(err, ErrFanoutEncryptionFailed) || envs != nil {
		t.Fatalf("expected failure on canceled context, got %v (%d envelopes)", err, len(envs))
	}
}
