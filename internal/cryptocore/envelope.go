package cryptocore

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type wireSealed struct {
	Ciphertext string `json:"ct"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// Encode renders the sealed content in the form stored as an envelope's
// wrapped content.
func (s *Sealed) Encode() (string, error) {
	if s == nil {
		return "", ErrMalformedEnvelope
	}
	data, err := json.Marshal(wireSealed{
		Ciphertext: base64.StdEncoding.EncodeToString(s.Ciphertext),
		IV:         base64.StdEncoding.EncodeToString(s.IV),
		Tag:        base64.StdEncoding.EncodeToString(s.AuthTag),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSealed parses wrapped content produced by Encode. It checks structure
// only; authenticity is established by DecryptSymmetric.
func DecodeSealed(raw string) (*Sealed, error) {
	var w wireSealed
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	ct, err := base64.StdEncoding.DecodeString(w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}
	iv, err := base64.StdEncoding.DecodeString(w.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}
	tag, err := base64.StdEncoding.DecodeString(w.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrMalformedEnvelope, err)
	}
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, fmt.Errorf("%w: iv/tag length", ErrMalformedEnvelope)
	}
	return &Sealed{Ciphertext: ct, IV: iv, AuthTag: tag}, nil
}

func EncodeWrappedKey(wrapped []byte) string {
	return base64.StdEncoding.EncodeToString(wrapped)
}

func DecodeWrappedKey(raw string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("%w: wrapped key", ErrMalformedEnvelope)
	}
	return b, nil
}

// OpenEnvelope unwraps the content key with priv and decrypts the content.
func OpenEnvelope(wrappedContent, wrappedKey string, priv *rsa.PrivateKey) ([]byte, error) {
	sealed, err := DecodeSealed(wrappedContent)
	if err != nil {
		return nil, err
	}
	wk, err := DecodeWrappedKey(wrappedKey)
	if err != nil {
		return nil, err
	}
	key, err := UnwrapKey(wk, priv)
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return DecryptSymmetric(sealed, key)
}
