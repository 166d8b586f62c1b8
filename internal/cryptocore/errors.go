package cryptocore

import "errors"

var (
	ErrInvalidKeySize       = errors.New("cryptocore: invalid symmetric key size")
	ErrAuthenticationFailed = errors.New("cryptocore: message authentication failed")
	ErrUnwrapFailed         = errors.New("cryptocore: key unwrap failed")
	ErrMalformedEnvelope    = errors.New("cryptocore: malformed envelope")
)
