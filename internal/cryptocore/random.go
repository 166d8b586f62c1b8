package cryptocore

import (
	"crypto/rand"
	"io"
	"sync"
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader but keeps the type unexported so tests can
// substitute deterministic sources.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseDeterministicRandom swaps the randomness source for deterministic testing
// and returns a restore function that must be called when the test completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

// Random returns the active randomness source. RSA-OAEP padding draws from it
// as well, so a deterministic source makes whole envelopes reproducible.
func Random() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randomnessSrc
}

func readRandom(b []byte) error {
	_, err := io.ReadFull(Random(), b)
	return err
}

var _ io.Reader = randReader{}
