package testutil

import (
	"crypto/sha256"
	"io"
	"math/rand/v2"
)

// DeterministicReader returns a reader producing the same byte stream for
// the same seed. Pass it where key generation accepts an io.Reader to get
// reproducible key material. Never use it outside tests.
func DeterministicReader(seed string) io.Reader {
	return rand.NewChaCha8(sha256.Sum256([]byte(seed)))
}
