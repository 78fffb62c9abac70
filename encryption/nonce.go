package encryption

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
)

// randomNonces reads nonces from crypto/rand.
// With a 12 byte nonce (AES-GCM), a key must not seal more than 2^32 cassettes.
type randomNonces int

func newRandomNonces(size int) randomNonces {
	return randomNonces(size)
}

func (size randomNonces) Generate() ([]byte, error) {
	nonce := make([]byte, size)

	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "read random nonce")
	}

	return nonce, nil
}

const nonceSamples = 8

// sampleNonces draws a few nonces from ng and rejects a generator that fails, returns
// nonces of the wrong size or repeats itself.
func sampleNonces(ng NonceGenerator, size int) error {
	seen := make(map[string]struct{}, nonceSamples)

	for i := 0; i < nonceSamples; i++ {
		nonce, err := ng.Generate()
		if err != nil {
			return errors.Wrap(err, "generate")
		}

		if len(nonce) != size {
			return errors.Errorf("nonce size is %d, cipher requires %d", len(nonce), size)
		}

		if _, dup := seen[string(nonce)]; dup {
			return errors.Errorf("repeated nonce after %d samples", i+1)
		}
		seen[string(nonce)] = struct{}{}
	}

	return nil
}
