// Package encryption provides the AEAD ciphers used to protect cassettes at rest.
package encryption

import (
	"crypto/cipher"
	"fmt"

	"github.com/pkg/errors"

	cryptoerr "github.com/seborama/scenevcr/encryption/errors"
)

// Crypter contains the AEAD cipher to use for encryption and decryption.
type Crypter struct {
	aead           cipher.AEAD
	nonceGenerator NonceGenerator
	kind           string
}

// NonceGenerator defines the behaviour of a Nonce Generator type.
type NonceGenerator interface {
	Generate() ([]byte, error)
}

// NewCrypter creates a new initialised Crypter.
func NewCrypter(aead cipher.AEAD, kind string, nonceGenerator NonceGenerator) *Crypter {
	return &Crypter{
		aead:           aead,
		kind:           kind,
		nonceGenerator: nonceGenerator,
	}
}

// Kind returns the name of the cipher, e.g. "aesgcm".
func (c Crypter) Kind() string {
	return c.kind
}

// Encrypt performs the encryption of the provided plaintext with the key
// associated with this Crypter.
// The nonce is generated from c.nonceGenerator and must be stored alongside
// the ciphertext: it is not sensitive.
func (c Crypter) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce, err = c.nonceGenerator.Generate()
	if err != nil {
		return nil, nil, errors.Wrap(err, "nonce")
	}

	if len(nonce) != c.aead.NonceSize() {
		return nil, nil, errors.Errorf("nonce size is %d, cipher requires %d", len(nonce), c.aead.NonceSize())
	}

	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// Decrypt performs the decryption of the provided ciphertext with the key
// associated with this Crypter and the supplied nonce. This must be the same
// nonce that was used to encrypt the ciphertext.
func (c Crypter) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, cryptoerr.NewErrCrypto(fmt.Sprintf("nonce size is %d, %s requires %d", len(nonce), c.kind, c.aead.NonceSize()))
	}

	text, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return text, nil
}
