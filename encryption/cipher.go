package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	cryptoerr "github.com/seborama/scenevcr/encryption/errors"
)

// Cipher names an AEAD cipher. The name is written in the header of encrypted cassettes.
type Cipher string

const (
	// AESGCM is AES-GCM with a 16 byte (AES-128) or 32 byte (AES-256) key.
	AESGCM Cipher = "aesgcm"

	// ChaCha20Poly1305 is XChaCha20-Poly1305 with a 32 byte key.
	ChaCha20Poly1305 Cipher = "chacha20poly1305"
)

// Ciphers lists the supported ciphers.
var Ciphers = []Cipher{AESGCM, ChaCha20Poly1305}

// ParseCipher returns the Cipher called name.
func ParseCipher(name string) (Cipher, error) {
	for _, c := range Ciphers {
		if string(c) == name {
			return c, nil
		}
	}

	return "", cryptoerr.NewErrCrypto(fmt.Sprintf("unknown cipher '%s'", name))
}

// Option configures a Crypter.
type Option func(*options)

type options struct {
	nonceGenerator NonceGenerator
}

// WithNonceGenerator replaces the random nonce generator.
// The generator is sampled on creation and rejected when it fails or repeats itself.
func WithNonceGenerator(ng NonceGenerator) Option {
	return func(o *options) {
		o.nonceGenerator = ng
	}
}

// New creates a Crypter for cipher c keyed with key.
// The key is sensitive: keep it out of the cassettes' repository.
func New(c Cipher, key []byte, opts ...Option) (*Crypter, error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, err
	}

	o := options{nonceGenerator: newRandomNonces(aead.NonceSize())}
	for _, opt := range opts {
		opt(&o)
	}

	if err = sampleNonces(o.nonceGenerator, aead.NonceSize()); err != nil {
		return nil, errors.Wrapf(err, "%s nonce generator", c)
	}

	return NewCrypter(aead, string(c), o.nonceGenerator), nil
}

func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	switch c {
	case AESGCM:
		if len(key) != 16 && len(key) != 32 {
			return nil, cryptoerr.NewErrCrypto(fmt.Sprintf("%s key size is %d bytes, not 16 or 32", c, len(key)))
		}

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		aead, err := cipher.NewGCM(block)
		return aead, errors.WithStack(err)

	case ChaCha20Poly1305:
		if len(key) != chacha20poly1305.KeySize {
			return nil, cryptoerr.NewErrCrypto(fmt.Sprintf("%s key size is %d bytes, not %d", c, len(key), chacha20poly1305.KeySize))
		}

		aead, err := chacha20poly1305.NewX(key)
		return aead, errors.WithStack(err)

	default:
		return nil, cryptoerr.NewErrCrypto(fmt.Sprintf("unknown cipher '%s'", c))
	}
}
