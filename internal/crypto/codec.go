// Package crypto implements the stream cipher applied to an established
// connection and the RSA key exchange that agrees on its shared secret.
//
// The wire cipher is AES-128 in 8-bit cipher feedback mode (CFB8), keyed and
// initialized with the same 16-byte shared secret. It is unauthenticated:
// a dropped, duplicated or reordered byte silently corrupts every byte that
// follows, and nothing here detects it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/Tnze/go-mc/net/CFB8"
)

// SharedSecretSize is the size of the secret agreed during login.
const SharedSecretSize = 16

var (
	ErrSecretSize          = errors.New("crypto: shared secret must be 16 bytes")
	ErrVerifyTokenMismatch = errors.New("crypto: verify token mismatch")
)

// Codec is one direction of an encrypted connection. A read codec decrypts
// and a write codec encrypts; both transform p in place and advance their
// feedback register, so every byte of the stream must pass through exactly
// once, in wire order.
//
// A Codec is not safe for concurrent use; the transport reader and writer
// each own their own instance.
type Codec struct {
	stream  cipher.Stream
	decrypt bool
}

// NewCodecs returns the read and write codecs for a connection. Both start
// from the same register but advance independently.
func NewCodecs(secret []byte) (read, write *Codec, err error) {
	if len(secret) != SharedSecretSize {
		return nil, nil, fmt.Errorf("%w: got %d", ErrSecretSize, len(secret))
	}
	read, err = newCodec(secret, secret, true)
	if err != nil {
		return nil, nil, fmt.Errorf("creating read codec: %w", err)
	}
	write, err = newCodec(secret, secret, false)
	if err != nil {
		return nil, nil, fmt.Errorf("creating write codec: %w", err)
	}
	return read, write, nil
}

// CodecsFromResponse checks the verify token echoed by the client against the
// one the server sent before trusting secret.
func CodecsFromResponse(responseToken, secret, expectedToken []byte) (read, write *Codec, err error) {
	if len(responseToken) != len(expectedToken) || subtle.ConstantTimeCompare(responseToken, expectedToken) != 1 {
		return nil, nil, ErrVerifyTokenMismatch
	}
	return NewCodecs(secret)
}

func newCodec(key, iv []byte, decrypt bool) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if decrypt {
		return &Codec{stream: CFB8.NewCFB8Decrypt(block, iv), decrypt: true}, nil
	}
	return &Codec{stream: CFB8.NewCFB8Encrypt(block, iv)}, nil
}

// Encrypt encrypts p in place. It panics on a read codec.
func (c *Codec) Encrypt(p []byte) {
	if c.decrypt {
		panic("crypto: Encrypt on a read codec")
	}
	c.stream.XORKeyStream(p, p)
}

// Decrypt decrypts p in place. It panics on a write codec.
func (c *Codec) Decrypt(p []byte) {
	if !c.decrypt {
		panic("crypto: Decrypt on a write codec")
	}
	c.stream.XORKeyStream(p, p)
}
