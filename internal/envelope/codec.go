// Package envelope seals message bodies into self-contained AES-256-GCM
// envelopes and opens them again.
//
// An envelope is the standard base64 encoding of nonce || ciphertext || tag,
// with a 12-byte nonce and a 16-byte tag. Associated data is always empty, so
// an envelope is not bound to the channel or sender it was written for.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM standard nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
	// MinSize is the length of an envelope sealing an empty plaintext.
	MinSize = NonceSize + TagSize
)

// Codec holds the process key. It is safe for concurrent use; the key is
// fixed at construction and never leaves the AEAD.
type Codec struct {
	aead   cipher.AEAD
	random io.Reader
}

// Generate creates a Codec with a fresh key drawn from crypto/rand.
func Generate() (*Codec, error) {
	return New(rand.Reader)
}

// New creates a Codec whose key and nonces are drawn from random.
func New(random io.Reader) (*Codec, error) {
	if random == nil {
		return nil, newFault(KindEncryption, errors.New("nil random source"))
	}

	key := make([]byte, KeySize)
	defer zero(key)
	if _, err := io.ReadFull(random, key); err != nil {
		return nil, newFault(KindEncryption, fmt.Errorf("read key: %w", err))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newFault(KindEncryption, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newFault(KindEncryption, err)
	}

	return &Codec{aead: aead, random: random}, nil
}

// Encrypt seals text under a fresh nonce and returns the base64 envelope.
func (c *Codec) Encrypt(text string) (string, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(text)+TagSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", newFault(KindEncryption, fmt.Errorf("read nonce: %w", err))
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt under the same key.
func (c *Codec) Decrypt(env string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		return "", newFault(KindInvalidData, err)
	}
	if len(data) < MinSize {
		return "", newFault(KindInvalidData, fmt.Errorf("envelope is %d bytes, need at least %d", len(data), MinSize))
	}

	plain, err := c.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", newFault(KindDecryption, err)
	}
	if !utf8.Valid(plain) {
		return "", newFault(KindEncoding, nil)
	}
	return string(plain), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
