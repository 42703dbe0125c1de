// Package cipher provides authenticated symmetric encryption of event state.
// Implementations register a constructor under a topic so they can be selected
// by configuration together with a key.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// DefaultKeySize is the number of random bytes NewDefaultKey returns
const DefaultKeySize = 32

// ErrAuthentication when a ciphertext fails authentication, the record was
// tampered with or the key is wrong
var ErrAuthentication = errors.New("message authentication failed")

// Cipher is the authenticated encryption contract. The ciphertext embeds
// everything needed to reverse it with the same key, including nonce and
// authentication tag.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Constructor builds a cipher from a key
type Constructor func(key []byte) (Cipher, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a cipher constructor selectable under the given topic
func Register(topic string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[topic] = c
}

// Lookup resolves a topic and constructs the cipher with the key
func Lookup(topic string, key []byte) (Cipher, error) {
	registryMu.RLock()
	c, ok := registry[topic]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no cipher registered for topic %q", topic)
	}
	return c(key)
}

func init() {
	Register("cipher:aesgcm", func(key []byte) (Cipher, error) {
		return NewAESGCM(key)
	})
}

// NewKey returns n cryptographically random bytes
func NewKey(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewDefaultKey returns a random key of the default size
func NewDefaultKey() ([]byte, error) {
	return NewKey(DefaultKeySize)
}

// AESGCM encrypts with AES in Galois/Counter Mode. The random nonce is
// prefixed to the sealed ciphertext.
type AESGCM struct {
	aead stdcipher.AEAD
}

// NewAESGCM returns an AESGCM cipher, the key must be 16, 24 or 32 bytes
func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce
func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt
func (c *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, ErrAuthentication
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
