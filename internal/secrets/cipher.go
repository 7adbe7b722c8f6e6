// ABOUTME: Authenticated encryption for settings stored in the database
// ABOUTME: XChaCha20-Poly1305 with a key derived from the configured secret via HKDF

package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when a value was not produced by this key or was tampered with.
var ErrDecrypt = errors.New("secrets: decryption failed")

const keyInfo = "nursery-gateway settings v1"

// Cipher seals and opens values with a fixed key. It is safe for concurrent use.
type Cipher struct {
	aead interface {
		NonceSize() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewCipher derives an encryption key from secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("secrets: empty encryption key")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext, binding it to label so a value cannot be moved to
// another setting. The result is base64 text.
func (c *Cipher) Seal(label, plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(label, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], []byte(label))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
