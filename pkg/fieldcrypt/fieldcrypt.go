// Package fieldcrypt encrypts individual clinical text columns before they
// reach the database.
package fieldcrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const prefix = "enc:v1:"

// ErrMalformed is returned for ciphertext that was not produced by this package
var ErrMalformed = errors.New("fieldcrypt: malformed ciphertext")

// Cipher seals and opens single string values
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AEAD is a Cipher backed by XChaCha20-Poly1305
type AEAD struct {
	key []byte
}

// New derives a 256-bit key from secret
func New(secret string) (*AEAD, error) {
	if secret == "" {
		return nil, errors.New("fieldcrypt: empty key")
	}
	sum := sha256.Sum256([]byte(secret))
	return &AEAD{key: sum[:]}, nil
}

// Encrypt returns a prefixed base64 envelope. The empty string stays empty so
// unset columns remain distinguishable.
func (a *AEAD) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the envelope
// prefix are returned unchanged, which covers rows written before encryption
// was enabled.
func (a *AEAD) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, prefix) {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, prefix))
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: open: %w", err)
	}
	return string(plain), nil
}

// Noop stores values as-is
type Noop struct{}

func (Noop) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
