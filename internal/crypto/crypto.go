// Package crypto seals document passwords kept in the settings profile so
// they are not stored as plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// sealedPrefix marks a value produced by Seal.
const sealedPrefix = "enc:"

var ErrMalformed = errors.New("sealed value is malformed")

// deriveKey produces an AES-256 key bound to the host and the user's home
// directory, so a copied profile does not open elsewhere.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	sum := sha256.Sum256([]byte("ocrforge:" + hostname + ":" + home))
	return sum[:]
}

func newAEAD() (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey())
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// IsSealed reports whether v was produced by Seal.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// Seal encrypts a password with AES-256-GCM. Empty input stays empty and an
// already sealed value is returned as is.
func Seal(password string) (string, error) {
	if password == "" || IsSealed(password) {
		return password, nil
	}
	aead, err := newAEAD()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(password), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the sealed prefix are hand-written
// plaintext and pass through unchanged.
func Open(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	aead, err := newAEAD()
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed password: %w", err)
	}
	return string(plain), nil
}
