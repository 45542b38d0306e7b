// Package vault encrypts upstream provider API keys at rest and mints
// the non-secret synthetic references handed to administrators.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// ErrDecryption is returned when a ciphertext blob is malformed or its
// authentication tag does not verify (tampering or wrong key). Callers
// must treat this as fatal for the request; it never yields garbage.
var ErrDecryption = errors.New("vault: decryption failed")

const syntheticKeyPrefix = "sk-proxy-"

const syntheticKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Vault is a pure transform keyed by a process-wide secret loaded at
// startup. It holds no per-record state and is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from a 32-byte AES-256 key.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt returns a base64 blob of nonce||ciphertext||tag.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or forged input fails with
// ErrDecryption.
func (v *Vault) Decrypt(blob string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryption
	}

	if len(sealed) < v.aead.NonceSize() {
		return "", ErrDecryption
	}

	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}

// GenerateSyntheticKey mints a non-secret reference string identifying
// a stored credential to administrators.
func GenerateSyntheticKey() (string, error) {
	out := make([]byte, 48)
	max := big.NewInt(int64(len(syntheticKeyAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("vault: %w", err)
		}
		out[i] = syntheticKeyAlphabet[n.Int64()]
	}
	return syntheticKeyPrefix + string(out), nil
}
