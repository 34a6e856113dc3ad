package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// KeySize is the required key length for token encryption (AES-256).
const KeySize = 32

// TokenCipher handles encryption/decryption of OAuth token material.
// Ciphertext layout is nonce-prefixed AES-GCM; the stored value is opaque bytes.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher creates a token cipher from a 32-byte key
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("token encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &TokenCipher{key: k}, nil
}

// ParseKey decodes a configured key string. Accepts a raw 32-byte value,
// standard/url-safe base64, or hex, as long as the decoded form is 32 bytes.
func ParseKey(value string) ([]byte, error) {
	if len(value) == KeySize {
		return []byte(value), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil && len(decoded) == KeySize {
			return decoded, nil
		}
	}
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}
	return nil, fmt.Errorf("token encryption key must decode to %d bytes", KeySize)
}

// Encrypt encrypts data using AES-GCM
func (c *TokenCipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Decrypt decrypts data using AES-GCM
func (c *TokenCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

// EncryptString encrypts a string, returning opaque bytes for storage
func (c *TokenCipher) EncryptString(plaintext string) ([]byte, error) {
	return c.Encrypt([]byte(plaintext))
}

// DecryptString decrypts stored bytes back to the original string
func (c *TokenCipher) DecryptString(ciphertext []byte) (string, error) {
	decrypted, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(decrypted), nil
}
