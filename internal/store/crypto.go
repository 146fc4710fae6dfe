package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
)

// ErrDecryptionFailed is returned when decryption fails (wrong key or
// corrupted data).
var ErrDecryptionFailed = errors.New("decryption failed")

// FieldCrypto encrypts session IP/user-agent at rest, kept near-verbatim
// from app_teacher_ref/store/crypto.go's Crypto type (same NaCl
// secretbox-with-Argon2id-derived-key construction); repurposed here for
// PII-at-rest rather than the teacher's secret-value KV blobs.
type FieldCrypto struct {
	masterKey []byte
}

// NewFieldCrypto creates a FieldCrypto. Key must be at least 16 bytes.
func NewFieldCrypto(masterKey []byte) (*FieldCrypto, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("master key must be at least 16 bytes")
	}
	return &FieldCrypto{masterKey: masterKey}, nil
}

// Encrypt encrypts value. Format: base64(salt || nonce || ciphertext).
func (c *FieldCrypto) Encrypt(value []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	derivedKey := c.deriveKey(salt)

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	var key [keySize]byte
	copy(key[:], derivedKey)

	ciphertext := secretbox.Seal(nil, value, &nonce, &key)

	result := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce[:]...)
	result = append(result, ciphertext...)

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(result)))
	base64.StdEncoding.Encode(encoded, result)
	return encoded, nil
}

// Decrypt reverses Encrypt.
func (c *FieldCrypto) Decrypt(encrypted []byte) ([]byte, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(encrypted)))
	n, err := base64.StdEncoding.Decode(decoded, encrypted)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	decoded = decoded[:n]

	minSize := saltSize + nonceSize + secretbox.Overhead
	if len(decoded) < minSize {
		return nil, ErrDecryptionFailed
	}

	salt := decoded[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], decoded[saltSize:saltSize+nonceSize])
	ciphertext := decoded[saltSize+nonceSize:]

	derivedKey := c.deriveKey(salt)
	var key [keySize]byte
	copy(key[:], derivedKey)

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		return []byte{}, nil
	}
	return plaintext, nil
}

func (c *FieldCrypto) deriveKey(salt []byte) []byte {
	return argon2.IDKey(c.masterKey, salt, argonTime, argonMemory, argonThreads, keySize)
}
