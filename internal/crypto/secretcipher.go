// Package crypto implements the secret store used for OpenPGP secret key
// material at rest. Secret exports are the most sensitive data the keyserver
// holds: a leaked secret key allows an attacker to sign and decrypt as the
// key owner, so secret material is sealed with AES-256-GCM before it touches
// the database and unsealed only for the scope of a single derivation or
// export operation, never cached in decrypted form.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrBlobCorrupted is returned when a sealed blob is too short to contain a valid nonce.
	ErrBlobCorrupted = errors.New("crypto: sealed blob is corrupted or truncated")
	// ErrUnsealFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrUnsealFailed = errors.New("crypto: unseal operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes, which would weaken PBKDF2 key derivation.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// SecretCipher seals and unseals secret key material.
type SecretCipher struct {
	masterKey []byte
}

// NewSecretCipher creates a cipher with a 32-byte master key.
func NewSecretCipher(masterKey []byte) (*SecretCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)
	return &SecretCipher{masterKey: keyCopy}, nil
}

// DeriveSecretCipher creates a cipher by deriving a key from a passphrase.
func DeriveSecretCipher(passphrase string, salt []byte, iterations int) (*SecretCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000 // Secure default
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewSecretCipher(derivedKey)
}

// Seal encrypts plaintext and returns the sealed blob (nonce || ciphertext).
func (sc *SecretCipher) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}

	blockCipher, err := aes.NewCipher(sc.masterKey)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts a sealed blob and returns the plaintext.
func (sc *SecretCipher) Unseal(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, nil
	}

	blockCipher, err := aes.NewCipher(sc.masterKey)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}

	nonceLen := aead.NonceSize()
	if len(sealed) < nonceLen {
		return nil, ErrBlobCorrupted
	}

	plaintext, err := aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return nil, ErrUnsealFailed
	}

	return plaintext, nil
}

// GenerateKey creates a cryptographically secure random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt creates a cryptographically secure random salt.
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
