// Package crypto provides AES-256-GCM authenticated encryption for finalized
// letter content stored at rest. A recommendation letter is disclosed through
// exactly one consented channel (a single-use link), so its stored form must
// not be readable by anyone with raw database or bucket access. AES-256-GCM is
// chosen because it provides both confidentiality and authenticated integrity,
// ensuring stored content cannot be silently tampered with even if the backing
// store is partially compromised.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
)

// LetterCipher encrypts and decrypts letter content for storage at rest.
// A nil *LetterCipher is valid and passes content through unchanged, which is
// how deployments without a configured encryption key operate.
type LetterCipher struct {
	masterKey []byte
}

// NewLetterCipher creates a cipher with a 32-byte master key.
func NewLetterCipher(masterKey []byte) (*LetterCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)
	return &LetterCipher{masterKey: keyCopy}, nil
}

// NewLetterCipherFromHex creates a cipher from a hex-encoded 32-byte key as
// carried in configuration. An empty string yields a nil cipher (passthrough).
func NewLetterCipherFromHex(hexKey string) (*LetterCipher, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrKeyLengthInvalid
	}
	return NewLetterCipher(key)
}

// Seal encrypts plaintext and returns a base64-encoded ciphertext with the
// nonce prefixed. A nil receiver returns the plaintext unchanged.
func (lc *LetterCipher) Seal(plaintext string) (string, error) {
	if lc == nil || plaintext == "" {
		return plaintext, nil
	}

	blockCipher, err := aes.NewCipher(lc.masterKey)
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64-encoded ciphertext and returns the plaintext.
// A nil receiver returns the input unchanged.
func (lc *LetterCipher) Open(encodedCiphertext string) (string, error) {
	if lc == nil || encodedCiphertext == "" {
		return encodedCiphertext, nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	blockCipher, err := aes.NewCipher(lc.masterKey)
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	nonce := ciphertext[:nonceLen]
	actualCiphertext := ciphertext[nonceLen:]

	plaintext, err := aead.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
