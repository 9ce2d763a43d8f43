// Package crypto seals secrets stored in the local database, such as the
// sync bearer token. Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// keyContext separates keys derived here from other uses of the same id.
const keyContext = "sync-credential:"

// Encrypt encrypts plaintext using AES-256-GCM.
// The key is derived from the input using SHA-256.
func Encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// nonce || ciphertext, base64 for the TEXT column
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	derivedKey := sha256.Sum256(key)

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey derives the sealing key for an installation from its device id.
func DeriveKey(deviceID string) []byte {
	hash := sha256.Sum256([]byte(keyContext + deviceID))
	return hash[:]
}

// SealToken encrypts a bearer token for storage.
func SealToken(token, deviceID string) (string, error) {
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	if deviceID == "" {
		return "", ErrInvalidKey
	}
	return Encrypt([]byte(token), DeriveKey(deviceID))
}

// OpenToken decrypts a token sealed by SealToken.
func OpenToken(sealed, deviceID string) (string, error) {
	if deviceID == "" {
		return "", ErrInvalidKey
	}
	plaintext, err := Decrypt(sealed, DeriveKey(deviceID))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
