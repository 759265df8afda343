package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32 // AES-256
	iterations = 100000
)

// ErrDecrypt is returned when stored data cannot be opened with the passphrase
var ErrDecrypt = errors.New("decryption failed: invalid passphrase or corrupted data")

// Crypto seals credential files with a key derived from a passphrase
type Crypto struct {
	passphrase string
}

// NewCrypto creates a new Crypto instance
func NewCrypto(passphrase string) (*Crypto, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	return &Crypto{passphrase: passphrase}, nil
}

// deriveKey derives an AES key from passphrase and salt using PBKDF2
func (c *Crypto) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(c.passphrase), salt, iterations, keySize, sha256.New)
}

func (c *Crypto) aead(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM. The output is salt, nonce, then
// ciphertext.
func (c *Crypto) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	return gcm.Seal(append(out, nonce...), nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt
func (c *Crypto) Decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.New("ciphertext too short")
	}

	gcm, err := c.aead(data[:saltSize])
	if err != nil {
		return nil, err
	}

	sealed := data[saltSize:]
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
