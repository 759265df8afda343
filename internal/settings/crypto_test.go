package settings

import (
	"bytes"
	"errors"
	"testing"
)

func TestCryptoEncryptDecrypt(t *testing.T) {
	crypto, err := NewCrypto("test-passphrase")
	if err != nil {
		t.Fatalf("NewCrypto() error = %v", err)
	}

	plaintext := []byte(`{"api_token":"sk-analysis-1234"}`)

	ciphertext, err := crypto.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext contains plaintext")
	}
	if len(ciphertext) <= len(plaintext)+saltSize {
		t.Error("Encrypt() ciphertext missing salt, nonce, or tag")
	}

	decrypted, err := crypto.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestCryptoEmptyPassphrase(t *testing.T) {
	if _, err := NewCrypto(""); err == nil {
		t.Error("NewCrypto(\"\") expected error")
	}
}

func TestCryptoRandomizedOutput(t *testing.T) {
	crypto, _ := NewCrypto("test-passphrase")

	a, _ := crypto.Encrypt([]byte("same"))
	b, _ := crypto.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("Encrypt() produced identical output for the same input")
	}
}

func TestCryptoWrongPassphrase(t *testing.T) {
	sealer, _ := NewCrypto("right")
	opener, _ := NewCrypto("wrong")

	ciphertext, err := sealer.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := opener.Decrypt(ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
	}
}

func TestCryptoShortCiphertext(t *testing.T) {
	crypto, _ := NewCrypto("test-passphrase")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"salt only", make([]byte, saltSize)},
		{"salt and partial nonce", make([]byte, saltSize+4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := crypto.Decrypt(tt.data); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}

func TestCryptoTamperedCiphertext(t *testing.T) {
	crypto, _ := NewCrypto("test-passphrase")

	ciphertext, _ := crypto.Encrypt([]byte("secret"))
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := crypto.Decrypt(ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
	}
}
