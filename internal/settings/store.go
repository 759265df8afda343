// Package settings keeps the analysis service bearer token in an encrypted
// file so it can be rotated without restarting the server.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stream-analyst/services"
)

// Credentials is the decrypted content of the store file
type Credentials struct {
	APIToken  string    `json:"api_token,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages persistent storage of the analysis service token
type Store struct {
	mu       sync.RWMutex
	filePath string
	creds    Credentials
	crypto   *Crypto
	now      func() time.Time
}

var _ services.CredentialProvider = (*Store)(nil)

// Open loads the store at path, creating its directory when needed. A missing
// file yields an empty store; a file that cannot be decrypted is an error.
func Open(path, passphrase string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}

	crypto, err := NewCrypto(passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize crypto: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	store := &Store{
		filePath: path,
		crypto:   crypto,
		now:      time.Now,
	}

	if err := store.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return store, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	decrypted, err := s.crypto.Decrypt(data)
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(decrypted, &creds); err != nil {
		return fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

// save writes creds to disk. Callers hold s.mu.
func (s *Store) save(creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	encrypted, err := s.crypto.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	s.creds = creds
	return nil
}

// BearerToken returns the stored token, or "" when none is set
func (s *Store) BearerToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.APIToken
}

// SetToken replaces the stored token
func (s *Store) SetToken(token string) error {
	if token == "" {
		return errors.New("token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(Credentials{APIToken: token, UpdatedAt: s.now().UTC()})
}

// Clear removes the stored token
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(Credentials{UpdatedAt: s.now().UTC()})
}

// IsConfigured reports whether a token is stored
func (s *Store) IsConfigured() bool {
	return s.BearerToken() != ""
}

// UpdatedAt returns when the token was last written
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.UpdatedAt
}

// Masked returns the token with all but the last 4 characters hidden
func (s *Store) Masked() string {
	return maskString(s.BearerToken())
}

// maskString masks a string showing only last 4 characters
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Resolve picks the token source for the stream service. A configured token
// wins; otherwise the store is consulted on every request so a rotated token
// takes effect immediately.
func Resolve(configured string, store *Store) services.CredentialProvider {
	if configured != "" || store == nil {
		return services.StaticCredentials(configured)
	}
	return store
}
