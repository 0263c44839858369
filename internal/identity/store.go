// Package identity stores the signed-in user's access token and obtains new
// ones from the agent backend or Supabase.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoCredential       = errors.New("not signed in")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credential is what a successful sign-in yields.
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Subject     string    `json:"subject,omitempty"`
	Provider    string    `json:"provider"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Expired reports whether the credential has a known expiry before now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// FileStore persists one credential as JSON readable only by the owner.
type FileStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// DefaultPath is ~/.config/voice-agent/credentials.json.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "voice-agent", "credentials.json")
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() (Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("parse credentials %s: %w", s.path, err)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return Credential{}, ErrNoCredential
	}
	return c, nil
}

func (s *FileStore) Save(c Credential) error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("save credentials: empty access token")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether a usable, unexpired token is stored.
func (s *FileStore) IsAuthenticated() bool {
	_, ok := s.CurrentToken()
	return ok
}

func (s *FileStore) CurrentToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadLocked()
	if err != nil || c.Expired(s.now()) {
		return "", false
	}
	return c.AccessToken, true
}

// SignOut removes the stored credential. Signing out twice is not an error.
func (s *FileStore) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
