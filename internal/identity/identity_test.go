package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadSignOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.json")
	s := NewFileStore(path)

	assert.False(t, s.IsAuthenticated())
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, s.Save(Credential{AccessToken: "abc", TokenType: "bearer", Provider: "backend"}))
	tok, ok := s.CurrentToken()
	require.True(t, ok)
	assert.Equal(t, "abc", tok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.SignOut())
	require.NoError(t, s.SignOut())
	assert.False(t, s.IsAuthenticated())
}

func TestFileStore_ExpiredTokenIsNotCurrent(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(Credential{AccessToken: "abc", ExpiresAt: now.Add(-time.Minute)}))
	_, ok := s.CurrentToken()
	assert.False(t, ok)

	require.NoError(t, s.Save(Credential{AccessToken: "abc", ExpiresAt: now.Add(time.Minute)}))
	_, ok = s.CurrentToken()
	assert.True(t, ok)
}

func TestFileStore_RejectsEmptyToken(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	assert.Error(t, s.Save(Credential{}))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s := NewFileStore(path)
	_, err := s.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredential)
	assert.False(t, s.IsAuthenticated())
}

func TestBackendAuthenticator_SignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "ada@example.com" || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "jwt", "token_type": "bearer"})
	}))
	defer srv.Close()

	a := NewBackendAuthenticator(srv.URL+"/", 30*time.Minute)
	c, err := a.SignIn(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", c.AccessToken)
	assert.Equal(t, "bearer", c.TokenType)
	assert.Equal(t, "backend", c.Provider)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), c.ExpiresAt, 5*time.Second)

	_, err = a.SignIn(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBackendAuthenticator_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewBackendAuthenticator(srv.URL, 0).SignIn(context.Background(), "u", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSupabaseAuthenticator_RequiresConfig(t *testing.T) {
	_, err := NewSupabaseAuthenticator("", "").SignIn(context.Background(), "a@b.c", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUPABASE_URL")
}
