package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Authenticator exchanges a username and password for a credential.
type Authenticator interface {
	Name() string
	SignIn(ctx context.Context, username, password string) (Credential, error)
}

// BackendAuthenticator signs in against the agent backend's OAuth2
// password-form endpoint (POST /token).
type BackendAuthenticator struct {
	BaseURL string
	// TokenTTL is how long issued tokens are assumed to live; zero means unknown.
	TokenTTL time.Duration
	Client   *http.Client
}

func NewBackendAuthenticator(baseURL string, ttl time.Duration) *BackendAuthenticator {
	return &BackendAuthenticator{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		TokenTTL: ttl,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *BackendAuthenticator) Name() string { return "backend" }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (a *BackendAuthenticator) SignIn(ctx context.Context, username, password string) (Credential, error) {
	if a.BaseURL == "" {
		return Credential{}, fmt.Errorf("missing agent backend URL: AGENT_HTTP_URL required")
	}
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusBadRequest:
		return Credential{}, ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Credential{}, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Credential{}, fmt.Errorf("token response has no access_token")
	}
	now := time.Now().UTC()
	c := Credential{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Subject:     username,
		Provider:    a.Name(),
		IssuedAt:    now,
	}
	if a.TokenTTL > 0 {
		c.ExpiresAt = now.Add(a.TokenTTL)
	}
	return c, nil
}
