package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"
)

// SupabaseAuthenticator signs in with Supabase email/password auth.
type SupabaseAuthenticator struct {
	url string
	key string
}

func NewSupabaseAuthenticator(url, anonKey string) *SupabaseAuthenticator {
	return &SupabaseAuthenticator{url: strings.TrimRight(url, "/"), key: anonKey}
}

func (a *SupabaseAuthenticator) Name() string { return "supabase" }

// SignIn ignores ctx cancellation once the request is in flight; the
// Supabase client has no context support.
func (a *SupabaseAuthenticator) SignIn(ctx context.Context, email, password string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	if a.url == "" || a.key == "" {
		return Credential{}, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_KEY required")
	}
	client, err := supabase.NewClient(a.url, a.key, &supabase.ClientOptions{})
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	session, err := client.SignInWithEmailPassword(email, password)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "invalid") {
			return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Credential{}, fmt.Errorf("supabase sign-in failed: %w", err)
	}
	c := Credential{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		Subject:     email,
		Provider:    a.Name(),
		IssuedAt:    time.Now().UTC(),
	}
	if session.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return c, nil
}
