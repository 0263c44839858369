package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/chadiek/voice-agent/internal/config"
	"github.com/chadiek/voice-agent/internal/identity"
)

func authenticator(cfg config.Config) identity.Authenticator {
	if cfg.AuthProvider == "supabase" {
		return identity.NewSupabaseAuthenticator(cfg.SupabaseURL, cfg.SupabaseKey)
	}
	return identity.NewBackendAuthenticator(cfg.AgentHTTPURL, cfg.TokenTTL)
}

// signIn prompts for missing credentials and stores the resulting token.
func signIn(cfg config.Config, store *identity.FileStore, user string, in *os.File, out io.Writer) error {
	r := bufio.NewReader(in)
	if user == "" {
		fmt.Fprint(out, "Username: ")
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		user = strings.TrimSpace(line)
	}
	if user == "" {
		return errors.New("username required")
	}

	password, err := readPassword(in, r, out)
	if err != nil {
		return err
	}

	auth := authenticator(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cred, err := auth.SignIn(ctx, user, password)
	if err != nil {
		return fmt.Errorf("%s sign-in: %w", auth.Name(), err)
	}
	if err := store.Save(cred); err != nil {
		return err
	}
	fmt.Fprintf(out, "Signed in as %s (%s).\n", cred.Subject, store.Path())
	return nil
}

// readPassword hides input on a terminal and reads a plain line otherwise.
func readPassword(in *os.File, r *bufio.Reader, out io.Writer) (string, error) {
	if pw := os.Getenv("VOICE_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(out, "Password: ")
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
