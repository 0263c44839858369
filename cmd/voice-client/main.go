// Command voice-client talks to a voice agent: push-to-talk capture, agent
// audio playback and a live transcript in the terminal.
//
//	voice-client signin [flags]   store a credential
//	voice-client signout [flags]  forget it
//	voice-client [run] [flags]    start a session
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/chadiek/voice-agent/internal/config"
	"github.com/chadiek/voice-agent/internal/identity"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("voice-client "+cmd, flag.ExitOnError)
	user := fs.String("user", os.Getenv("VOICE_USER"), "signin: username or email")
	cfg, err := config.Load(fs, args)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	store := identity.NewFileStore(tokenPath(cfg))

	switch cmd {
	case "run":
		err = run(cfg, store)
	case "signin":
		err = signIn(cfg, store, *user, os.Stdin, os.Stdout)
	case "signout":
		if err = store.SignOut(); err == nil {
			fmt.Println("Signed out.")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q: want run, signin or signout\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func tokenPath(cfg config.Config) string {
	if cfg.TokenPath != "" {
		return cfg.TokenPath
	}
	return identity.DefaultPath()
}
