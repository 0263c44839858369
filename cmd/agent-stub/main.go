// Command agent-stub runs a local development voice agent that speaks the
// same websocket protocol as the production backend.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/voice-agent/internal/agentstub"
	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/config"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	opts := agentstub.Options{
		Synthesizer: agentstub.ToneSynthesizer{Format: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}},
		TokenTTL:    cfg.TokenTTL,
		Open:        cfg.StubOpen,
	}
	if cfg.CerebrasAPIKey != "" {
		opts.Responder = agentstub.NewCerebrasResponder(cfg.CerebrasAPIKey, cfg.CerebrasModel)
		log.Printf("agent-stub: replies from cerebras model %s", cfg.CerebrasModel)
	} else {
		log.Printf("agent-stub: CEREBRAS_API_KEY not set, echoing replies")
	}
	stub := agentstub.New(opts)

	server := &http.Server{
		Addr:              cfg.StubAddress,
		Handler:           stub.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("agent-stub listening on %s", cfg.StubAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
