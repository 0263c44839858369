package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/voice-agent/internal/archive"
	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/audio/device"
	"github.com/chadiek/voice-agent/internal/channel"
	"github.com/chadiek/voice-agent/internal/config"
	"github.com/chadiek/voice-agent/internal/httpserver"
	"github.com/chadiek/voice-agent/internal/identity"
	"github.com/chadiek/voice-agent/internal/metrics"
	"github.com/chadiek/voice-agent/internal/session"
)

func newCapturer(cfg config.Config, f audio.Format) (audio.Capturer, func(), error) {
	switch cfg.CaptureBackend {
	case "malgo":
		src, err := device.NewMalgoSource(f)
		if err != nil {
			return nil, nil, err
		}
		return audio.NewRecorder(src), src.Release, nil
	case "portaudio":
		src, err := device.NewPortAudioSource(f)
		if err != nil {
			return nil, nil, err
		}
		return audio.NewRecorder(src), src.Release, nil
	}
	src := audio.NewFFmpegSource(cfg.FFmpegPath, cfg.FFmpegInputFormat, cfg.FFmpegInputDevice, f)
	return audio.NewRecorder(src), func() {}, nil
}

func newPlayer(cfg config.Config, f audio.Format) (audio.Player, error) {
	if cfg.PlaybackBackend == "oto" {
		p, err := device.NewOtoPlayer(f)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return audio.NewFFplayPlayer(cfg.FFplayPath, cfg.Volume), nil
}

func run(cfg config.Config, store *identity.FileStore) error {
	if !store.IsAuthenticated() {
		return fmt.Errorf("%w: run `voice-client signin` first", session.ErrUnauthenticated)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}

	capturer, release, err := newCapturer(cfg, format)
	if err != nil {
		return fmt.Errorf("capture backend %s: %w", cfg.CaptureBackend, err)
	}
	defer release()
	player, err := newPlayer(cfg, format)
	if err != nil {
		return fmt.Errorf("playback backend %s: %w", cfg.PlaybackBackend, err)
	}
	defer func() { _ = player.Close() }()

	m := metrics.New("voice_client")
	hub := httpserver.NewHub()
	v := newView(os.Stdout)
	events := []session.Events{v.Events(), hub.SessionEvents()}

	if cfg.ArchiveBucket != "" {
		up, err := archive.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.ArchiveBucket)
		if err != nil {
			return err
		}
		prefix := "anonymous"
		if cred, err := store.Load(); err == nil && cred.Subject != "" {
			prefix = cred.Subject
		}
		arch := archive.New(up, prefix, 16)
		defer arch.Close()
		events = append(events, arch.Events())
	}

	sess, err := session.New(session.Config{
		Identity: store,
		Capturer: capturer,
		Player:   player,
		Dial: func(token string, ev channel.Events) session.Conn {
			return channel.New(channel.Options{URL: cfg.AgentWSURL, Token: token, PingInterval: 30 * time.Second}, ev)
		},
		Events:          fanout(events...),
		Metrics:         m,
		ResponseTimeout: cfg.ResponseTimeout,
		StartMuted:      cfg.StartMuted,
	})
	if err != nil {
		return err
	}

	var server *http.Server
	serverErrors := make(chan error, 1)
	if cfg.HTTPAddress != "" {
		srv := httpserver.New(sess, hub, httpserver.Options{Token: cfg.ControlToken, Metrics: m})
		server = &http.Server{
			Addr:              cfg.HTTPAddress,
			Handler:           srv.Router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			log.Printf("control server listening on %s", cfg.HTTPAddress)
			serverErrors <- server.ListenAndServe()
		}()
	}

	sess.Start()
	v.println("%s", helpText)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	signOut := false
loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			done, out := handleLine(ctx, sess, v, line)
			cancel()
			if done {
				signOut = out
				break loop
			}
		case sig := <-sigChan:
			log.Printf("shutdown signal received: %v", sig)
			break loop
		case err := <-serverErrors:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("control server error: %v", err)
			}
		case <-sess.Done():
			break loop
		}
	}

	if signOut {
		if err := sess.SignOut(); err != nil {
			log.Printf("sign out: %v", err)
		} else {
			v.println("Signed out.")
		}
	} else {
		sess.Shutdown()
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = server.Close()
		}
	}
	return nil
}
