// Package session is the voice session controller. A single goroutine owns
// the status, transcript, capture state and playback queue; every intent and
// asynchronous notification is posted to it and handled in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/metrics"
	"github.com/chadiek/voice-agent/internal/playback"
)

type Config struct {
	Identity Identity
	Capturer audio.Capturer
	Player   audio.Player
	Dial     Dialer
	Events   Events
	Metrics  *metrics.Metrics
	// ResponseTimeout bounds how long the session waits in thinking. Zero disables it.
	ResponseTimeout time.Duration
	StartMuted      bool
}

type captureState int

const (
	captureNone captureState = iota
	captureStarting
	captureActive
)

type Session struct {
	id      string
	cfg     Config
	mb      *mailbox
	queue   *playback.Queue
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	startMu sync.Mutex
	once    sync.Once

	// owned by the session goroutine
	stopped       bool
	status        Status
	turns         []TurnMessage
	conn          Conn
	connGen       uint64
	captureOnOpen bool
	capState      captureState
	capGen        uint64
	capHandle     audio.CaptureHandle
	placeholderID string
	unitSeq       uint64
	awaitingSince time.Time
	timeoutGen    uint64
	timeoutTimer  *time.Timer

	snapMu     sync.RWMutex
	snapStatus Status
	snapTurns  []TurnMessage
	snapMuted  bool
}

func New(cfg Config) (*Session, error) {
	if cfg.Identity == nil || cfg.Capturer == nil || cfg.Player == nil || cfg.Dial == nil {
		return nil, errors.New("session: identity, capturer, player and dialer are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString()[:8],
		cfg:        cfg,
		mb:         newMailbox(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		status:     StatusIdle,
		snapStatus: StatusIdle,
	}
	s.queue = playback.New(cfg.Player, func(h audio.Handle) {
		s.mb.post(func() { s.onPlaybackFinished(h) })
	})
	if cfg.StartMuted {
		s.queue.SetMuted(true)
		s.snapMuted = true
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Start runs the session goroutine and opens the agent channel.
func (s *Session) Start() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	log.Printf("[%s] session start capture=%s playback=%s", s.id, s.cfg.Capturer.Name(), s.cfg.Player.Name())
	go s.run()
	s.mb.post(func() { _ = s.connect(false) })
}

func (s *Session) run() {
	defer close(s.done)
	for {
		<-s.mb.notify
		for _, f := range s.mb.drain() {
			f()
			if s.stopped {
				return
			}
		}
	}
}

// call runs f on the session goroutine and returns its result.
func (s *Session) call(ctx context.Context, f func() error) error {
	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()
	if !started {
		return errors.New("session: not started")
	}
	reply := make(chan error, 1)
	if !s.mb.post(func() {
		if err := ctx.Err(); err != nil {
			reply <- err
			return
		}
		reply <- f()
	}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleTalking starts capture (interrupting agent playback) or, while
// listening, stops it and sends the recording.
func (s *Session) ToggleTalking(ctx context.Context) error { return s.call(ctx, s.toggle) }

// SubmitText sends typed input to the agent.
func (s *Session) SubmitText(ctx context.Context, content string) error {
	return s.call(ctx, func() error { return s.submitText(content) })
}

// SetMuted holds (or releases) agent audio. Muting stops the unit playing
// and keeps it queued so unmuting plays it again.
func (s *Session) SetMuted(ctx context.Context, muted bool) error {
	return s.call(ctx, func() error { s.setMuted(muted); return nil })
}

// Reconnect drops the current channel, if any, and opens a new one.
func (s *Session) Reconnect(ctx context.Context) error { return s.call(ctx, s.reconnect) }

// Shutdown stops capture and playback and closes the channel. It is safe
// to call from any state and more than once.
func (s *Session) Shutdown() {
	s.once.Do(func() {
		s.startMu.Lock()
		started := s.started
		s.started = true
		s.startMu.Unlock()
		if !started {
			close(s.done)
			s.mb.close()
			s.cancel()
			return
		}
		s.mb.post(s.shutdown)
		s.mb.close()
		<-s.done
		s.cancel()
		log.Printf("[%s] session closed", s.id)
	})
	<-s.done
}

// SignOut ends the session and forgets the stored credential.
func (s *Session) SignOut() error {
	s.Shutdown()
	if err := s.cfg.Identity.SignOut(); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapStatus
}

func (s *Session) Muted() bool {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapMuted
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []TurnMessage {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	out := make([]TurnMessage, len(s.snapTurns))
	copy(out, s.snapTurns)
	return out
}
