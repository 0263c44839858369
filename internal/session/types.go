package session

import (
	"context"
	"errors"
	"time"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/channel"
)

// Status is the session's single authoritative state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusConnecting  Status = "connecting"
	StatusCalibrating Status = "calibrating"
	StatusListening   Status = "listening"
	StatusThinking    Status = "thinking"
	StatusSpeaking    Status = "speaking"
	StatusError       Status = "error"
)

type Author string

const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"
)

// TurnMessage is one transcript entry. Content may be replaced once, when a
// placeholder is finalized.
type TurnMessage struct {
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	finalized bool
}

// Notice is a user-facing message about a failure.
type Notice struct {
	Err     error     `json:"-"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Events are display hooks. They run on the session goroutine and must not
// call back into the session synchronously.
type Events struct {
	OnStatus     func(from, to Status)
	OnTranscript func(turns []TurnMessage)
	OnNotice     func(n Notice)
	// OnRecording fires after a recording has been sent, with the id of the
	// placeholder turn it belongs to.
	OnRecording  func(turnID string, unit audio.CapturedUnit)
}

// Identity supplies the bearer token for the agent channel.
type Identity interface {
	IsAuthenticated() bool
	CurrentToken() (string, bool)
	SignOut() error
}

// Conn is one agent connection lifecycle; *channel.Channel satisfies it.
type Conn interface {
	Open(ctx context.Context) error
	Send(m channel.Message) error
	IsOpen() bool
	Close() error
}

// Dialer builds a connection that reports through ev. It must not connect
// until Open is called.
type Dialer func(token string, ev channel.Events) Conn

var (
	ErrUnauthenticated = errors.New("not signed in")
	ErrInputDisabled   = errors.New("input disabled while the agent is busy")
	ErrEmptyText       = errors.New("empty message")
	ErrResponseTimeout = errors.New("agent did not respond in time")
	ErrClosed          = errors.New("session closed")
)

// ApologyText is appended as an agent turn when the agent heard no speech.
const ApologyText = "Sorry, I didn't catch that. Could you try again?"

// PlaceholderText stands in for the user's words until the agent echoes them.
const PlaceholderText = "..."
