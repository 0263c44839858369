package audio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Format describes a PCM stream. Encoding is always signed 16-bit little endian.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 16kHz mono, what the agent's speech recognizer expects.
func DefaultFormat() Format { return Format{SampleRate: 16000, Channels: 1} }

// BytesPerSecond returns the PCM16 byte rate for f.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.Channels * 2 }

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrAlreadyCapturing  = errors.New("already capturing")
	ErrNotCapturing      = errors.New("no capture in progress")
)

// CapturedUnit is the finalized result of one capture gesture.
type CapturedUnit struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
	CapturedAt  time.Time
}

// AgentUnit is one playable payload received from the agent.
type AgentUnit struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}

// CaptureHandle identifies an open recording.
type CaptureHandle uint64

// Capturer wraps the platform microphone. Only one handle may be open at a time.
type Capturer interface {
	Name() string
	// Begin opens the microphone. It fails with ErrPermissionDenied,
	// ErrDeviceUnavailable or ErrAlreadyCapturing.
	Begin(ctx context.Context) (CaptureHandle, error)
	// End finalizes the recording into exactly one unit. The device is
	// released before End returns, even on error.
	End(h CaptureHandle) (CapturedUnit, error)
}

// Handle identifies one Play call.
type Handle uint64

// Player plays one agent unit at a time.
type Player interface {
	Name() string
	// Play starts unit and calls finished exactly once when playback ends
	// naturally. finished is never called for a handle passed to Stop.
	Play(unit AgentUnit, finished func(Handle)) (Handle, error)
	// Stop terminates playback of h. Stopping a finished or stopped handle is a no-op.
	Stop(h Handle)
	Close() error
}

// Source opens the microphone and streams raw PCM into w until the returned
// closer is closed.
type Source interface {
	Name() string
	Format() Format
	Open(ctx context.Context, w io.Writer) (io.Closer, error)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// CloserFunc adapts a function to io.Closer.
func CloserFunc(f func() error) io.Closer { return closerFunc(f) }
