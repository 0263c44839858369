package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Recorder adapts a Source into a Capturer. It enforces a single open
// recording and finalizes the collected PCM as a WAV unit.
type Recorder struct {
	src Source

	mu     sync.Mutex
	next   CaptureHandle
	active *recording
}

type recording struct {
	handle  CaptureHandle
	started time.Time
	closer  io.Closer
	buf     lockedBuffer
}

// lockedBuffer is written by the source's device goroutine and read by End.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// NewRecorder constructs a Recorder over src.
func NewRecorder(src Source) *Recorder { return &Recorder{src: src} }

func (r *Recorder) Name() string { return r.src.Name() }

// Begin opens the source. A second Begin while a recording is open (or still
// opening) fails with ErrAlreadyCapturing.
func (r *Recorder) Begin(ctx context.Context) (CaptureHandle, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return 0, ErrAlreadyCapturing
	}
	r.next++
	rec := &recording{handle: r.next, started: time.Now()}
	r.active = rec
	r.mu.Unlock()

	closer, err := r.src.Open(ctx, &rec.buf)
	if err != nil {
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
		return 0, err
	}

	r.mu.Lock()
	rec.closer = closer
	r.mu.Unlock()
	log.Printf("capture(%s): recording %d started", r.src.Name(), rec.handle)
	return rec.handle, nil
}

// End closes the source and returns the recording as one WAV unit.
func (r *Recorder) End(h CaptureHandle) (CapturedUnit, error) {
	r.mu.Lock()
	rec := r.active
	if rec == nil || rec.handle != h || rec.closer == nil {
		r.mu.Unlock()
		return CapturedUnit{}, ErrNotCapturing
	}
	r.active = nil
	r.mu.Unlock()

	closeErr := rec.closer.Close()
	pcm := rec.buf.Bytes()
	if closeErr != nil {
		return CapturedUnit{}, fmt.Errorf("finalize recording: %w", closeErr)
	}

	f := r.src.Format()
	unit := CapturedUnit{
		Data:        EncodeWAV(pcm, f),
		ContentType: "audio/wav",
		Duration:    PCMDuration(len(pcm), f),
		CapturedAt:  rec.started,
	}
	log.Printf("capture(%s): recording %d finalized: %d bytes, %s, rms=%.0f", r.src.Name(), h, len(pcm), unit.Duration, RMS(pcm))
	return unit, nil
}

// Active reports whether a recording is open or opening.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
