//go:build audio

// Package device provides native microphone and speaker backends. It is only
// compiled with the `audio` build tag because every backend needs cgo and the
// platform audio headers.
package device

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/chadiek/voice-agent/internal/audio"
)

// MalgoSource captures through miniaudio.
type MalgoSource struct {
	format audio.Format
	ctx    *malgo.AllocatedContext
}

// NewMalgoSource initializes a miniaudio context. Call Release when done.
func NewMalgoSource(f audio.Format) (*MalgoSource, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", audio.ErrDeviceUnavailable, err)
	}
	return &MalgoSource{format: f, ctx: mctx}, nil
}

func (s *MalgoSource) Name() string         { return "malgo" }
func (s *MalgoSource) Format() audio.Format { return s.format }

func (s *MalgoSource) Open(_ context.Context, w io.Writer) (io.Closer, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.format.Channels)
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			_, _ = w.Write(in)
		},
	}
	dev, err := malgo.InitDevice(s.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, classify(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, classify(err)
	}
	return audio.CloserFunc(func() error {
		_ = dev.Stop()
		dev.Uninit()
		return nil
	}), nil
}

// Release frees the miniaudio context.
func (s *MalgoSource) Release() {
	if s.ctx == nil {
		return
	}
	_ = s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
}
