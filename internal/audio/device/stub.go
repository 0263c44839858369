//go:build !audio

// Package device provides native microphone and speaker backends. Without the
// `audio` build tag every constructor reports audio.ErrDeviceUnavailable.
package device

import (
	"context"
	"fmt"
	"io"

	"github.com/chadiek/voice-agent/internal/audio"
)

var errNotBuilt = fmt.Errorf("%w: built without the audio tag", audio.ErrDeviceUnavailable)

type MalgoSource struct{}

func NewMalgoSource(audio.Format) (*MalgoSource, error) { return nil, errNotBuilt }

func (s *MalgoSource) Name() string         { return "malgo" }
func (s *MalgoSource) Format() audio.Format { return audio.DefaultFormat() }
func (s *MalgoSource) Open(context.Context, io.Writer) (io.Closer, error) {
	return nil, errNotBuilt
}
func (s *MalgoSource) Release() {}

type PortAudioSource struct{}

func NewPortAudioSource(audio.Format) (*PortAudioSource, error) { return nil, errNotBuilt }

func (s *PortAudioSource) Name() string         { return "portaudio" }
func (s *PortAudioSource) Format() audio.Format { return audio.DefaultFormat() }
func (s *PortAudioSource) Open(context.Context, io.Writer) (io.Closer, error) {
	return nil, errNotBuilt
}
func (s *PortAudioSource) Release() {}

type OtoPlayer struct{}

func NewOtoPlayer(audio.Format) (*OtoPlayer, error) { return nil, errNotBuilt }

func (p *OtoPlayer) Name() string { return "oto" }
func (p *OtoPlayer) Play(audio.AgentUnit, func(audio.Handle)) (audio.Handle, error) {
	return 0, errNotBuilt
}
func (p *OtoPlayer) Stop(audio.Handle) {}
func (p *OtoPlayer) Close() error      { return nil }
