//go:build audio

package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/chadiek/voice-agent/internal/audio"
)

// PortAudioSource captures through PortAudio's default input device.
type PortAudioSource struct {
	format audio.Format
}

// NewPortAudioSource initializes PortAudio. Call Release when done.
func NewPortAudioSource(f audio.Format) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize PortAudio: %v", audio.ErrDeviceUnavailable, err)
	}
	return &PortAudioSource{format: f}, nil
}

func (s *PortAudioSource) Name() string         { return "portaudio" }
func (s *PortAudioSource) Format() audio.Format { return s.format }

func (s *PortAudioSource) Open(_ context.Context, w io.Writer) (io.Closer, error) {
	// 20ms per read
	frames := s.format.SampleRate / 50
	in := make([]int16, frames*s.format.Channels)
	stream, err := portaudio.OpenDefaultStream(s.format.Channels, 0, float64(s.format.SampleRate), frames, in)
	if err != nil {
		return nil, classify(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classify(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, len(in)*2)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			for i, v := range in {
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
			}
			_, _ = w.Write(buf)
		}
	}()

	var once sync.Once
	return audio.CloserFunc(func() error {
		var err error
		once.Do(func() {
			close(stop)
			wg.Wait()
			_ = stream.Stop()
			err = stream.Close()
		})
		return err
	}), nil
}

// Release terminates PortAudio.
func (s *PortAudioSource) Release() { _ = portaudio.Terminate() }
