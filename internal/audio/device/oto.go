//go:build audio

package device

import (
	"bytes"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/chadiek/voice-agent/internal/audio"
)

// OtoPlayer plays PCM16 WAV (or raw PCM16 at the context format) through oto.
// oto allows a single context per process.
type OtoPlayer struct {
	format audio.Format
	ctx    *oto.Context

	mu     sync.Mutex
	next   audio.Handle
	active map[audio.Handle]*otoRun
}

type otoRun struct {
	player *oto.Player
	stop   chan struct{}
}

func NewOtoPlayer(f audio.Format) (*OtoPlayer, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: init speaker: %v", audio.ErrDeviceUnavailable, err)
	}
	<-ready
	return &OtoPlayer{format: f, ctx: ctx, active: make(map[audio.Handle]*otoRun)}, nil
}

func (p *OtoPlayer) Name() string { return "oto" }

func (p *OtoPlayer) Play(unit audio.AgentUnit, finished func(audio.Handle)) (audio.Handle, error) {
	pcm := unit.Data
	if decoded, f, ok := audio.DecodeWAV(unit.Data); ok {
		if f != p.format {
			return 0, fmt.Errorf("unit %d: format %dHz/%dch does not match speaker %dHz/%dch",
				unit.Seq, f.SampleRate, f.Channels, p.format.SampleRate, p.format.Channels)
		}
		pcm = decoded
	}

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	run := &otoRun{player: player, stop: make(chan struct{})}

	p.mu.Lock()
	p.next++
	h := p.next
	p.active[h] = run
	p.mu.Unlock()

	player.Play()
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-run.stop:
				return
			case <-tick.C:
			}
			if player.IsPlaying() {
				continue
			}
			p.mu.Lock()
			_, live := p.active[h]
			delete(p.active, h)
			p.mu.Unlock()
			if err := player.Close(); err != nil {
				log.Printf("playback(oto): close unit %d: %v", unit.Seq, err)
			}
			if live && finished != nil {
				finished(h)
			}
			return
		}
	}()
	return h, nil
}

func (p *OtoPlayer) Stop(h audio.Handle) {
	p.mu.Lock()
	run, ok := p.active[h]
	delete(p.active, h)
	p.mu.Unlock()
	if !ok {
		return
	}
	close(run.stop)
	run.player.Pause()
	_ = run.player.Close()
}

func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	handles := make([]audio.Handle, 0, len(p.active))
	for h := range p.active {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	for _, h := range handles {
		p.Stop(h)
	}
	return nil
}
