package agentstub

import (
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/chadiek/voice-agent/internal/audio"
)

const (
	toneHz        = 440.0
	toneAmplitude = 6000.0
	perWord       = 120 * time.Millisecond
	minTone       = 300 * time.Millisecond
	maxTone       = 2 * time.Second
)

// Synthesizer turns reply text into a playable unit.
type Synthesizer interface {
	Synthesize(text string) ([]byte, error)
}

// ToneSynthesizer renders a sine tone whose length follows the word count.
type ToneSynthesizer struct {
	Format audio.Format
}

func (t ToneSynthesizer) Synthesize(text string) ([]byte, error) {
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, nil
	}
	f := t.Format
	if f.SampleRate == 0 {
		f = audio.DefaultFormat()
	}
	d := time.Duration(words) * perWord
	if d < minTone {
		d = minTone
	}
	if d > maxTone {
		d = maxTone
	}
	frames := int(d.Seconds() * float64(f.SampleRate))
	pcm := make([]byte, frames*f.Channels*2)
	for i := 0; i < frames; i++ {
		// short linear fade keeps the edges from clicking
		gain := 1.0
		if fade := f.SampleRate / 100; i < fade {
			gain = float64(i) / float64(fade)
		} else if i > frames-fade {
			gain = float64(frames-i) / float64(fade)
		}
		v := int16(toneAmplitude * gain * math.Sin(2*math.Pi*toneHz*float64(i)/float64(f.SampleRate)))
		for ch := 0; ch < f.Channels; ch++ {
			binary.LittleEndian.PutUint16(pcm[(i*f.Channels+ch)*2:], uint16(v))
		}
	}
	return audio.EncodeWAV(pcm, f), nil
}
