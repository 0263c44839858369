package audio

import "time"

const vadFrame = 10 * time.Millisecond

// Detector is a frame-level energy voice detector. Each 10ms frame is voiced
// when the majority of the last Smooth frames crossed Threshold.
type Detector struct {
	Threshold float64
	Smooth    int
	// MinSpeech is the voiced duration that counts as an utterance.
	MinSpeech time.Duration
}

func DefaultDetector() Detector {
	return Detector{Threshold: 300, Smooth: 4, MinSpeech: 120 * time.Millisecond}
}

// Voiced reports how much of pcm the detector considers speech.
func (d Detector) Voiced(pcm []byte, f Format) time.Duration {
	frameBytes := f.SampleRate / 100 * f.Channels * 2
	if frameBytes <= 0 {
		return 0
	}
	smooth := d.Smooth
	if smooth <= 0 {
		smooth = 1
	}
	win := make([]bool, 0, smooth+1)
	voiced := 0
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		win = append(win, RMS(pcm[off:off+frameBytes]) >= d.Threshold)
		if len(win) > smooth {
			win = win[len(win)-smooth:]
		}
		n := 0
		for _, v := range win {
			if v {
				n++
			}
		}
		if n*2 >= len(win) && n > 0 {
			voiced++
		}
	}
	return time.Duration(voiced) * vadFrame
}

// HasSpeech reports whether pcm holds at least MinSpeech of voiced audio.
func (d Detector) HasSpeech(pcm []byte, f Format) bool {
	return d.Voiced(pcm, f) >= d.MinSpeech
}
