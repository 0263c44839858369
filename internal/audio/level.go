package audio

import (
	"encoding/binary"
	"math"
)

// VoiceRMS is the energy above which a PCM16 buffer is treated as speech.
const VoiceRMS = 250.0

// RMS computes the root-mean-square level of PCM16LE samples.
// Large buffers are scanned sparsely to keep the cost flat.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	step := 1
	if len(pcm) > 3200 {
		step = 2
	}
	var sum float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		sum += v * v
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// HasVoice reports whether pcm carries enough energy to contain speech.
func HasVoice(pcm []byte) bool { return RMS(pcm) >= VoiceRMS }
