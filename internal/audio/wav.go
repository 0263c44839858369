package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

const wavHeaderSize = 44

// EncodeWAV wraps PCM16LE samples in a canonical RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * 2

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV extracts PCM16 samples and format from a RIFF/WAVE payload.
// ok is false when data is not a PCM16 WAV file.
func DecodeWAV(data []byte) (pcm []byte, f Format, ok bool) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, Format{}, false
	}
	off := 12
	var haveFmt bool
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// tolerate streaming writers that leave the data size unset
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, false
			}
			if binary.LittleEndian.Uint16(data[body:body+2]) != 1 || binary.LittleEndian.Uint16(data[body+14:body+16]) != 16 {
				return nil, Format{}, false
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, false
			}
			return data[body : body+size], f, true
		}
		off = body + size + size%2
	}
	return nil, Format{}, false
}

// PCMDuration reports how long n bytes of PCM16 in format f last.
func PCMDuration(n int, f Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
