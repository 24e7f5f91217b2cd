package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const wavHeaderSize = 44

// WAV is a decoded 16-bit PCM RIFF/WAVE payload.
type WAV struct {
	SampleRate int
	Channels   int

	// Samples are interleaved when Channels > 1.
	Samples []int16
}

// Duration returns the playback length of the clip.
func (w WAV) Duration() time.Duration {
	if w.Channels <= 0 {
		return 0
	}
	return SamplesDuration(len(w.Samples)/w.Channels, w.SampleRate)
}

// EncodeWAV wraps interleaved int16 samples in a canonical 44-byte PCM
// RIFF/WAVE header.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	return EncodeWAVBytes(EncodePCM16(samples), sampleRate, channels)
}

// EncodeWAVBytes wraps raw little-endian PCM16 bytes in a WAV header.
func EncodeWAVBytes(pcm []byte, sampleRate, channels int) []byte {
	const bits = 16
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * bits / 8
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bits)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV parses a 16-bit PCM WAV file, walking RIFF chunks until the data
// chunk. Streaming servers sometimes write a placeholder data size
// (0 or 0xFFFFFFFF); in that case everything after the chunk header is used.
func DecodeWAV(b []byte) (WAV, error) {
	if len(b) < 12 {
		return WAV{}, errors.New("audio: wav too short")
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAV{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		w       WAV
		bits    int
		haveFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return WAV{}, errors.New("audio: truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			w.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; accept it when the sample width is 16.
			if format != 1 && format != 0xFFFE {
				return WAV{}, fmt.Errorf("audio: unsupported wav format tag %d", format)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAV{}, errors.New("audio: data chunk before fmt chunk")
			}
			if bits != 16 {
				return WAV{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			end := body + size
			if size == 0 || end > len(b) || end < body {
				end = len(b)
			}
			w.Samples = DecodePCM16(b[body:end])
			if w.Channels <= 0 {
				w.Channels = 1
			}
			return w, nil
		}

		off = body + size
		if size%2 != 0 {
			off++
		}
	}
	return WAV{}, errors.New("audio: wav missing data chunk")
}
