// Package tts defines the Synthesizer interface for text-to-speech back-ends.
//
// A Synthesizer turns one finalised utterance into a complete audio clip.
// Clips are returned as WAV so the playback side needs a single decoder
// regardless of which back-end produced them.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrSynthesis classifies every synthesis failure, including a back-end that
// returns no audio.
var ErrSynthesis = errors.New("tts: synthesis failed")

// Format names the container of an [Audio] payload. It doubles as the file
// extension used when the clip is written to disk.
type Format string

const (
	// FormatWAV is 16-bit PCM RIFF/WAVE.
	FormatWAV Format = "wav"
)

// Extension returns the file extension for f, defaulting to "wav".
func (f Format) Extension() string {
	if f == "" {
		return string(FormatWAV)
	}
	return string(f)
}

// Request is one synthesis job.
type Request struct {
	// Text to speak. Never empty; callers filter blank utterances.
	Text string

	// Language is a BCP-47 hint. Empty uses the back-end default.
	Language string

	// Voice is a back-end specific voice identifier. Empty uses the
	// configured default voice.
	Voice string
}

// Audio is a synthesised clip.
type Audio struct {
	Data   []byte
	Format Format

	SampleRate int
	Channels   int
}

// Synthesizer is the abstraction over any TTS back-end.
type Synthesizer interface {
	// Synthesize renders req. Failures and empty results wrap [ErrSynthesis].
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// VoiceProfile describes a voice offered by a back-end.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}

// VoiceLister is implemented by back-ends that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
