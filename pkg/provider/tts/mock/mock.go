// Package mock provides a test double for [tts.Synthesizer].
//
// Synthesizer returns a tiny valid WAV clip by default so playback code can
// decode what it receives. Err, SynthesizeFunc and Block let tests script
// failures and slow back-ends.
//
// Example:
//
//	s := &mock.Synthesizer{Samples: []int16{1, 2, 3}}
//	clip, _ := s.Synthesize(ctx, tts.Request{Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer and tts.VoiceLister.
type Synthesizer struct {
	mu sync.Mutex

	// Samples are wrapped into the returned WAV. Nil yields a short
	// silent clip.
	Samples []int16

	// SampleRate of the returned clip. Zero means 16000.
	SampleRate int

	// Err, if non-nil, is returned instead of audio.
	Err error

	// ErrFor maps request text to a per-utterance failure.
	ErrFor map[string]error

	// Empty returns a zero-length Data payload with no error.
	Empty bool

	// Block, if non-nil, makes Synthesize wait until it is closed or ctx ends.
	Block chan struct{}

	// SynthesizeFunc, if set, replaces the scripted behaviour.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (tts.Audio, error)

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// Calls records every request in arrival order.
	Calls []tts.Request
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, req)
	fn, block := s.SynthesizeFunc, s.Block
	err := s.Err
	if e, ok := s.ErrFor[req.Text]; ok {
		err = e
	}
	samples, rate, empty := s.Samples, s.SampleRate, s.Empty
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if rate == 0 {
		rate = 16000
	}
	if empty {
		return tts.Audio{Format: tts.FormatWAV, SampleRate: rate, Channels: 1}, nil
	}
	if samples == nil {
		samples = make([]int16, 160)
	}
	return tts.Audio{
		Data:       audio.EncodeWAV(samples, rate, 1),
		Format:     tts.FormatWAV,
		SampleRate: rate,
		Channels:   1,
	}, nil
}

// ListVoices implements tts.VoiceLister.
func (s *Synthesizer) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.VoiceProfile(nil), s.Voices...), nil
}

// CallCount returns the number of Synthesize calls.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Texts returns the request texts in call order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}

var (
	_ tts.Synthesizer = (*Synthesizer)(nil)
	_ tts.VoiceLister = (*Synthesizer)(nil)
)
