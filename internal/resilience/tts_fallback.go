package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with failover across several
// synthesizers, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var (
	_ tts.Synthesizer = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred back-end.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize renders req with the first healthy synthesizer. An empty clip
// counts as a failure so the next back-end gets a chance.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (tts.Audio, error) {
		a, err := s.Synthesize(ctx, req)
		if err == nil && len(a.Data) == 0 {
			return tts.Audio{}, fmt.Errorf("%w: empty audio", tts.ErrSynthesis)
		}
		return a, err
	})
}

// ListVoices returns the voices of the first healthy back-end that can list
// them.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]tts.VoiceProfile, error) {
		l, ok := s.(tts.VoiceLister)
		if !ok {
			return nil, fmt.Errorf("%T cannot list voices", s)
		}
		return l.ListVoices(ctx)
	})
}

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *FallbackGroup[tts.Synthesizer] {
	return f.group
}
