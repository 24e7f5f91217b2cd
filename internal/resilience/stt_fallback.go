package resilience

import (
	"context"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// STTFallback implements [stt.Recognizer] with failover across several
// recognizers, each behind its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

var _ stt.Recognizer = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred back-end.
func NewSTTFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognizer.
func (f *STTFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Recognize runs req against the first healthy recognizer. An empty
// transcript is a valid answer (silence, noise) and does not fail over.
func (f *STTFallback) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(r stt.Recognizer) (stt.Result, error) {
		return r.Recognize(ctx, req)
	})
}

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Recognizer] {
	return f.group
}
