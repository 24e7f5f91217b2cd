// Package mock provides a test double for [stt.Recognizer].
//
// Results are served in order from Responses; once exhausted, Text (or Err)
// is returned for every further call. RecognizeFunc overrides both.
//
// Example:
//
//	rec := &mock.Recognizer{Responses: []mock.Response{{Text: "hello"}}}
//	res, _ := rec.Recognize(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxloop/pkg/provider/stt"
)

// Response is one scripted recognition outcome.
type Response struct {
	Text string
	Err  error
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Responses are consumed one per call.
	Responses []Response

	// Text is returned once Responses is exhausted.
	Text string

	// Err is returned once Responses is exhausted.
	Err error

	// RecognizeFunc, if set, replaces the scripted behaviour.
	RecognizeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Calls records every request, with Samples copied.
	Calls []stt.Request
}

// Recognize implements stt.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	r.mu.Lock()
	cp := req
	cp.Samples = append([]int16(nil), req.Samples...)
	r.Calls = append(r.Calls, cp)
	fn := r.RecognizeFunc
	var resp Response
	if fn == nil {
		if len(r.Responses) > 0 {
			resp = r.Responses[0]
			r.Responses = r.Responses[1:]
		} else {
			resp = Response{Text: r.Text, Err: r.Err}
		}
	}
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if resp.Err != nil {
		return stt.Result{}, resp.Err
	}
	return stt.Result{Text: resp.Text}, nil
}

// CallCount returns the number of Recognize calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Requests returns a copy of the recorded calls.
func (r *Recognizer) Requests() []stt.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stt.Request, len(r.Calls))
	copy(out, r.Calls)
	return out
}

var _ stt.Recognizer = (*Recognizer)(nil)
