// Package stt defines the Recognizer interface for speech-to-text back-ends.
//
// A Recognizer turns one complete utterance of mono PCM16 audio into text.
// Utterance segmentation happens upstream (see internal/detector), so every
// back-end is driven in batch mode: whisper.cpp over HTTP or CGO, Deepgram
// over a short-lived WebSocket, or the OpenAI transcription endpoint.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrRecognizer classifies every recognition failure. Implementations wrap it
// so callers can distinguish a failed utterance from setup errors.
var ErrRecognizer = errors.New("stt: recognition failed")

// Request is one utterance submitted for recognition.
type Request struct {
	// Samples is mono little-endian-decoded PCM16.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// Language is a BCP-47 hint ("en", "de-DE"). Empty lets the back-end
	// auto-detect when it can.
	Language string
}

// Duration is the audio length of the request.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(r.Samples)) * int64(time.Second) / int64(r.SampleRate))
}

// Result is the recognised text of one utterance.
type Result struct {
	Text string

	// Confidence in [0,1]; zero when the back-end does not report it.
	Confidence float64

	// Language detected by the back-end, if reported.
	Language string
}

// Recognizer is the abstraction over any STT back-end.
type Recognizer interface {
	// Recognize transcribes req. An empty Text with a nil error means the
	// back-end heard nothing intelligible. Failures wrap [ErrRecognizer].
	Recognize(ctx context.Context, req Request) (Result, error)
}
