package audio

import (
	"math"
	"time"
)

// Frame is one fixed-size block of mono PCM16 audio captured from an input
// device. Frames are immutable after they are published on a [Source]
// channel: the capture callback copies driver memory before sending.
type Frame struct {
	// Samples holds little-endian decoded int16 PCM, one channel.
	Samples []int16

	// SampleRate in Hz (16000 for the default recogniser input).
	SampleRate int

	// Seq is monotonic within one capture session and starts at 1.
	Seq uint64

	// Captured is the wall-clock time the block was completed.
	Captured time.Time
}

// Duration reports the audio length of the frame derived from its sample
// count. It never consults wall-clock time.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a mono sample count at rate Hz into a duration.
// A non-positive rate yields zero.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}

// RMS returns the root-mean-square level of samples normalised to [-1, 1].
// An empty slice has level 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
