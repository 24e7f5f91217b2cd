package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultSampleRate matches the recogniser's expected input.
	DefaultSampleRate = 16000

	// DefaultBlockSize is the number of mono samples per [Frame].
	DefaultBlockSize = 1024

	// DefaultQueueCapacity bounds the frame channel between the driver
	// callback and the consumer.
	DefaultQueueCapacity = 256

	// dropLogEvery rate-limits the overflow warning.
	dropLogEvery = 100
)

// StreamConfig configures an input stream.
type StreamConfig struct {
	SampleRate int
	BlockSize  int

	// Channels requested from the device. Multi-channel input is downmixed
	// to mono before framing. Zero means 1.
	Channels int

	// Device is a [Resolve] selector. Empty selects the default input.
	Device string
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}

// InputStream is an open capture stream. Close stops the device; once Close
// returns the driver must not invoke the data callback again.
type InputStream interface {
	Close() error
}

// InputDriver opens capture streams on a host audio back-end.
//
// onData receives interleaved little-endian PCM16 bytes for cfg.Channels
// channels. It is called on a driver thread and must not block; the slice is
// only valid for the duration of the call.
type InputDriver interface {
	Directory
	OpenInput(ctx context.Context, dev DeviceInfo, cfg StreamConfig, onData func(pcm []byte)) (InputStream, error)
}

// SourceOption is a functional option for [NewSource].
type SourceOption func(*Source)

// WithQueueCapacity sets the frame channel capacity.
func WithQueueCapacity(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithDropHook registers fn to be called (on the driver thread) with the
// running drop total each time a frame is discarded because the channel is
// full.
func WithDropHook(fn func(total uint64)) SourceOption {
	return func(s *Source) { s.onDrop = fn }
}

// WithFrameHook registers fn to be called for every frame published.
func WithFrameHook(fn func()) SourceOption {
	return func(s *Source) { s.onFrame = fn }
}

// Source turns a push-style driver callback into a bounded channel of
// fixed-size mono frames. When the consumer falls behind, the newest frame is
// dropped and counted; the callback never blocks.
//
// A Source can be restarted after Stop; each session restarts sequence
// numbers at 1.
type Source struct {
	driver   InputDriver
	capacity int
	onDrop   func(uint64)
	onFrame  func()

	mu      sync.Mutex
	stream  InputStream
	running bool

	// cbMu serialises the callback against channel close in Stop.
	cbMu    sync.Mutex
	frames  chan Frame
	closed  bool
	cfg     StreamConfig
	pending []int16
	seq     uint64

	dropped atomic.Uint64
}

// NewSource returns a Source that captures through driver.
func NewSource(driver InputDriver, opts ...SourceOption) *Source {
	s := &Source{
		driver:   driver,
		capacity: DefaultQueueCapacity,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start resolves cfg.Device, opens the input stream and returns the frame
// channel. The channel is closed by [Source.Stop].
//
// Errors wrap [ErrDevice] when the device cannot be resolved or has no input
// channels, and [ErrStream] when the stream cannot be opened.
func (s *Source) Start(ctx context.Context, cfg StreamConfig) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, errors.New("audio: source already started")
	}
	cfg = cfg.withDefaults()

	devs, err := s.driver.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %v: %w", err, ErrDevice)
	}
	dev, err := Resolve(devs, cfg.Device, Input)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > dev.MaxInputChannels {
		cfg.Channels = dev.MaxInputChannels
	}
	if dev.DefaultSampleRate > 0 && dev.DefaultSampleRate != cfg.SampleRate {
		// Most back-ends resample; the recogniser still sees cfg.SampleRate.
		slog.Warn("audio: input device default rate differs from requested rate",
			"device", dev.Name,
			"device_rate", dev.DefaultSampleRate,
			"requested_rate", cfg.SampleRate,
		)
	}

	frames := make(chan Frame, s.capacity)
	s.cbMu.Lock()
	s.frames = frames
	s.closed = false
	s.cfg = cfg
	s.pending = make([]int16, 0, cfg.BlockSize*2)
	s.seq = 0
	s.cbMu.Unlock()
	s.dropped.Store(0)

	stream, err := s.driver.OpenInput(ctx, dev, cfg, s.push)
	if err != nil {
		s.cbMu.Lock()
		s.closed = true
		close(frames)
		s.cbMu.Unlock()
		if errors.Is(err, ErrDevice) || errors.Is(err, ErrStream) {
			return nil, err
		}
		return nil, fmt.Errorf("audio: open input %q: %v: %w", dev.Name, err, ErrStream)
	}
	s.stream = stream
	s.running = true

	slog.Info("audio capture started",
		"device", dev.Name,
		"format", formatString(cfg.SampleRate, cfg.Channels),
		"block_size", cfg.BlockSize,
	)
	return frames, nil
}

// push is the driver data callback.
func (s *Source) push(pcm []byte) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.closed {
		return
	}

	samples := Downmix(DecodePCM16(pcm), s.cfg.Channels)
	s.pending = append(s.pending, samples...)

	for len(s.pending) >= s.cfg.BlockSize {
		block := make([]int16, s.cfg.BlockSize)
		copy(block, s.pending[:s.cfg.BlockSize])
		s.pending = append(s.pending[:0], s.pending[s.cfg.BlockSize:]...)

		s.seq++
		f := Frame{
			Samples:    block,
			SampleRate: s.cfg.SampleRate,
			Seq:        s.seq,
			Captured:   time.Now(),
		}
		select {
		case s.frames <- f:
			if s.onFrame != nil {
				s.onFrame()
			}
		default:
			n := s.dropped.Add(1)
			if n == 1 || n%dropLogEvery == 0 {
				slog.Warn("audio capture queue full, dropping frame", "seq", f.Seq, "dropped_total", n)
			}
			if s.onDrop != nil {
				s.onDrop(n)
			}
		}
	}
}

// Stop closes the stream and then the frame channel. It is idempotent and
// safe to call before Start.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var err error
	if s.stream != nil {
		if cerr := s.stream.Close(); cerr != nil {
			err = fmt.Errorf("audio: close input stream: %w", cerr)
		}
		s.stream = nil
	}

	s.cbMu.Lock()
	s.closed = true
	s.pending = nil
	close(s.frames)
	s.cbMu.Unlock()

	slog.Info("audio capture stopped", "dropped_frames", s.dropped.Load())
	return err
}

// Running reports whether the stream is open.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Dropped returns the number of frames discarded in the current session.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}
