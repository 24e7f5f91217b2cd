// Package speaker implements [audio.Player] on the system default output
// device using github.com/ebitengine/oto/v3.
//
// oto allows exactly one context per process and fixes its sample rate and
// channel count at creation, so clips are converted to the context format
// before playback. Device selection is not supported; use the miniaudio
// back-end for that.
package speaker

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Option is a functional option for [New].
type Option func(*config)

type config struct {
	sampleRate int
	channels   int
	bufferSize int
}

// WithFormat sets the context sample rate and channel count.
func WithFormat(sampleRate, channels int) Option {
	return func(c *config) {
		c.sampleRate = sampleRate
		c.channels = channels
	}
}

// WithBufferSize sets the oto buffer size in bytes.
func WithBufferSize(n int) Option {
	return func(c *config) { c.bufferSize = n }
}

// Player plays WAV files through oto.
type Player struct {
	ctx      *oto.Context
	rate     int
	channels int

	mu     sync.Mutex
	player *oto.Player
}

// New creates the oto context and waits for the device to become ready.
func New(opts ...Option) (*Player, error) {
	cfg := config{sampleRate: 24000, channels: 2}
	for _, o := range opts {
		o(&cfg)
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.sampleRate,
		ChannelCount: cfg.channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: open output: %v: %w", err, audio.ErrStream)
	}
	<-ready
	return &Player{ctx: ctx, rate: cfg.sampleRate, channels: cfg.channels}, nil
}

// Play implements [audio.Player].
func (p *Player) Play(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("speaker: read %s: %w", path, err)
	}
	w, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("speaker: decode %s: %w", path, err)
	}
	pcm := audio.Convert(w.Samples, w.Channels, w.SampleRate, p.channels, p.rate)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	p.player = p.ctx.NewPlayer(bytes.NewReader(audio.EncodePCM16(pcm)))
	p.player.Play()
	return nil
}

// Playing implements [audio.Player].
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return false
	}
	if !p.player.IsPlaying() {
		p.closeLocked()
		return false
	}
	return true
}

// Halt implements [audio.Player].
func (p *Player) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		p.player.Pause()
	}
	p.closeLocked()
	return nil
}

// SelectOutput implements [audio.OutputSelector]. Only the default device is
// reachable through oto.
func (p *Player) SelectOutput(dev audio.DeviceInfo) error {
	if dev.DefaultOutput {
		return nil
	}
	return fmt.Errorf("speaker: cannot route to %q, only the default output is supported: %w", dev.Name, audio.ErrDevice)
}

func (p *Player) closeLocked() {
	if p.player == nil {
		return
	}
	_ = p.player.Close()
	p.player = nil
}

var (
	_ audio.Player         = (*Player)(nil)
	_ audio.OutputSelector = (*Player)(nil)
)
