// Package mock provides in-memory implementations of [audio.InputDriver] and
// [audio.Player] for unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests
// can assert on call counts and arguments, and expose fields that control
// return values.
//
// Typical usage:
//
//	drv := &mock.Driver{DevicesResult: []audio.DeviceInfo{{Index: 0, Name: "Mic", MaxInputChannels: 1, DefaultInput: true}}}
//	src := audio.NewSource(drv)
//	frames, _ := src.Start(ctx, audio.StreamConfig{BlockSize: 4})
//	drv.Emit(audio.EncodePCM16([]int16{1, 2, 3, 4}))
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// ─── Driver ──────────────────────────────────────────────────────────────────

// Driver is a mock [audio.InputDriver]. Emit feeds bytes into the callback of
// the most recently opened stream.
type Driver struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices.
	DevicesResult []audio.DeviceInfo

	// DevicesErr is returned by Devices.
	DevicesErr error

	// OpenErr is returned by OpenInput.
	OpenErr error

	// OpenCalls records the device and config of every OpenInput call.
	OpenCalls []OpenCall

	// CloseCount counts stream closes.
	CloseCount int

	onData func([]byte)
}

// OpenCall records one OpenInput invocation.
type OpenCall struct {
	Device audio.DeviceInfo
	Config audio.StreamConfig
}

// Devices implements [audio.Directory].
func (d *Driver) Devices(context.Context) ([]audio.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DevicesErr != nil {
		return nil, d.DevicesErr
	}
	out := make([]audio.DeviceInfo, len(d.DevicesResult))
	copy(out, d.DevicesResult)
	return out, nil
}

// OpenInput implements [audio.InputDriver].
func (d *Driver) OpenInput(_ context.Context, dev audio.DeviceInfo, cfg audio.StreamConfig, onData func([]byte)) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Device: dev, Config: cfg})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.onData = onData
	return &stream{d: d}, nil
}

// Emit delivers pcm to the open stream's callback. It is a no-op when no
// stream is open.
func (d *Driver) Emit(pcm []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

// Opened reports whether a stream is currently open.
func (d *Driver) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onData != nil
}

// Closes returns CloseCount under the mock's lock.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCount
}

type stream struct {
	d    *Driver
	once sync.Once
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.d.mu.Lock()
		s.d.onData = nil
		s.d.CloseCount++
		s.d.mu.Unlock()
	})
	return nil
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player]. Each Play marks the player busy until
// Finish or Halt is called, or until AutoFinish plays through.
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play (and the call still recorded).
	PlayErr error

	// PlayErrFor returns an error for specific paths.
	PlayErrFor map[string]error

	// HaltErr is returned by Halt.
	HaltErr error

	// AutoFinish makes each clip report not-playing after this many Playing
	// polls. Zero keeps clips playing until Finish or Halt.
	AutoFinish int

	// IgnoreHalt makes Halt leave the clip playing.
	IgnoreHalt bool

	// OnHalt, when set, runs at the start of every Halt call without the
	// mock's lock held.
	OnHalt func()

	// Played records every path passed to Play in order.
	Played []string

	// HaltCount counts Halt calls.
	HaltCount int

	// Selected records devices passed to SelectOutput.
	Selected []audio.DeviceInfo

	// MaxConcurrent is the highest number of clips observed playing at once.
	MaxConcurrent int

	playing bool
	polls   int
	started chan string
}

// Started returns a channel receiving each path as playback begins. It must
// be called before Play to observe events; sends never block.
func (p *Player) Started() <-chan string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan string, 64)
	}
	return p.started
}

// Play implements [audio.Player].
func (p *Player) Play(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Played = append(p.Played, path)
	if err := p.PlayErrFor[path]; err != nil {
		return err
	}
	if p.PlayErr != nil {
		return p.PlayErr
	}
	if p.playing {
		p.MaxConcurrent = 2
		return errors.New("mock: play while already playing")
	}
	p.playing = true
	p.polls = 0
	if p.MaxConcurrent < 1 {
		p.MaxConcurrent = 1
	}
	if p.started != nil {
		select {
		case p.started <- path:
		default:
		}
	}
	return nil
}

// Playing implements [audio.Player].
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.AutoFinish > 0 {
		p.polls++
		if p.polls >= p.AutoFinish {
			p.playing = false
		}
	}
	return p.playing
}

// Halt implements [audio.Player].
func (p *Player) Halt() error {
	p.mu.Lock()
	hook := p.OnHalt
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.HaltCount++
	if !p.IgnoreHalt {
		p.playing = false
	}
	return p.HaltErr
}

// Finish ends the current clip as if it had played to the end.
func (p *Player) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// SelectOutput implements [audio.OutputSelector].
func (p *Player) SelectOutput(dev audio.DeviceInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Selected = append(p.Selected, dev)
	return nil
}

// PlayedPaths returns a copy of Played.
func (p *Player) PlayedPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Played))
	copy(out, p.Played)
	return out
}

var (
	_ audio.InputDriver    = (*Driver)(nil)
	_ audio.Player         = (*Player)(nil)
	_ audio.OutputSelector = (*Player)(nil)
)
