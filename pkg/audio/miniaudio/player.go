package miniaudio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// Player plays WAV files on a selected output device. The zero device
// (before any SelectOutput) is the host default.
type Player struct {
	b *Backend

	mu     sync.Mutex
	out    *audio.DeviceInfo
	device *malgo.Device
	clip   *clip
}

// clip is the state shared with the miniaudio data callback.
type clip struct {
	pcm  []byte
	pos  int
	done atomic.Bool
}

func (c *clip) fill(out []byte) {
	n := copy(out, c.pcm[c.pos:])
	c.pos += n
	clear(out[n:])
	if c.pos >= len(c.pcm) {
		c.done.Store(true)
	}
}

// NewPlayer returns a Player using b's context.
func (b *Backend) NewPlayer() *Player {
	return &Player{b: b}
}

// SelectOutput implements [audio.OutputSelector].
func (p *Player) SelectOutput(dev audio.DeviceInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return errors.New("miniaudio: cannot change output device while playing")
	}
	p.out = &dev
	return nil
}

// Play implements [audio.Player]. The device is opened at the clip's native
// rate and channel count so no conversion is needed.
func (p *Player) Play(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("miniaudio: read %s: %w", path, err)
	}
	w, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("miniaudio: decode %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()

	c := &clip{pcm: audio.EncodePCM16(w.Samples)}
	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.Playback.Format = malgo.FormatS16
	dc.Playback.Channels = uint32(w.Channels)
	dc.SampleRate = uint32(w.SampleRate)
	if p.out != nil {
		if id, ok := p.b.deviceID(malgo.Playback, p.out.Index); ok {
			dc.Playback.DeviceID = id.Pointer()
		}
	}

	device, err := malgo.InitDevice(p.b.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			c.fill(out)
		},
	})
	if err != nil {
		return fmt.Errorf("miniaudio: init playback device: %v: %w", err, audio.ErrStream)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("miniaudio: start playback device: %v: %w", err, audio.ErrStream)
	}
	p.device = device
	p.clip = c
	return nil
}

// Playing implements [audio.Player]. The device is released as soon as the
// callback has consumed the whole clip.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return false
	}
	if p.clip.done.Load() {
		p.teardownLocked()
		return false
	}
	return true
}

// Halt implements [audio.Player].
func (p *Player) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	return nil
}

func (p *Player) teardownLocked() {
	if p.device == nil {
		return
	}
	_ = p.device.Stop()
	p.device.Uninit()
	p.device = nil
	p.clip = nil
}

var (
	_ audio.Player         = (*Player)(nil)
	_ audio.OutputSelector = (*Player)(nil)
)
