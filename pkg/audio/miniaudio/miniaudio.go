// Package miniaudio implements the voxloop audio back-end on top of miniaudio
// through github.com/gen2brain/malgo. It provides device enumeration, capture
// streams for [audio.Source], and a [Player] bound to a selectable output
// device.
//
// A single [Backend] owns the miniaudio context; create it once at startup
// and Close it after every stream and player built from it has been stopped.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxloop/pkg/audio"
)

// defaultChannels is assumed when a back-end reports no native formats.
const defaultChannels = 2

// Backend wraps a miniaudio context.
type Backend struct {
	ctx *malgo.AllocatedContext

	mu          sync.Mutex
	captureIDs  map[int]malgo.DeviceID
	playbackIDs map[int]malgo.DeviceID
	closeOnce   sync.Once
}

// New initialises miniaudio with its default back-end priority list.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %v: %w", err, audio.ErrDevice)
	}
	return &Backend{
		ctx:         ctx,
		captureIDs:  make(map[int]malgo.DeviceID),
		playbackIDs: make(map[int]malgo.DeviceID),
	}, nil
}

// Close releases the miniaudio context. It is idempotent.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.ctx.Uninit()
		b.ctx.Free()
	})
	return err
}

// Devices implements [audio.Directory]. Capture and playback endpoints that
// share a name are merged into one entry, mirroring how host APIs present
// duplex hardware.
func (b *Backend) Devices(_ context.Context) ([]audio.DeviceInfo, error) {
	captures, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list capture devices: %w", err)
	}
	playbacks, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: list playback devices: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.captureIDs)
	clear(b.playbackIDs)

	var devs []audio.DeviceInfo
	byName := make(map[string]int)

	for _, c := range captures {
		ch, rate := b.probe(malgo.Capture, c)
		idx := len(devs)
		devs = append(devs, audio.DeviceInfo{
			Index:             idx,
			ID:                c.ID.String(),
			Name:              c.Name(),
			HostAPI:           "miniaudio",
			MaxInputChannels:  ch,
			DefaultSampleRate: rate,
			DefaultInput:      c.IsDefault != 0,
		})
		byName[c.Name()] = idx
		b.captureIDs[idx] = c.ID
	}

	for _, p := range playbacks {
		ch, rate := b.probe(malgo.Playback, p)
		if idx, ok := byName[p.Name()]; ok {
			devs[idx].MaxOutputChannels = ch
			devs[idx].DefaultOutput = p.IsDefault != 0
			if devs[idx].DefaultSampleRate == 0 {
				devs[idx].DefaultSampleRate = rate
			}
			b.playbackIDs[idx] = p.ID
			continue
		}
		idx := len(devs)
		devs = append(devs, audio.DeviceInfo{
			Index:             idx,
			ID:                p.ID.String(),
			Name:              p.Name(),
			HostAPI:           "miniaudio",
			MaxOutputChannels: ch,
			DefaultSampleRate: rate,
			DefaultOutput:     p.IsDefault != 0,
		})
		b.playbackIDs[idx] = p.ID
	}
	return devs, nil
}

// probe queries native formats for channel count and preferred rate.
func (b *Backend) probe(kind malgo.DeviceType, info malgo.DeviceInfo) (channels, rate int) {
	full, err := b.ctx.DeviceInfo(kind, info.ID, malgo.Shared)
	if err != nil || full.FormatCount == 0 {
		return defaultChannels, 0
	}
	for i := range int(full.FormatCount) {
		f := full.Formats[i]
		if int(f.Channels) > channels {
			channels = int(f.Channels)
		}
		if rate == 0 && f.SampleRate != 0 {
			rate = int(f.SampleRate)
		}
	}
	if channels == 0 {
		channels = defaultChannels
	}
	return channels, rate
}

func (b *Backend) deviceID(kind malgo.DeviceType, index int) (malgo.DeviceID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if kind == malgo.Capture {
		id, ok := b.captureIDs[index]
		return id, ok
	}
	id, ok := b.playbackIDs[index]
	return id, ok
}

// OpenInput implements [audio.InputDriver].
func (b *Backend) OpenInput(_ context.Context, dev audio.DeviceInfo, cfg audio.StreamConfig, onData func([]byte)) (audio.InputStream, error) {
	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = uint32(cfg.Channels)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.PeriodSizeInFrames = uint32(cfg.BlockSize)
	if id, ok := b.deviceID(malgo.Capture, dev.Index); ok {
		dc.Capture.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(b.ctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			onData(in)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init capture device %q: %v: %w", dev.Name, err, audio.ErrStream)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("miniaudio: start capture device %q: %v: %w", dev.Name, err, audio.ErrStream)
	}
	return &inputStream{device: device}, nil
}

type inputStream struct {
	device *malgo.Device
	once   sync.Once
}

func (s *inputStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.device.Stop()
		s.device.Uninit()
	})
	return err
}

var (
	_ audio.InputDriver = (*Backend)(nil)
)
