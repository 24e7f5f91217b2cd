// Package audio defines the local audio device abstractions used by voxloop:
// device enumeration and selection, a bounded capture [Source] that turns a
// driver callback into a channel of fixed-size [Frame] values, and the
// [Player] interface used by the playback queue.
//
// Concrete back-ends live in sub-packages (audio/miniaudio, audio/speaker).
// The package lives under pkg/ because third-party back-ends are expected to
// implement [Directory], [InputDriver] and [Player].
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrDevice reports that a requested device does not exist or lacks channels
// in the needed direction. It is fatal during startup.
var ErrDevice = errors.New("audio: device error")

// ErrStream reports that an audio stream could not be opened or started.
var ErrStream = errors.New("audio: stream error")

// Direction selects input (capture) or output (playback) capabilities.
type Direction int

const (
	// Input is the capture direction.
	Input Direction = iota

	// Output is the playback direction.
	Output
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one host audio device.
type DeviceInfo struct {
	// Index is the position of the device in the enumeration. It is the
	// numeric selector accepted by [Resolve].
	Index int

	// ID is the back-end specific identifier. Empty means "default device".
	ID string

	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate int

	DefaultInput  bool
	DefaultOutput bool
}

// Channels returns the maximum channel count for dir.
func (d DeviceInfo) Channels(dir Direction) int {
	if dir == Input {
		return d.MaxInputChannels
	}
	return d.MaxOutputChannels
}

func (d DeviceInfo) isDefault(dir Direction) bool {
	if dir == Input {
		return d.DefaultInput
	}
	return d.DefaultOutput
}

// Directory enumerates host audio devices.
//
// Implementations must be safe for concurrent use.
type Directory interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
}

// Resolve picks a device from devs for dir using selector:
//
//   - "" selects the default device for dir (or the first capable one when no
//     device is flagged default);
//   - an all-digit selector is an index into the enumeration;
//   - anything else is matched as a case-insensitive substring of the name.
//
// The chosen device must have at least one channel in dir, otherwise
// [ErrDevice] is returned.
func Resolve(devs []DeviceInfo, selector string, dir Direction) (DeviceInfo, error) {
	selector = strings.TrimSpace(selector)

	if selector == "" {
		var first *DeviceInfo
		for i := range devs {
			if devs[i].Channels(dir) == 0 {
				continue
			}
			if devs[i].isDefault(dir) {
				return devs[i], nil
			}
			if first == nil {
				first = &devs[i]
			}
		}
		if first != nil {
			return *first, nil
		}
		return DeviceInfo{}, fmt.Errorf("no %s device available: %w", dir, ErrDevice)
	}

	if idx, err := strconv.Atoi(selector); err == nil {
		for _, d := range devs {
			if d.Index != idx {
				continue
			}
			if d.Channels(dir) == 0 {
				return DeviceInfo{}, fmt.Errorf("device %d %q has no %s channels: %w", idx, d.Name, dir, ErrDevice)
			}
			return d, nil
		}
		return DeviceInfo{}, fmt.Errorf("device index %d not found: %w", idx, ErrDevice)
	}

	needle := strings.ToLower(selector)
	matched := false
	for _, d := range devs {
		if !strings.Contains(strings.ToLower(d.Name), needle) {
			continue
		}
		matched = true
		if d.Channels(dir) > 0 {
			return d, nil
		}
	}
	if matched {
		return DeviceInfo{}, fmt.Errorf("device matching %q has no %s channels: %w", selector, dir, ErrDevice)
	}
	return DeviceInfo{}, fmt.Errorf("no device matching %q: %w", selector, ErrDevice)
}

// WriteDeviceList prints devs in the "Device N: name (in:X out:Y)" layout,
// marking the default input and output devices.
func WriteDeviceList(w io.Writer, devs []DeviceInfo) error {
	if _, err := fmt.Fprintf(w, "Found %d devices\n", len(devs)); err != nil {
		return err
	}
	for _, d := range devs {
		var marks []string
		if d.DefaultInput {
			marks = append(marks, "default input")
		}
		if d.DefaultOutput {
			marks = append(marks, "default output")
		}
		suffix := ""
		if len(marks) > 0 {
			suffix = " [" + strings.Join(marks, ", ") + "]"
		}
		if _, err := fmt.Fprintf(w, "Device %d: %s (in:%d out:%d)%s\n",
			d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels, suffix); err != nil {
			return err
		}
	}
	return nil
}
