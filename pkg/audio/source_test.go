package audio_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/audio/mock"
)

func newDriver() *mock.Driver {
	return &mock.Driver{DevicesResult: []audio.DeviceInfo{
		{Index: 0, Name: "Mic", MaxInputChannels: 2, DefaultInput: true},
		{Index: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultOutput: true},
	}}
}

func TestSource_ReblocksAndSequences(t *testing.T) {
	t.Parallel()
	drv := newDriver()
	src := audio.NewSource(drv)

	frames, err := src.Start(context.Background(), audio.StreamConfig{SampleRate: 16000, BlockSize: 4})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 6 samples then 2 samples: two full blocks.
	drv.Emit(audio.EncodePCM16([]int16{1, 2, 3, 4, 5, 6}))
	drv.Emit(audio.EncodePCM16([]int16{7, 8}))

	f1 := <-frames
	f2 := <-frames
	if f1.Seq != 1 || f2.Seq != 2 {
		t.Errorf("seq = %d,%d, want 1,2", f1.Seq, f2.Seq)
	}
	if f1.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", f1.SampleRate)
	}
	want := [][]int16{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for i, f := range []audio.Frame{f1, f2} {
		for j := range want[i] {
			if f.Samples[j] != want[i][j] {
				t.Errorf("frame %d sample %d = %d, want %d", i, j, f.Samples[j], want[i][j])
			}
		}
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := <-frames; ok {
		t.Error("frame channel still open after Stop")
	}
}

func TestSource_DownmixesStereo(t *testing.T) {
	t.Parallel()
	drv := newDriver()
	src := audio.NewSource(drv)
	frames, err := src.Start(context.Background(), audio.StreamConfig{BlockSize: 2, Channels: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	drv.Emit(audio.EncodePCM16([]int16{100, 300, -100, -300}))
	f := <-frames
	if f.Samples[0] != 200 || f.Samples[1] != -200 {
		t.Errorf("samples = %v, want [200 -200]", f.Samples)
	}
}

func TestSource_DropsNewestWhenFull(t *testing.T) {
	t.Parallel()
	drv := newDriver()
	var hookTotal atomic.Uint64
	src := audio.NewSource(drv,
		audio.WithQueueCapacity(2),
		audio.WithDropHook(func(total uint64) { hookTotal.Store(total) }),
	)
	frames, err := src.Start(context.Background(), audio.StreamConfig{BlockSize: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	drv.Emit(audio.EncodePCM16([]int16{1, 2, 3, 4, 5}))

	if got := src.Dropped(); got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
	if got := hookTotal.Load(); got != 3 {
		t.Errorf("drop hook total = %d, want 3", got)
	}

	// The oldest frames survive; the newest were discarded.
	if f := <-frames; f.Seq != 1 || f.Samples[0] != 1 {
		t.Errorf("first frame = seq %d sample %d, want seq 1 sample 1", f.Seq, f.Samples[0])
	}
	if f := <-frames; f.Seq != 2 {
		t.Errorf("second frame seq = %d, want 2", f.Seq)
	}
	_ = src.Stop()
}

func TestSource_StopIdempotentAndBeforeStart(t *testing.T) {
	t.Parallel()
	drv := newDriver()
	src := audio.NewSource(drv)
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if _, err := src.Start(context.Background(), audio.StreamConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if drv.CloseCount != 1 {
		t.Errorf("CloseCount = %d, want 1", drv.CloseCount)
	}
	// Emitting after stop must not panic on a closed channel.
	drv.Emit(audio.EncodePCM16(make([]int16, 2048)))
}

func TestSource_RestartResetsSequence(t *testing.T) {
	t.Parallel()
	drv := newDriver()
	src := audio.NewSource(drv)
	ctx := context.Background()

	frames, err := src.Start(ctx, audio.StreamConfig{BlockSize: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit(audio.EncodePCM16([]int16{1, 2}))
	<-frames
	<-frames
	_ = src.Stop()

	frames, err = src.Start(ctx, audio.StreamConfig{BlockSize: 1})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer src.Stop()
	drv.Emit(audio.EncodePCM16([]int16{9}))
	if f := <-frames; f.Seq != 1 {
		t.Errorf("seq after restart = %d, want 1", f.Seq)
	}
}

func TestSource_StartErrors(t *testing.T) {
	t.Parallel()

	t.Run("double start", func(t *testing.T) {
		t.Parallel()
		src := audio.NewSource(newDriver())
		if _, err := src.Start(context.Background(), audio.StreamConfig{}); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer src.Stop()
		if _, err := src.Start(context.Background(), audio.StreamConfig{}); err == nil {
			t.Error("expected error on second Start")
		}
	})

	t.Run("device without input channels", func(t *testing.T) {
		t.Parallel()
		src := audio.NewSource(newDriver())
		_, err := src.Start(context.Background(), audio.StreamConfig{Device: "speakers"})
		if !errors.Is(err, audio.ErrDevice) {
			t.Errorf("err = %v, want ErrDevice", err)
		}
	})

	t.Run("stream open failure", func(t *testing.T) {
		t.Parallel()
		drv := newDriver()
		drv.OpenErr = errors.New("busy")
		src := audio.NewSource(drv)
		_, err := src.Start(context.Background(), audio.StreamConfig{})
		if !errors.Is(err, audio.ErrStream) {
			t.Errorf("err = %v, want ErrStream", err)
		}
		if src.Running() {
			t.Error("Running after failed Start")
		}
	})

	t.Run("enumeration failure", func(t *testing.T) {
		t.Parallel()
		drv := newDriver()
		drv.DevicesErr = errors.New("no backend")
		src := audio.NewSource(drv)
		_, err := src.Start(context.Background(), audio.StreamConfig{})
		if !errors.Is(err, audio.ErrDevice) {
			t.Errorf("err = %v, want ErrDevice", err)
		}
	})
}

func TestSource_ClampsChannelsToDevice(t *testing.T) {
	t.Parallel()
	drv := &mock.Driver{DevicesResult: []audio.DeviceInfo{
		{Index: 0, Name: "Mono Mic", MaxInputChannels: 1, DefaultInput: true},
	}}
	src := audio.NewSource(drv)
	if _, err := src.Start(context.Background(), audio.StreamConfig{Channels: 2}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()
	if got := drv.OpenCalls[0].Config.Channels; got != 1 {
		t.Errorf("opened with %d channels, want 1", got)
	}
}

// Not parallel: swaps the default logger.
func TestSource_WarnsOnDeviceRateMismatch(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name       string
		deviceRate int
		wantWarn   bool
	}{
		{name: "mismatch", deviceRate: 48000, wantWarn: true},
		{name: "match", deviceRate: 16000},
		{name: "unknown rate", deviceRate: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			drv := &mock.Driver{DevicesResult: []audio.DeviceInfo{{
				Name: "Mic", MaxInputChannels: 1, DefaultInput: true,
				DefaultSampleRate: tc.deviceRate,
			}}}
			src := audio.NewSource(drv)
			if _, err := src.Start(context.Background(), audio.StreamConfig{SampleRate: 16000}); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer src.Stop()

			out := buf.String()
			got := strings.Contains(out, "level=WARN") && strings.Contains(out, "device_rate=48000")
			if got != tc.wantWarn {
				t.Errorf("warned = %v, want %v; log:\n%s", got, tc.wantWarn, out)
			}
		})
	}
}
