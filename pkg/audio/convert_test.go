package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/pkg/audio"
)

func TestPCM16RoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.DecodePCM16(audio.EncodePCM16(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestDecodePCM16_OddByte(t *testing.T) {
	t.Parallel()
	got := audio.DecodePCM16([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "mono passthrough", in: []int16{5, 6}, channels: 1, want: []int16{5, 6}},
		{name: "stereo average", in: []int16{100, 200, -100, -200}, channels: 2, want: []int16{150, -150}},
		{name: "stereo clamp", in: []int16{32767, 32767}, channels: 2, want: []int16{32767}},
		{name: "three channels", in: []int16{3, 6, 9}, channels: 3, want: []int16{6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Downmix(tt.in, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestUpmix(t *testing.T) {
	t.Parallel()
	got := audio.Upmix([]int16{100, 200}, 2)
	want := []int16{100, 100, 200, 200}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate returns input", func(t *testing.T) {
		t.Parallel()
		in := []int16{1, 2, 3}
		if got := audio.Resample(in, 1, 16000, 16000); len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
	})

	t.Run("upsample doubles length", func(t *testing.T) {
		t.Parallel()
		in := make([]int16, 160)
		got := audio.Resample(in, 1, 16000, 32000)
		if len(got) != 320 {
			t.Errorf("len = %d, want 320", len(got))
		}
	})

	t.Run("stereo downsample keeps channel pairs", func(t *testing.T) {
		t.Parallel()
		in := make([]int16, 0, 96)
		for range 48 {
			in = append(in, 1000, -1000)
		}
		got := audio.Resample(in, 2, 48000, 16000)
		if len(got) != 32 {
			t.Fatalf("len = %d, want 32", len(got))
		}
		for i := 0; i < len(got); i += 2 {
			if got[i] != 1000 || got[i+1] != -1000 {
				t.Fatalf("frame %d = (%d,%d), want (1000,-1000)", i/2, got[i], got[i+1])
			}
		}
	})

	t.Run("interpolates midpoint", func(t *testing.T) {
		t.Parallel()
		got := audio.Resample([]int16{0, 100}, 1, 1, 2)
		if len(got) != 4 || got[1] != 50 {
			t.Errorf("got %v, want midpoint 50 at index 1", got)
		}
	})
}

func TestConvert_StereoToMonoResampled(t *testing.T) {
	t.Parallel()
	in := make([]int16, 0, 2*480)
	for range 480 {
		in = append(in, 200, 400)
	}
	got := audio.Convert(in, 2, 48000, 1, 16000)
	if len(got) != 160 {
		t.Fatalf("len = %d, want 160", len(got))
	}
	if got[0] != 300 {
		t.Errorf("got[0] = %d, want 300", got[0])
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(make([]int16, 100)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	// A constant half-scale signal has RMS 0.5.
	half := make([]int16, 64)
	for i := range half {
		half[i] = 16384
	}
	if got := audio.RMS(half); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(half) = %v, want 0.5", got)
	}
	// Sign does not matter.
	for i := range half {
		if i%2 == 0 {
			half[i] = -16384
		}
	}
	if got := audio.RMS(half); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(alternating) = %v, want 0.5", got)
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()
	f := audio.Frame{Samples: make([]int16, 1024), SampleRate: 16000}
	if got, want := f.Duration(), 64*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
	if got := audio.SamplesDuration(10, 0); got != 0 {
		t.Errorf("SamplesDuration with zero rate = %v, want 0", got)
	}
}
