package whisper

import "testing"

func TestSamplesToFloat32(t *testing.T) {
	t.Parallel()
	got := samplesToFloat32([]int16{0, 16384, -32768, 32767})
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
