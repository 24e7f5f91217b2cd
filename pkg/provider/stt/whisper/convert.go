package whisper

// samplesToFloat32 normalises int16 PCM to float32 in [-1.0, 1.0), the input
// format whisper.cpp expects.
func samplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
