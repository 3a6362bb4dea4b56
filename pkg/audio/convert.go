package audio

import (
	"encoding/binary"
	"math"
)

// ToFloat32 converts int16 PCM samples to float32 normalised to [-1.0, 1.0)
// by dividing by 32768.
func ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FromFloat32 is the inverse of [ToFloat32]. Values outside [-1.0, 1.0] are
// clamped to the int16 range.
func FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		x := math.Round(float64(v) * 32768.0)
		switch {
		case x > math.MaxInt16:
			x = math.MaxInt16
		case x < math.MinInt16:
			x = math.MinInt16
		}
		out[i] = int16(x)
	}
	return out
}

// DecodePCM16 reads little-endian 16-bit PCM bytes into samples. A trailing
// odd byte is ignored.
func DecodePCM16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// EncodePCM16 writes samples as little-endian 16-bit PCM bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square energy of samples in int16 units.
// Returns 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
