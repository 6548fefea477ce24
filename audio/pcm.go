package audio

import (
	"encoding/binary"
	"math"
)

const (
	// TargetSampleRate is the rate the recognition engine consumes
	TargetSampleRate = 16000
	Channels         = 1
	BitsPerSample    = 16
)

// BytesToSamples decodes PCM16LE. A trailing odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as PCM16LE
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Amplitude is the mean absolute sample value of a chunk
func Amplitude(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var total float64
	for _, s := range chunk {
		total += math.Abs(float64(s))
	}
	return total / float64(len(chunk))
}
