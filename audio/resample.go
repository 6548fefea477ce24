package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	soxr "github.com/zaf/resample"
)

// Resampler quality presets, passed through to soxr
const (
	QualityQuick    = soxr.Quick
	QualityLow      = soxr.LowQ
	QualityMedium   = soxr.MediumQ
	QualityHigh     = soxr.HighQ
	QualityVeryHigh = soxr.VeryHighQ
)

var ErrInvalidRate = errors.New("invalid sample rate")

// Quality is the soxr preset used by Resample
var Quality = QualityHigh

// ParseQuality maps a config name to a soxr preset
func ParseQuality(name string) (int, error) {
	switch name {
	case "quick":
		return QualityQuick, nil
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "", "high":
		return QualityHigh, nil
	case "very_high":
		return QualityVeryHigh, nil
	}
	return 0, fmt.Errorf("unknown resample quality %q", name)
}

// ResampledLength is round(n * targetRate / sourceRate)
func ResampledLength(n, sourceRate, targetRate int) int {
	return int(math.Round(float64(n) * float64(targetRate) / float64(sourceRate)))
}

// Resample converts mono PCM16 from sourceRate to targetRate. The output has
// exactly ResampledLength samples. When conversion fails the input is returned
// unchanged together with the error so the caller can keep the stream going.
func Resample(samples []int16, sourceRate, targetRate int) ([]int16, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return samples, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, sourceRate, targetRate)
	}
	if sourceRate == targetRate || len(samples) == 0 {
		return samples, nil
	}

	out, err := soxrResample(samples, sourceRate, targetRate)
	if err != nil {
		return samples, err
	}
	return fitLength(out, ResampledLength(len(samples), sourceRate, targetRate)), nil
}

func soxrResample(samples []int16, sourceRate, targetRate int) ([]int16, error) {
	buf := &bytes.Buffer{}
	buf.Grow(ResampledLength(len(samples), sourceRate, targetRate)*2 + 64)

	r, err := soxr.New(buf, float64(sourceRate), float64(targetRate), Channels, soxr.I16, Quality)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	if _, err := r.Write(SamplesToBytes(samples)); err != nil {
		r.Close()
		return nil, fmt.Errorf("resample write: %w", err)
	}
	// Close flushes the samples still held in the filter
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	return BytesToSamples(buf.Bytes()), nil
}

// fitLength trims or zero-pads to n samples
func fitLength(samples []int16, n int) []int16 {
	if len(samples) >= n {
		return samples[:n]
	}
	padded := make([]int16, n)
	copy(padded, samples)
	return padded
}
