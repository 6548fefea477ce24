package audio

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, rate int, freq float64, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestSamplesBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, samples, BytesToSamples(SamplesToBytes(samples)))
	assert.Equal(t, []int16{0x0201}, BytesToSamples([]byte{1, 2, 3}))
}

func TestResampleIdentity(t *testing.T) {
	in := sine(1600, 16000, 440, 8000)
	out, err := Resample(in, 16000, 16000)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResampleLength(t *testing.T) {
	cases := []struct {
		rate  int
		count int
	}{
		{48000, 4800},
		{44100, 4410},
		{44100, 1024},
		{22050, 999},
		{8000, 800},
		{24000, 480},
	}
	for _, c := range cases {
		in := sine(c.count, c.rate, 300, 6000)
		out, err := Resample(in, c.rate, TargetSampleRate)
		require.NoError(t, err, "rate %d", c.rate)
		want := int(math.Round(float64(c.count) * TargetSampleRate / float64(c.rate)))
		assert.InDelta(t, want, len(out), 1, "rate %d count %d", c.rate, c.count)
	}
}

func TestResampleKeepsSignal(t *testing.T) {
	in := sine(4800, 48000, 440, 10000)
	out, err := Resample(in, 48000, TargetSampleRate)
	require.NoError(t, err)
	require.Len(t, out, 1600)

	// A 440 Hz tone stays well inside the passband, so energy survives
	assert.InDelta(t, Amplitude(in), Amplitude(out), Amplitude(in)*0.2)
}

func TestResampleFallsBackToInput(t *testing.T) {
	in := []int16{1, 2, 3}
	out, err := Resample(in, 0, TargetSampleRate)
	require.ErrorIs(t, err, ErrInvalidRate)
	assert.Equal(t, in, out)

	out, err = Resample(in, 44100, -1)
	require.ErrorIs(t, err, ErrInvalidRate)
	assert.Equal(t, in, out)
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality("")
	require.NoError(t, err)
	assert.Equal(t, QualityHigh, q)

	_, err = ParseQuality("ultra")
	require.Error(t, err)
}

func TestFitLength(t *testing.T) {
	assert.Equal(t, []int16{1, 2}, fitLength([]int16{1, 2, 3}, 2))
	assert.Equal(t, []int16{1, 0, 0}, fitLength([]int16{1}, 3))
}

func TestEnergyDetector(t *testing.T) {
	d := NewEnergyDetector(0)
	quiet := sine(320, 16000, 200, 20)
	loud := sine(320, 16000, 200, 8000)

	// Calibration chunks never count as speech
	for i := 0; i < calibrationChunks; i++ {
		assert.False(t, d.IsSpeech(loud))
	}

	d = NewEnergyDetector(DefaultVADThreshold)
	for i := 0; i < calibrationChunks; i++ {
		d.IsSpeech(quiet)
	}
	assert.False(t, d.IsSpeech(quiet))
	assert.True(t, d.IsSpeech(loud))
	assert.False(t, d.IsSpeech(nil))

	floor := d.BackgroundNoise()
	d.IsSpeech(loud)
	assert.Equal(t, floor, d.BackgroundNoise(), "speech must not raise the noise floor")
}

func TestWavRoundTrip(t *testing.T) {
	samples := sine(1000, 16000, 440, 12000)
	var buf bytes.Buffer
	require.NoError(t, WriteWav(&buf, samples, 16000))

	r, err := NewWavReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 16000, r.SampleRate)
	assert.Equal(t, 1, r.Channels)

	var got []int16
	for {
		chunk, err := r.Read(256)
		got = append(got, chunk...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, samples, got)
}
