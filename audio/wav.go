package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"
)

const wavFormatPCM = 1

// WriteWav writes mono PCM16 samples as a complete WAV stream
func WriteWav(w io.Writer, samples []int16, sampleRate int) error {
	writer := wav.NewWriter(w, uint32(len(samples)), Channels, uint32(sampleRate), BitsPerSample)

	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(s)
	}
	if err := writer.WriteSamples(out); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	return nil
}

// WriteWavFile creates path and writes samples to it
func WriteWavFile(path string, samples []int16, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	if err := WriteWav(file, samples, sampleRate); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WavReader yields PCM16 chunks from a WAV file, keeping the first channel
type WavReader struct {
	reader     *wav.Reader
	SampleRate int
	Channels   int
}

// NewWavReader validates the header of a 16-bit PCM WAV stream
func NewWavReader(r interface {
	io.Reader
	io.ReaderAt
}) (*WavReader, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav format: %w", err)
	}
	if format.AudioFormat != wavFormatPCM || format.BitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("unsupported wav encoding: format %d, %d bits", format.AudioFormat, format.BitsPerSample)
	}
	return &WavReader{
		reader:     reader,
		SampleRate: int(format.SampleRate),
		Channels:   int(format.NumChannels),
	}, nil
}

// Read returns up to n samples, and io.EOF once the data chunk is exhausted
func (r *WavReader) Read(n int) ([]int16, error) {
	samples, err := r.reader.ReadSamples(uint32(n))
	if len(samples) == 0 && err == nil {
		err = io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}

	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(s.Values[0])
	}
	return out, err
}
