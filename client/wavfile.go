package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bosley/rtstt/audio"
	"github.com/bosley/rtstt/logger"
)

type StreamOptions struct {
	// Audio duration per frame
	Chunk time.Duration

	// Send frames at the pace they would be recorded
	Realtime bool

	// Silence appended after the file so the recognizer can finish the last sentence
	TrailingSilence time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Chunk <= 0 {
		o.Chunk = 100 * time.Millisecond
	}
	return o
}

// StreamWAVFile streams a 16-bit PCM WAV file to the server at its native
// sample rate. Multi-channel files are reduced to their first channel.
func (c *Client) StreamWAVFile(ctx context.Context, path string, opts StreamOptions) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader, err := audio.NewWavReader(file)
	if err != nil {
		return err
	}
	return c.StreamWAV(ctx, reader, opts)
}

func (c *Client) StreamWAV(ctx context.Context, reader *audio.WavReader, opts StreamOptions) error {
	opts = opts.withDefaults()
	rate := reader.SampleRate
	chunkSamples := int(opts.Chunk.Seconds() * float64(rate))
	if chunkSamples <= 0 {
		chunkSamples = 1
	}

	c.logger.Info("Streaming WAV audio",
		logger.Int("sample_rate", rate),
		logger.Int("channels", reader.Channels),
		logger.Duration("chunk", opts.Chunk),
		logger.Bool("realtime", opts.Realtime))

	var ticker *time.Ticker
	if opts.Realtime {
		ticker = time.NewTicker(opts.Chunk)
		defer ticker.Stop()
	}

	send := func(samples []int16) error {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		return c.SendSamples(uint32(rate), samples)
	}

	frames := 0
	for {
		samples, err := reader.Read(chunkSamples)
		if len(samples) > 0 {
			if sendErr := send(samples); sendErr != nil {
				return sendErr
			}
			frames++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	silence := make([]int16, chunkSamples)
	for sent := time.Duration(0); sent < opts.TrailingSilence; sent += opts.Chunk {
		if err := send(silence); err != nil {
			return err
		}
		frames++
	}

	c.logger.Info("Finished streaming", logger.Int("frames", frames))
	return nil
}
