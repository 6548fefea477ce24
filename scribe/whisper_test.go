package scribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/rtstt/logger"
)

const (
	chunkSamples = 320

	// Matches the detector's calibration window
	calibrationChunksForTest = 5
)

func fakeWhisper(t *testing.T, output string) (bin, model string) {
	t.Helper()
	dir := t.TempDir()

	bin = filepath.Join(dir, "whisper-cli")
	script := "#!/bin/sh\ncat <<'EOF'\n" + output + "\nEOF\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	model = filepath.Join(dir, "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0644))
	return bin, model
}

func chunk(value int16) []int16 {
	c := make([]int16, chunkSamples)
	for i := range c {
		if i%2 == 0 {
			c[i] = value
		} else {
			c[i] = -value
		}
	}
	return c
}

func feedChunks(t *testing.T, e *WhisperEngine, value int16, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.Feed(chunk(value)))
	}
}

func TestWhisperEngineTranscribesUtterance(t *testing.T) {
	bin, model := fakeWhisper(t, "[00:00:00.000 --> 00:00:01.000]  hello world.")
	e := NewWhisperEngine(WhisperConfig{
		Path:              bin,
		Model:             model,
		PostSpeechSilence: 100 * time.Millisecond,
		PollTimeout:       50 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, e.Init(context.Background()))
	defer e.Shutdown()

	feedChunks(t, e, 5, calibrationChunksForTest)
	feedChunks(t, e, 5000, 10)

	text, err := e.PollFinal(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text, "utterance must not finish before trailing silence")

	// 100ms at 16kHz is 1600 samples, five quiet chunks
	feedChunks(t, e, 5, 5)

	text, err = e.PollFinal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world.", text)
}

func TestWhisperEngineDropsShortUtterances(t *testing.T) {
	bin, model := fakeWhisper(t, "noise")
	e := NewWhisperEngine(WhisperConfig{
		Path:              bin,
		Model:             model,
		PostSpeechSilence: 100 * time.Millisecond,
		MinRecording:      time.Second,
		PollTimeout:       20 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, e.Init(context.Background()))
	defer e.Shutdown()

	feedChunks(t, e, 5, calibrationChunksForTest)
	feedChunks(t, e, 5000, 2)
	feedChunks(t, e, 5, 5)

	text, err := e.PollFinal(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestWhisperEngineRealtimePartials(t *testing.T) {
	bin, model := fakeWhisper(t, "[00:00:00.000 --> 00:00:00.500]  hello")
	e := NewWhisperEngine(WhisperConfig{
		Path:              bin,
		Model:             model,
		PostSpeechSilence: time.Second,
		RealtimeInterval:  10 * time.Millisecond,
	}, logger.Nop())

	partials := make(chan string, 8)
	e.OnPartial(func(text string) { partials <- text })

	require.NoError(t, e.Init(context.Background()))
	defer e.Shutdown()

	feedChunks(t, e, 5, calibrationChunksForTest)
	feedChunks(t, e, 5000, 10)

	select {
	case text := <-partials:
		assert.Equal(t, "hello", text)
	case <-time.After(5 * time.Second):
		t.Fatal("no partial text reported")
	}
}

func TestWhisperEngineInitErrors(t *testing.T) {
	_, model := fakeWhisper(t, "")

	e := NewWhisperEngine(WhisperConfig{
		Path:  filepath.Join(t.TempDir(), "missing-whisper"),
		Model: model,
	}, logger.Nop())
	assert.ErrorContains(t, e.Init(context.Background()), "whisper executable not found")

	bin, _ := fakeWhisper(t, "")
	e = NewWhisperEngine(WhisperConfig{
		Path:  bin,
		Model: filepath.Join(t.TempDir(), "missing.bin"),
	}, logger.Nop())
	assert.ErrorContains(t, e.Init(context.Background()), "whisper model not available")

	e = NewWhisperEngine(WhisperConfig{Path: bin}, logger.Nop())
	assert.ErrorContains(t, e.Init(context.Background()), "model path is required")
}

func TestWhisperEngineStop(t *testing.T) {
	bin, model := fakeWhisper(t, "")
	e := NewWhisperEngine(WhisperConfig{Path: bin, Model: model, PollTimeout: time.Minute}, logger.Nop())
	require.NoError(t, e.Init(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := e.PollFinal(context.Background())
		done <- err
	}()

	require.NoError(t, e.Stop())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrEngineStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("PollFinal did not return after Stop")
	}

	assert.ErrorIs(t, e.Feed(chunk(1)), ErrEngineStopped)
	require.NoError(t, e.Shutdown())
	_, err := os.Stat(e.spoolDir)
	assert.True(t, os.IsNotExist(err))
}

func TestWhisperEngineKeepsSegmentsInDailyDirectory(t *testing.T) {
	bin, model := fakeWhisper(t, "kept")
	dir := t.TempDir()
	e := NewWhisperEngine(WhisperConfig{
		Path:              bin,
		Model:             model,
		SegmentsDir:       dir,
		PostSpeechSilence: 100 * time.Millisecond,
		PollTimeout:       50 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, e.Init(context.Background()))
	defer e.Shutdown()

	feedChunks(t, e, 5, calibrationChunksForTest)
	feedChunks(t, e, 5000, 3)
	feedChunks(t, e, 5, 5)

	text, err := e.PollFinal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kept", text)

	files, err := filepath.Glob(filepath.Join(dir, "*", "segment_*.wav"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestWhisperArgs(t *testing.T) {
	e := NewWhisperEngine(WhisperConfig{Language: "en", Threads: 4}, logger.Nop())
	assert.Equal(t,
		[]string{"-m", "m.bin", "-f", "a.wav", "-nt", "-np", "-l", "en", "-t", "4"},
		e.args("m.bin", "a.wav"))

	e = NewWhisperEngine(WhisperConfig{}, logger.Nop())
	assert.Equal(t, []string{"-m", "m.bin", "-f", "a.wav", "-nt", "-np"}, e.args("m.bin", "a.wav"))
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"plain", "hello there\n", "hello there"},
		{"timestamps", "[00:00:00.000 --> 00:00:02.000]  first\n[00:00:02.000 --> 00:00:04.000]  second\n", "first second"},
		{"blank audio", "[00:00:00.000 --> 00:00:02.000]   [BLANK_AUDIO]\n", ""},
		{"empty lines", "\n\n  \n", ""},
		{"bracketed text kept", "[laughs] ok\n", "[laughs] ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractText(tt.output))
		})
	}
}
