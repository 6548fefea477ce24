package scribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosley/rtstt/audio"
	"github.com/bosley/rtstt/logger"
)

const segmentQueueSize = 16

// WhisperConfig configures the whisper.cpp command line engine
type WhisperConfig struct {
	// Path to the whisper executable
	Path string

	// Model used for finished sentences
	Model string

	// Smaller model used for realtime text. Empty means Model.
	RealtimeModel string

	Language string
	Threads  int

	// Speech/background energy ratio for the voice activity detector
	VADThreshold float64

	// Trailing silence that ends an utterance
	PostSpeechSilence time.Duration

	// Utterances shorter than this are discarded
	MinRecording time.Duration

	// How often the in-progress utterance is re-transcribed. Zero disables realtime text.
	RealtimeInterval time.Duration

	// How long PollFinal waits before returning empty
	PollTimeout time.Duration

	// When set, segment WAV files are kept under SegmentsDir/YYYYMMDD
	SegmentsDir string
}

// WhisperEngine segments fed audio on silence and transcribes each segment
// by running the whisper.cpp executable on a WAV file.
type WhisperEngine struct {
	cfg    WhisperConfig
	logger *logger.Logger

	path     string
	spoolDir string
	seq      atomic.Uint64

	mu             sync.Mutex
	detector       *audio.EnergyDetector
	current        []int16
	inSpeech       bool
	silentSamples  int
	silenceSamples int
	minSamples     int
	partialLen     int
	lastPartial    string
	onPartial      func(string)

	segments chan []int16
	stopped  chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWhisperEngine(cfg WhisperConfig, log *logger.Logger) *WhisperEngine {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.PostSpeechSilence <= 0 {
		cfg.PostSpeechSilence = 700 * time.Millisecond
	}
	e := &WhisperEngine{
		cfg:      cfg,
		logger:   log.Named("whisper"),
		detector: audio.NewEnergyDetector(cfg.VADThreshold),
		segments: make(chan []int16, segmentQueueSize),
		stopped:  make(chan struct{}),
	}
	e.silenceSamples = durationToSamples(cfg.PostSpeechSilence)
	e.minSamples = durationToSamples(cfg.MinRecording)
	return e
}

func durationToSamples(d time.Duration) int {
	return int(d.Seconds() * audio.TargetSampleRate)
}

func (e *WhisperEngine) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := exec.LookPath(e.cfg.Path)
	if err != nil {
		return fmt.Errorf("whisper executable not found: %w", err)
	}
	e.path = path

	for _, model := range []string{e.cfg.Model, e.cfg.RealtimeModel} {
		if model == "" {
			continue
		}
		if _, err := os.Stat(model); err != nil {
			return fmt.Errorf("whisper model not available: %w", err)
		}
	}
	if e.cfg.Model == "" {
		return errors.New("whisper model path is required")
	}

	if e.cfg.SegmentsDir != "" {
		if err := os.MkdirAll(e.cfg.SegmentsDir, 0755); err != nil {
			return fmt.Errorf("failed to create segments directory: %w", err)
		}
	} else {
		dir, err := os.MkdirTemp("", "rtstt-segments-*")
		if err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
		e.spoolDir = dir
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	if e.cfg.RealtimeInterval > 0 {
		e.wg.Add(1)
		go e.realtimeLoop()
	}

	e.logger.Info("Whisper engine initialized",
		logger.String("executable", e.path),
		logger.String("model", e.cfg.Model),
		logger.String("realtime_model", e.realtimeModel()),
		logger.Duration("post_speech_silence", e.cfg.PostSpeechSilence))
	return nil
}

func (e *WhisperEngine) OnPartial(fn func(text string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPartial = fn
}

// Feed runs voice activity detection on the chunk and queues the utterance
// once enough trailing silence has been seen.
func (e *WhisperEngine) Feed(pcm []int16) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	speech := e.detector.IsSpeech(pcm)
	switch {
	case speech:
		if !e.inSpeech {
			e.inSpeech = true
			e.logger.Debug("Speech detected, starting utterance",
				logger.Any("background_noise", e.detector.BackgroundNoise()))
		}
		e.silentSamples = 0
		e.current = append(e.current, pcm...)
	case e.inSpeech:
		e.current = append(e.current, pcm...)
		e.silentSamples += len(pcm)
		if e.silentSamples >= e.silenceSamples {
			e.finishUtteranceLocked()
		}
	}
	return nil
}

func (e *WhisperEngine) finishUtteranceLocked() {
	segment := e.current
	e.current = nil
	e.inSpeech = false
	e.silentSamples = 0
	e.partialLen = 0
	e.lastPartial = ""

	if len(segment) < e.minSamples {
		e.logger.Debug("Dropping short utterance", logger.Int("samples", len(segment)))
		return
	}

	select {
	case e.segments <- segment:
		e.logger.Debug("Queued utterance", logger.Int("samples", len(segment)))
	default:
		e.logger.Warn("Segment queue full, dropping utterance", logger.Int("samples", len(segment)))
	}
}

func (e *WhisperEngine) PollFinal(ctx context.Context) (string, error) {
	timer := time.NewTimer(e.cfg.PollTimeout)
	defer timer.Stop()

	select {
	case segment := <-e.segments:
		return e.transcribe(ctx, e.cfg.Model, segment)
	case <-timer.C:
		return "", nil
	case <-e.stopped:
		return "", ErrEngineStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Tune applies new sensitivity settings to the running detector
func (e *WhisperEngine) Tune(s Sensitivity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detector.SetThreshold(s.VADThreshold)
	if s.PostSpeechSilence > 0 {
		e.cfg.PostSpeechSilence = s.PostSpeechSilence
		e.silenceSamples = durationToSamples(s.PostSpeechSilence)
	}
	e.logger.Info("Sensitivity updated",
		logger.Any("vad_threshold", s.VADThreshold),
		logger.Duration("post_speech_silence", e.cfg.PostSpeechSilence))
}

func (e *WhisperEngine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopped) })
	return nil
}

func (e *WhisperEngine) Shutdown() error {
	e.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.spoolDir != "" {
		if err := os.RemoveAll(e.spoolDir); err != nil {
			return fmt.Errorf("failed to remove spool directory: %w", err)
		}
	}
	return nil
}

func (e *WhisperEngine) realtimeModel() string {
	if e.cfg.RealtimeModel != "" {
		return e.cfg.RealtimeModel
	}
	return e.cfg.Model
}

// realtimeLoop re-transcribes the growing utterance and reports text when it changes
func (e *WhisperEngine) realtimeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RealtimeInterval)
	defer ticker.Stop()

	minGrowth := audio.TargetSampleRate / 10

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		if !e.inSpeech || len(e.current)-e.partialLen < minGrowth {
			e.mu.Unlock()
			continue
		}
		snapshot := append([]int16(nil), e.current...)
		e.partialLen = len(e.current)
		e.mu.Unlock()

		text, err := e.transcribe(e.ctx, e.realtimeModel(), snapshot)
		if err != nil {
			if e.ctx.Err() == nil {
				e.logger.Warn("Realtime transcription failed", logger.Error(err))
			}
			continue
		}

		e.mu.Lock()
		changed := text != "" && text != e.lastPartial && e.inSpeech
		if changed {
			e.lastPartial = text
		}
		fn := e.onPartial
		e.mu.Unlock()

		if changed && fn != nil {
			fn(text)
		}
	}
}

func (e *WhisperEngine) transcribe(ctx context.Context, model string, samples []int16) (string, error) {
	path, err := e.segmentPath()
	if err != nil {
		return "", err
	}
	if err := audio.WriteWavFile(path, samples, audio.TargetSampleRate); err != nil {
		return "", err
	}
	if e.cfg.SegmentsDir == "" {
		defer os.Remove(path)
	}

	cmd := exec.CommandContext(ctx, e.path, e.args(model, path)...)
	e.logger.Debug("Executing whisper command", logger.String("command", cmd.String()))

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.logger.Debug("Whisper command failed",
				logger.String("stderr", string(exitErr.Stderr)),
				logger.Int("exit_code", exitErr.ExitCode()))
		}
		return "", fmt.Errorf("whisper execution failed: %w", err)
	}

	return extractText(string(output)), nil
}

func (e *WhisperEngine) args(model, file string) []string {
	args := []string{"-m", model, "-f", file, "-nt", "-np"}
	if e.cfg.Language != "" {
		args = append(args, "-l", e.cfg.Language)
	}
	if e.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.cfg.Threads))
	}
	return args
}

func (e *WhisperEngine) segmentPath() (string, error) {
	name := fmt.Sprintf("segment_%s_%d.wav", time.Now().Format("150405"), e.seq.Add(1))
	if e.cfg.SegmentsDir == "" {
		return filepath.Join(e.spoolDir, name), nil
	}

	dailyDir := filepath.Join(e.cfg.SegmentsDir, time.Now().Format("20060102"))
	if err := os.MkdirAll(dailyDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create daily directory: %w", err)
	}
	return filepath.Join(dailyDir, name), nil
}

func extractText(output string) string {
	var builder strings.Builder

	for _, line := range strings.Split(output, "\n") {
		text := strings.TrimSpace(line)

		// Timestamped lines look like "[00:00:00.000 --> 00:00:02.000]  text"
		if strings.HasPrefix(text, "[") {
			if end := strings.Index(text, "]"); end > 0 && strings.Contains(text[:end], "-->") {
				text = strings.TrimSpace(text[end+1:])
			}
		}

		if text == "" || strings.Contains(text, "[BLANK_AUDIO]") {
			continue
		}

		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(text)
	}

	return strings.TrimSpace(builder.String())
}
