package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/bosley/rtstt/audio"
	"github.com/bosley/rtstt/logger"
)

const (
	EngineWhisper = "whisper"
	EngineNop     = "nop"
)

// Config is the complete server configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`  // Network listener settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	Audio   AudioConfig   `toml:"audio"`   // Inbound audio conversion settings
	Engine  EngineConfig  `toml:"engine"`  // Speech recognition settings
}

type ServerConfig struct {
	Host                string `toml:"host"`                     // Address to bind to (0.0.0.0 for all interfaces)
	Port                int    `toml:"port"`                     // Websocket and HTTP port
	CertFile            string `toml:"cert_file"`                // TLS certificate; TLS is enabled when both files are set
	KeyFile             string `toml:"key_file"`                 // TLS private key
	SendQueueSize       int    `toml:"send_queue_size"`          // Outbound messages buffered per client before it is dropped
	ReadLimitBytes      int64  `toml:"read_limit_bytes"`         // Largest accepted inbound frame
	WriteTimeoutSecs    int    `toml:"write_timeout_seconds"`    // Deadline for one outbound write
	PongTimeoutSecs     int    `toml:"pong_timeout_seconds"`     // Silence after which a client is considered gone
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_seconds"` // Bound on graceful shutdown
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

type AudioConfig struct {
	TargetSampleRate int    `toml:"target_sample_rate"` // Rate the recognizer expects; must be 16000
	ResampleQuality  string `toml:"resample_quality"`   // quick, low, medium, high or very_high
}

type EngineConfig struct {
	Type                string  `toml:"type"`                   // "whisper" or "nop"
	WhisperPath         string  `toml:"whisper_path"`           // whisper.cpp executable, looked up on PATH
	Model               string  `toml:"model"`                  // Model used for finished sentences
	RealtimeModel       string  `toml:"realtime_model"`         // Smaller model for realtime text; empty uses model
	Language            string  `toml:"language"`               // Spoken language hint, e.g. "en"
	Threads             int     `toml:"threads"`                // Threads passed to whisper; 0 uses its default
	VADThreshold        float64 `toml:"vad_threshold"`          // Speech/background energy ratio
	PostSpeechSilenceMs int     `toml:"post_speech_silence_ms"` // Trailing silence that ends a sentence
	MinRecordingMs      int     `toml:"min_recording_ms"`       // Shorter utterances are discarded
	RealtimeIntervalMs  int     `toml:"realtime_interval_ms"`   // Realtime re-transcription period; 0 disables realtime text
	PollTimeoutMs       int     `toml:"poll_timeout_ms"`        // Bounded wait for a finished sentence
	SegmentsDir         string  `toml:"segments_dir"`           // Keep segment WAV files under this directory when set
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                9001,
			SendQueueSize:       256,
			ReadLimitBytes:      1 << 20,
			WriteTimeoutSecs:    10,
			PongTimeoutSecs:     60,
			ShutdownTimeoutSecs: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Audio: AudioConfig{
			TargetSampleRate: audio.TargetSampleRate,
			ResampleQuality:  "high",
		},
		Engine: EngineConfig{
			Type:                EngineWhisper,
			WhisperPath:         "whisper-cli",
			Language:            "en",
			VADThreshold:        audio.DefaultVADThreshold,
			PostSpeechSilenceMs: 700,
			MinRecordingMs:      500,
			RealtimeIntervalMs:  500,
			PollTimeoutMs:       1000,
		},
	}
}

// Load reads path over the defaults and applies environment overrides
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadWithFallback tries preferredPath and then the usual locations. With no
// file anywhere it returns the defaults plus environment overrides, and an
// empty path.
func LoadWithFallback(preferredPath string) (*Config, string, error) {
	loadDotEnv()

	searchPaths := []string{
		preferredPath,
		"configs/rtstt.toml",
		"rtstt.toml",
	}

	if preferredPath != "" {
		if _, err := os.Stat(preferredPath); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", preferredPath)
		}
	}

	for _, path := range searchPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				return nil, "", fmt.Errorf("failed to load config from %s: %w", path, err)
			}
			return config, path, nil
		}
	}

	config := Default()
	if err := config.applyEnv(); err != nil {
		return nil, "", err
	}
	return config, "", nil
}

// loadDotEnv loads .env when present; variables already set win
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

func (c *Config) applyEnv() error {
	for _, name := range []string{"BROWSERCLIENT_PORT", "RTSTT_PORT"} {
		if v := os.Getenv(name); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RTSTT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RTSTT_WHISPER_PATH"); v != "" {
		c.Engine.WhisperPath = v
	}
	if v := os.Getenv("RTSTT_WHISPER_MODEL"); v != "" {
		c.Engine.Model = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file must be set together"))
	}
	if c.Server.SendQueueSize <= 0 {
		errs = append(errs, errors.New("server.send_queue_size must be positive"))
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format unknown: %q", c.Logging.Format))
	}

	if c.Audio.TargetSampleRate != audio.TargetSampleRate {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate must be %d, got %d",
			audio.TargetSampleRate, c.Audio.TargetSampleRate))
	}
	if _, err := audio.ParseQuality(c.Audio.ResampleQuality); err != nil {
		errs = append(errs, fmt.Errorf("audio.resample_quality: %w", err))
	}

	switch c.Engine.Type {
	case EngineWhisper:
		if c.Engine.Model == "" {
			errs = append(errs, errors.New("engine.model is required for the whisper engine"))
		}
		if c.Engine.WhisperPath == "" {
			errs = append(errs, errors.New("engine.whisper_path is required for the whisper engine"))
		}
	case EngineNop:
	default:
		errs = append(errs, fmt.Errorf("engine.type unknown: %q", c.Engine.Type))
	}
	if c.Engine.VADThreshold <= 0 {
		errs = append(errs, errors.New("engine.vad_threshold must be positive"))
	}
	if c.Engine.PostSpeechSilenceMs <= 0 {
		errs = append(errs, errors.New("engine.post_speech_silence_ms must be positive"))
	}
	if c.Engine.MinRecordingMs < 0 || c.Engine.RealtimeIntervalMs < 0 || c.Engine.Threads < 0 {
		errs = append(errs, errors.New("engine durations and threads must not be negative"))
	}

	return errors.Join(errs...)
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}

func (s ServerConfig) PongTimeout() time.Duration {
	return time.Duration(s.PongTimeoutSecs) * time.Second
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSecs) * time.Second
}

func (e EngineConfig) PostSpeechSilence() time.Duration {
	return time.Duration(e.PostSpeechSilenceMs) * time.Millisecond
}

func (e EngineConfig) MinRecording() time.Duration {
	return time.Duration(e.MinRecordingMs) * time.Millisecond
}

func (e EngineConfig) RealtimeInterval() time.Duration {
	return time.Duration(e.RealtimeIntervalMs) * time.Millisecond
}

func (e EngineConfig) PollTimeout() time.Duration {
	return time.Duration(e.PollTimeoutMs) * time.Millisecond
}
