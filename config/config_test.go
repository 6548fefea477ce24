package config

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

const sampleConfig = `
[server]
host = "127.0.0.1"
port = 9100
send_queue_size = 32

[logging]
level = "debug"
format = "json"

[engine]
type = "whisper"
model = "models/ggml-base.en.bin"
vad_threshold = 3.5
post_speech_silence_ms = 400
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "rtstt.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	for _, name := range []string{"RTSTT_PORT", "BROWSERCLIENT_PORT", "RTSTT_LOG_LEVEL", "RTSTT_WHISPER_PATH", "RTSTT_WHISPER_MODEL"} {
		t.Setenv(name, "")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Server.SendQueueSize)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 16000, cfg.Audio.TargetSampleRate)
	assert.Equal(t, 3.5, cfg.Engine.VADThreshold)
	assert.Equal(t, 400*time.Millisecond, cfg.Engine.PostSpeechSilence())
	assert.Equal(t, "whisper-cli", cfg.Engine.WhisperPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "config file not found")

	path := writeConfig(t, t.TempDir(), "[server\nport = ")
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to decode config file")
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RTSTT_PORT", "9200")
	t.Setenv("RTSTT_LOG_LEVEL", "warn")
	t.Setenv("RTSTT_WHISPER_MODEL", "/models/small.bin")

	cfg, err := Load(writeConfig(t, t.TempDir(), sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/models/small.bin", cfg.Engine.Model)

	t.Setenv("RTSTT_PORT", "")
	t.Setenv("BROWSERCLIENT_PORT", "8080")
	cfg, err = Load(writeConfig(t, t.TempDir(), sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	t.Setenv("BROWSERCLIENT_PORT", "eighty")
	_, err = Load(writeConfig(t, t.TempDir(), sampleConfig))
	assert.ErrorContains(t, err, "invalid BROWSERCLIENT_PORT")
}

func TestLoadWithFallback(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, path, err := LoadWithFallback("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.MkdirAll("configs", 0755))
	require.NoError(t, os.WriteFile(filepath.Join("configs", "rtstt.toml"), []byte(sampleConfig), 0644))
	cfg, path, err = LoadWithFallback("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("configs", "rtstt.toml"), path)
	assert.Equal(t, 9100, cfg.Server.Port)

	_, _, err = LoadWithFallback("nowhere.toml")
	assert.ErrorContains(t, err, "config file not found")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults need a model", func(c *Config) {}, "engine.model is required"},
		{"nop engine needs nothing", func(c *Config) { c.Engine.Type = EngineNop }, ""},
		{"target rate fixed", func(c *Config) { c.Engine.Type = EngineNop; c.Audio.TargetSampleRate = 8000 }, "target_sample_rate must be 16000"},
		{"bad quality", func(c *Config) { c.Engine.Type = EngineNop; c.Audio.ResampleQuality = "ultra" }, "resample_quality"},
		{"half tls", func(c *Config) { c.Engine.Type = EngineNop; c.Server.CertFile = "cert.pem" }, "must be set together"},
		{"bad level", func(c *Config) { c.Engine.Type = EngineNop; c.Logging.Level = "loud" }, "logging.level"},
		{"bad engine", func(c *Config) { c.Engine.Type = "vosk" }, "engine.type unknown"},
		{"bad port", func(c *Config) { c.Engine.Type = EngineNop; c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), sampleConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger.Nop(), func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	// An invalid file is ignored
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"\n[audio]\ntarget_sample_rate = 8000\n"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, changes, 0)

	updated := sampleConfig + "\n[audio]\nresample_quality = \"low\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "low", cfg.Audio.ResampleQuality)
		assert.Equal(t, 3.5, cfg.Engine.VADThreshold)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	assert.NoError(t, <-done)
}
