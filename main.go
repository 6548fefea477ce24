package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosley/rtstt/audio"
	"github.com/bosley/rtstt/client"
	"github.com/bosley/rtstt/config"
	"github.com/bosley/rtstt/logger"
	"github.com/bosley/rtstt/scribe"
	"github.com/bosley/rtstt/server"
	"github.com/bosley/rtstt/wire"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (searches configs/rtstt.toml and rtstt.toml when empty)")
	port := flag.Int("port", 0, "Override the listen port")
	engineType := flag.String("engine", "", "Recognition engine: whisper or nop")
	whisperPath := flag.String("whisper", "", "Path to whisper executable")
	whisperModel := flag.String("model", "", "Path to whisper model file")
	certFile := flag.String("cert", "", "Path to server certificate file")
	keyFile := flag.String("key", "", "Path to server key file")
	streamFile := flag.String("stream", "", "Stream a WAV file to -server and print transcripts")
	serverAddr := flag.String("server", "localhost:9001", "Server address for -stream (host:port or ws:// URL)")
	insecureMode := flag.Bool("insecure", false, "Skip certificate verification for -stream over TLS")
	useTLS := flag.Bool("tls", false, "Use TLS for -stream")
	flag.Parse()

	cfg, loadedFrom, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *engineType != "" {
		cfg.Engine.Type = *engineType
	}
	if *whisperPath != "" {
		cfg.Engine.WhisperPath = *whisperPath
	}
	if *whisperModel != "" {
		cfg.Engine.Model = *whisperModel
	}
	if *certFile != "" {
		cfg.Server.CertFile = *certFile
	}
	if *keyFile != "" {
		cfg.Server.KeyFile = *keyFile
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *streamFile != "" {
		clientCfg := client.Config{
			Server:   *serverAddr,
			TLS:      *useTLS,
			Insecure: *insecureMode,
			CertFile: cfg.Server.CertFile,
		}
		if err := runStream(ctx, clientCfg, *streamFile, log); err != nil {
			log.Error("Streaming failed", logger.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := runServer(ctx, cfg, loadedFrom, log); err != nil {
		log.Error("Server failed", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Debug("Program exiting")
}

func runServer(ctx context.Context, cfg *config.Config, configPath string, log *logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	quality, err := audio.ParseQuality(cfg.Audio.ResampleQuality)
	if err != nil {
		return err
	}
	audio.Quality = quality

	engine := newEngine(cfg.Engine, log)
	sc := scribe.New(engine, log)

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, log, func(next *config.Config) {
				applyReload(next, engine, log)
			})
			if err != nil {
				log.Warn("Configuration reload disabled", logger.Error(err))
			}
		}()
	}

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CertFile:        cfg.Server.CertFile,
		KeyFile:         cfg.Server.KeyFile,
		SendQueueSize:   cfg.Server.SendQueueSize,
		ReadLimit:       cfg.Server.ReadLimitBytes,
		WriteTimeout:    cfg.Server.WriteTimeout(),
		PongTimeout:     cfg.Server.PongTimeout(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout(),
	}, sc, log)

	log.Info("Starting server",
		logger.String("engine", cfg.Engine.Type),
		logger.String("config", configPath),
		logger.String("address", cfg.Server.Addr()))

	return srv.Run(ctx)
}

func newEngine(cfg config.EngineConfig, log *logger.Logger) scribe.Engine {
	if cfg.Type == config.EngineNop {
		return scribe.NewNopEngine(cfg.PollTimeout())
	}
	return scribe.NewWhisperEngine(scribe.WhisperConfig{
		Path:              cfg.WhisperPath,
		Model:             cfg.Model,
		RealtimeModel:     cfg.RealtimeModel,
		Language:          cfg.Language,
		Threads:           cfg.Threads,
		VADThreshold:      cfg.VADThreshold,
		PostSpeechSilence: cfg.PostSpeechSilence(),
		MinRecording:      cfg.MinRecording(),
		RealtimeInterval:  cfg.RealtimeInterval(),
		PollTimeout:       cfg.PollTimeout(),
		SegmentsDir:       cfg.SegmentsDir,
	}, log)
}

// applyReload applies the settings that can change without a restart
func applyReload(cfg *config.Config, engine scribe.Engine, log *logger.Logger) {
	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		log.Warn("Ignoring log level", logger.Error(err))
	} else {
		log.Info("Log level applied", logger.String("level", log.Level()))
	}

	if tunable, ok := engine.(scribe.Tunable); ok {
		tunable.Tune(scribe.Sensitivity{
			VADThreshold:      cfg.Engine.VADThreshold,
			PostSpeechSilence: cfg.Engine.PostSpeechSilence(),
		})
	}
}

func runStream(ctx context.Context, cfg client.Config, path string, log *logger.Logger) error {
	c, err := client.Dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for msg := range c.Messages() {
			switch msg.Type {
			case wire.TypeFullSentence:
				fmt.Printf("\n%s\n", msg.Text)
			case wire.TypeRealtime:
				fmt.Printf("\r%s", msg.Text)
			}
		}
	}()

	err = c.StreamWAVFile(ctx, path, client.StreamOptions{
		Chunk:           100 * time.Millisecond,
		Realtime:        true,
		TrailingSilence: 2 * time.Second,
	})
	if err != nil {
		return err
	}

	// Leave time for the last sentence to come back
	select {
	case <-ctx.Done():
	case <-printed:
	case <-time.After(5 * time.Second):
	}
	return c.Err()
}
