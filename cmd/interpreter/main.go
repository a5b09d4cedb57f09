package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/live-interpreter/internal/archive"
	"github.com/live-interpreter/internal/backend/google"
	"github.com/live-interpreter/internal/backend/httpbackend"
	"github.com/live-interpreter/internal/config"
	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/metrics"
	"github.com/live-interpreter/internal/server"
	"github.com/live-interpreter/internal/voice"
	"github.com/live-interpreter/llm"
)

// shutdownGrace bounds how long in-flight utterances may finish on exit.
const shutdownGrace = 45 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	sugar := logging.Init(cfg.LogLevel)
	defer sugar.Sync()

	logging.Infow("interpreter starting",
		"port", cfg.Port,
		"admin_addr", cfg.AdminAddr,
		"backend", cfg.Backend,
		"min_frames", cfg.MinFrames,
		"call_timeout", cfg.CallTimeout.String(),
		"default_source_language", cfg.DefaultSourceLanguage,
		"default_target_language", cfg.DefaultTargetLanguage,
		"save_audio_dir", cfg.SaveAudioDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caps, closeBackend, err := buildCapabilities(ctx, cfg)
	if err != nil {
		logging.Fatalw("backend init failed", "backend", cfg.Backend, "err", err)
	}
	defer closeBackend()

	m := metrics.New()
	opts := voice.RegistryOptions{
		MinFrames:      cfg.MinFrames,
		CallTimeout:    cfg.CallTimeout,
		SourceLanguage: cfg.DefaultSourceLanguage,
		TargetLanguage: cfg.DefaultTargetLanguage,
		EmitErrors:     cfg.EmitErrors,
		Metrics:        m,
	}

	var wg sync.WaitGroup
	arch, err := archive.New(cfg.SaveAudioDir)
	if err != nil {
		logging.Fatalw("archive init failed", "dir", cfg.SaveAudioDir, "err", err)
	}
	if arch != nil {
		arch.Locking = cfg.SaveAudioLocking
		opts.Archive = arch
		wg.Add(1)
		arch.StartCleaner(ctx, &wg, cfg.SaveAudioRetention, time.Minute, cfg.SaveAudioMaxFiles)
	}

	reg := voice.NewRegistry(caps, opts)
	srv := server.New(":"+cfg.Port, cfg.AdminAddr, reg, m)
	srv.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logging.Infow("shutting down", "signal", s.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logging.Warnw("server stop failed", "err", err)
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logging.Warnw("registry shutdown incomplete", "err", err)
	}
	cancel()
	wg.Wait()
	logging.Infow("interpreter stopped")
}

func buildCapabilities(ctx context.Context, cfg *config.Config) (voice.Capabilities, func(), error) {
	switch cfg.Backend {
	case config.BackendGoogle:
		b, err := google.New(ctx, cfg.GoogleProject)
		if err != nil {
			return voice.Capabilities{}, nil, err
		}
		return b.Capabilities(), func() {
			if err := b.Close(); err != nil {
				logging.Warnw("google: close failed", "err", err)
			}
		}, nil
	default:
		lc := llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		lc.FallbackModel = cfg.OpenAIFallback
		return voice.Capabilities{
			Recognizer:  httpbackend.NewSTTClient(cfg.STTURL, cfg.STTAuthToken),
			Translator:  httpbackend.NewTranslator(lc),
			Synthesizer: httpbackend.NewTTSClient(cfg.TTSURL, cfg.TTSAuthToken),
		}, func() {}, nil
	}
}
