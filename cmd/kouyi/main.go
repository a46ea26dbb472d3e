package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/gdrive"
	"github.com/sjawhar/kouyi/internal/llm"
	"github.com/sjawhar/kouyi/internal/mic"
	"github.com/sjawhar/kouyi/internal/scoring"
	"github.com/sjawhar/kouyi/internal/server"
	"github.com/sjawhar/kouyi/internal/session"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/transcribe"
	"github.com/sjawhar/kouyi/internal/tutor"
)

func main() {
	log.Println("kouyi: starting")

	if os.Getenv(config.EnvPrefix+"DEBUG") == "1" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml")
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}
	settings := config.NewStore(configPath, cfg)

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub()

	history := &mirroredStore{SQLiteStore: store}
	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			history.syncer = syncer
			history.ctx = ctx
		}
	}

	device := mic.Open(cfg.PreferredSampleRates(), mic.DefaultFramesPerBuffer)
	defer func() { _ = device.Close() }()

	meter := audio.NewMeter(cfg.ParsedLevelInterval(), hub.BroadcastLevel)
	recorder := audio.NewRecorder(device, meter)
	recorder.OnStateChange(hub.BroadcastRecorderState)
	defer func() { _ = recorder.Close() }()

	factory := func(apiKey, model string) (llm.Client, error) {
		var opts []llm.Option
		if cfg.Provider == "openai" || cfg.BaseURL != config.DefaultBaseURL {
			opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
		}
		return llm.NewClient(cfg.Provider, apiKey, model, opts...)
	}

	controller := session.NewController(session.Deps{
		Settings:    settings,
		Tutor:       tutor.New(factory),
		Synthesizer: tutor.NewSynthesizer(cfg.BaseURL),
		Transcriber: transcribe.NewClient(transcriptionBackend(cfg)),
		Recorder:    recorder,
		Scorer:      scoring.NewScorer(nil),
		Store:       history,
		Archive:     audio.NewArchive(cfg.AudioDir),
		Hub:         hub,
	}, cfg.AutoTranscribe)

	httpServer := server.NewServer(cfg.ListenAddr, hub, server.Deps{
		Controller: controller,
		History:    store,
		Settings:   settings,
		Level:      recorder.Level,
		AudioDir:   cfg.AudioDir,
		Warnings:   func() []string { return warnings },
	})
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	log.Println("kouyi: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
	controller.Close()
	history.wait()
}

func transcriptionBackend(cfg config.Config) transcribe.Backend {
	t := cfg.Transcription
	if t.Backend == "deepgram" {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
		log.Printf("transcription: deepgram (%s)", t.Model)
		return transcribe.NewDeepgramBackend(cfg.DeepgramAPIKey, t.Model, t.Language)
	}
	log.Printf("transcription: openai-compatible (%s)", t.Model)
	return transcribe.NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, t.Model, t.Language)
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
