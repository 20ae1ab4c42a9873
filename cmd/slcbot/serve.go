package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/backend"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/bus"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/channel"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/config"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/contextstore"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/dispatch"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/media"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/metrics"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var ephemeral bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay (channels + dispatch pipeline)",
		Long:  "Starts all enabled channels, the dispatch pipeline, and the webhook/metrics HTTP server. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ephemeral)
		},
	}
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep conversation context in memory only")
	return cmd
}

func runServe(ephemeral bool) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg.General)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	store, closeStore, err := buildStore(cfg, ephemeral)
	if err != nil {
		return fmt.Errorf("context store: %w", err)
	}
	defer closeStore()

	registry := media.NewRegistry()
	cache, err := media.NewCache(cfg.General.MediaCacheDir)
	if err != nil {
		return fmt.Errorf("media cache: %w", err)
	}
	registry.Register("cache", cache)

	pipeline := dispatch.NewPipeline(dispatch.PipelineConfig{
		Store:       store,
		Completer:   buildCompleter(cfg.Backends.Completion),
		Images:      buildImages(cfg.Backends.Image),
		Transcriber: buildTranscriber(cfg.Backends.Whisper, registry),
		Speech:      buildSpeech(cfg.Backends.TTS, cache),
		Logger:      logger,
	})

	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Pipeline:    pipeline,
		Bus:         messageBus,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentEvents,
	})
	go dispatcher.Run(ctx)

	if cfg.Channels.Telegram.Enabled {
		telegramCh := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Registry:  registry,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	mux := http.NewServeMux()
	if cfg.Channels.WhatsApp.Enabled {
		whatsappCh := channel.NewWhatsApp(channel.WhatsAppConfig{
			VerifyToken:   cfg.Channels.WhatsApp.VerifyToken,
			AppSecret:     cfg.Channels.WhatsApp.AppSecret,
			AccessToken:   cfg.Channels.WhatsApp.AccessToken,
			PhoneNumberID: cfg.Channels.WhatsApp.PhoneNumberID,
			WebhookPath:   cfg.Channels.WhatsApp.WebhookPath,
			Registry:      registry,
			Logger:        logger,
		})
		if err := whatsappCh.Start(ctx, messageBus); err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		mux.Handle(cfg.Channels.WhatsApp.WebhookPath, whatsappCh.Handler())
		logger.Info("whatsapp channel enabled", "webhook", cfg.Channels.WhatsApp.WebhookPath)
	} else {
		logger.Info("whatsapp channel disabled")
	}
	if cfg.Metrics.Enabled {
		mux.HandleFunc("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
		logger.Info("metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	server := &http.Server{
		Addr:              cfg.General.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.General.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("relay started", "version", version)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "err", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLogger builds the process logger from the general config.
func buildLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// buildStore picks the context store: SQLite unless running ephemeral or no
// DB path is configured.
func buildStore(cfg *config.Config, ephemeral bool) (domain.ContextStore, func(), error) {
	if ephemeral || cfg.Context.DBPath == "" {
		logger.Info("context store", "kind", "memory")
		return contextstore.NewMemory(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Context.DBPath), 0o755); err != nil {
		return nil, nil, err
	}
	store, err := contextstore.NewSQLite(cfg.Context.DBPath, cfg.Context.MaxEntries, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("context store", "kind", "sqlite", "db", cfg.Context.DBPath)
	return store, func() { store.Close() }, nil
}

func buildCompleter(cfg config.CompletionConfig) domain.Completer {
	return backend.NewCompletion(backend.CompletionConfig{
		APIBase:      cfg.APIBase,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Logger:       logger,
	})
}

func buildImages(cfg config.ImageConfig) domain.ImageSynthesizer {
	if !cfg.Enabled {
		return backend.Disabled{Name: "image"}
	}
	return backend.NewImage(backend.ImageConfig{
		APIBase: cfg.APIBase,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Size:    cfg.Size,
		Logger:  logger,
	})
}

func buildTranscriber(cfg config.WhisperConfig, registry *media.Registry) domain.Transcriber {
	if !cfg.Enabled {
		return backend.Disabled{Name: "whisper"}
	}
	return backend.NewWhisper(backend.WhisperConfig{
		APIBase:  cfg.APIBase,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Language: cfg.Language,
		Resolver: registry,
		Logger:   logger,
	})
}

func buildSpeech(cfg config.TTSConfig, cache *media.Cache) domain.SpeechSynthesizer {
	if !cfg.Enabled {
		return backend.Disabled{Name: "tts"}
	}
	return backend.NewTTS(backend.TTSConfig{
		APIBase: cfg.APIBase,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Voice:   cfg.Voice,
		Cache:   cache,
		Logger:  logger,
	})
}
