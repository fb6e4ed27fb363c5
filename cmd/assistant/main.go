package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/expensio/assistant/internal/assistant"
	"github.com/expensio/assistant/internal/completion"
	"github.com/expensio/assistant/internal/config"
	"github.com/expensio/assistant/internal/server"
	"github.com/expensio/assistant/internal/storage"
	"github.com/expensio/assistant/internal/storage/memory"
	"github.com/expensio/assistant/internal/storage/sqlite"
	"github.com/expensio/assistant/internal/telemetry"
	"github.com/expensio/assistant/internal/tokens"
	"github.com/expensio/assistant/internal/usage"

	completionsapi "github.com/expensio/assistant/internal/api/completions"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("expensio-assistant", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	var clientOpts []completion.ClientOption
	clientOpts = append(clientOpts, completion.WithLogger(logger))
	if cfg.Completion.BaseURL != "" {
		clientOpts = append(clientOpts, completion.WithAPIOptions(
			completionsapi.WithBaseURL(cfg.Completion.BaseURL),
		))
	}

	completer, err := completion.New(cfg.Completion.APIKey, cfg.Models.Chat, cfg.Models.Vision, clientOpts...)
	if err != nil {
		log.Fatalf("Failed to create completion client: %v", err)
	}

	recorder := usage.NewRecorder(store, tokens.NewCounter(), logger)
	chats := assistant.NewChatService(store, completer, nil, recorder, logger)
	analyses := assistant.NewAnalyzeService(store, completer, recorder, logger)

	srv := server.New(cfg.Server.Port, logger)
	server.NewHandler(chats, analyses, logger).RegisterRoutes(srv.Router)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Type == "memory" {
		return memory.New(), nil
	}
	return sqlite.New(cfg.Storage.Path)
}
