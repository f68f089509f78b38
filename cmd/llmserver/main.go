package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/aigoflow/crash-insight/internal/config"
	"github.com/aigoflow/crash-insight/internal/llama"
	"github.com/aigoflow/crash-insight/internal/repository"
	"github.com/aigoflow/crash-insight/internal/services"
	"github.com/aigoflow/crash-insight/internal/store"
	"github.com/aigoflow/crash-insight/pkg/server"
)

type fields = map[string]interface{}

func main() {
	var (
		envFile    = flag.String("env", "", "Optional .env file to load")
		configFile = flag.String("config", "", "Optional YAML config file")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile, *configFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.NewSQLiteRepository(db)
	event := func(level, code, msg string, meta fields) {
		if err := repo.Event().LogEvent(context.Background(), level, code, msg, meta); err != nil {
			slog.Warn("Failed to record event", "code", code, "error", err)
		}
	}

	event("info", "startup", "Server starting", fields{
		"model_name": cfg.ModelName,
		"http_addr":  cfg.HTTPAddr,
		"db_path":    cfg.DBPath,
	})
	event("info", "model.loading", "Model loading started", fields{
		"model_path":  cfg.ModelPath,
		"runtime_url": cfg.RuntimeURL,
	})

	llm, err := llama.LoadWithAutoDownload(llama.Config{
		ModelPath:  cfg.ModelPath,
		ModelName:  cfg.ModelName,
		ModelURL:   cfg.ModelURL,
		RuntimeURL: cfg.RuntimeURL,
		MaxTokens:  cfg.MaxTokens,
	})
	if err != nil {
		// a server without its model never starts listening
		event("error", "model.failed", "Model loading failed", fields{
			"model_path": cfg.ModelPath,
			"error":      err.Error(),
		})
		slog.Error("Failed to load model", "error", err)
		db.Close()
		os.Exit(1)
	}
	defer llm.Close()

	event("info", "model.loaded", "Model loaded successfully", fields{
		"model_path":   cfg.ModelPath,
		"architecture": llm.Metadata().Architecture,
	})

	inferenceService := services.NewInferenceService(llm, repo, cfg.QueueSize)
	defer inferenceService.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.NatsURL != "" {
		natsService, err := services.NewNATSService(cfg, inferenceService)
		if err != nil {
			event("error", "nats.failed", "NATS service initialization failed", fields{
				"nats_url": cfg.NatsURL,
				"error":    err.Error(),
			})
			slog.Error("Failed to create NATS service", "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := natsService.Start(ctx); err != nil {
				event("error", "nats.failed", "NATS service failed", fields{"error": err.Error()})
				slog.Error("NATS service failed", "error", err)
			}
		}()
	} else {
		slog.Info("NATS disabled, serving HTTP only")
	}

	event("info", "server.ready", "Server ready to accept requests", fields{
		"http_addr": cfg.HTTPAddr,
		"nats_url":  cfg.NatsURL,
		"queue":     cfg.QueueSize,
	})

	if err := server.NewServer(cfg.HTTPAddr, cfg.ModelName, inferenceService).Start(ctx); err != nil {
		event("error", "http.failed", "HTTP server failed", fields{"error": err.Error()})
		slog.Error("HTTP server failed", "error", err)
		cancel()
	}

	wg.Wait()
	slog.Info("Shutting down server")
}
