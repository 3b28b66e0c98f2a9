package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallvault/internal/server/api"
	"wallvault/internal/server/assets"
	"wallvault/internal/server/config"
	"wallvault/internal/server/gallery"
	"wallvault/internal/server/metadata"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"metadata_backend", cfg.MetadataBackend,
		"asset_backend", cfg.AssetBackend,
		"default_device_scope", cfg.DefaultDeviceScope,
	)

	ctx := context.Background()

	// Metadata store (json document or postgres)
	meta, err := metadata.New(ctx, metadata.Config{
		Backend:     cfg.MetadataBackend,
		JSONPath:    cfg.MetadataPath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		slog.Error("failed to initialize metadata store", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	// Asset store (filesystem or s3)
	store, err := assets.New(ctx, assets.Config{
		Backend:       cfg.AssetBackend,
		BasePath:      cfg.StoragePath,
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		slog.Error("failed to initialize asset store", "error", err)
		os.Exit(1)
	}
	slog.Info("stores initialized")

	// Gallery service and HTTP router
	svc := gallery.NewService(meta, store, cfg)
	handler := api.NewHandler(svc, meta, cfg)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited cleanly")
}
