package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-recorder/backend/internal/config"
	"github.com/zhouzirui/z-recorder/backend/internal/handler"
	"github.com/zhouzirui/z-recorder/backend/internal/handler/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/z-recorder/backend/internal/middleware"
	"github.com/zhouzirui/z-recorder/backend/internal/service/catalog"
	"github.com/zhouzirui/z-recorder/backend/internal/service/events"
	"github.com/zhouzirui/z-recorder/backend/internal/service/fragment"
	"github.com/zhouzirui/z-recorder/backend/internal/service/merge"
	"github.com/zhouzirui/z-recorder/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		logger.Debug("no .env file loaded, using system environment only", slog.Any("error", envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := fragment.Open(cfg.Storage.ChunksDir(), cfg.Storage.Extension)
	if err != nil {
		return fmt.Errorf("open fragment store: %w", err)
	}
	defer store.Close()

	cat, err := catalog.Open(cfg.Storage.CatalogDB)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	concat, err := newConcatenator(cfg.Merge)
	if err != nil {
		return err
	}

	orchestrator := merge.NewOrchestrator(store, cat, concat, merge.Options{
		OutputDir:       cfg.Storage.OutputDir(),
		Extension:       cfg.Storage.Extension,
		Timeout:         cfg.Merge.Timeout,
		Concurrency:     cfg.Merge.Concurrency,
		RemoveFragments: cfg.Merge.RemoveFragmentsOnMerge,
		Logger:          logger,
	})
	logger.Info("merge tool ready", slog.Any("tool", orchestrator.ToolStatus()))

	conns := recording.NewConnections()
	router := handler.NewRouter(handler.Deps{
		Registry:    session.NewRegistry(store),
		Fragments:   store,
		Merger:      orchestrator,
		Catalog:     cat,
		Events:      events.NewHub(),
		Connections: conns,
		WebSocket: recording.WebSocketOptions{
			MaxFrameBytes:  cfg.Limits.MaxFrameBytes,
			ReadTimeout:    cfg.Limits.ReadTimeout,
			AllowedOrigins: cfg.Server.Origins(),
		},
		Limiter: middlewarePkg.NewConnectionRateLimiter(cfg.Limits.ConnectRate, cfg.Limits.ConnectBurst, nil),
		Logger:  logger,
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("recording server listening",
		slog.String("addr", addr),
		slog.String("recordings_dir", cfg.Storage.Root),
	)
	// Shutdown does not touch hijacked connections; close live recordings so each one
	// finalizes and dispatches its merge before the orchestrator stops accepting work.
	srv.RegisterOnShutdown(conns.CloseAll)
	serveErr := runServer(ctx, srv)
	conns.CloseAll()

	// In-flight merges get the full merge timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Merge.Timeout)
	defer cancel()
	if err := conns.Wait(shutdownCtx); err != nil {
		logger.Warn("recording connections still open at shutdown", slog.Int("open", conns.Len()), slog.Any("error", err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("merges still running at shutdown were cancelled", slog.Any("error", err))
	}
	return serveErr
}

// newConcatenator picks the merge backend. ffmpeg must resolve at startup so a missing
// binary fails fast instead of failing every session.
func newConcatenator(cfg config.MergeConfig) (merge.Concatenator, error) {
	switch cfg.Tool {
	case config.MergeToolCopy:
		return merge.Copy{}, nil
	default:
		ff := merge.NewFFmpeg(cfg.FFmpegPath)
		if status := ff.Status(); !status.Available {
			return nil, fmt.Errorf("merge tool unavailable: %s (set MERGE_TOOL=copy to merge without ffmpeg)", status.Detail)
		}
		return ff, nil
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
