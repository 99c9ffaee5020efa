package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/agentd/internal/adapter/llm"
	"github.com/xiaot623/gogo/agentd/internal/config"
	store "github.com/xiaot623/gogo/agentd/internal/repository"
	"github.com/xiaot623/gogo/agentd/internal/service"
	"github.com/xiaot623/gogo/agentd/internal/telemetry"
	"github.com/xiaot623/gogo/agentd/internal/toolset"
	httpserver "github.com/xiaot623/gogo/agentd/internal/transport/http"
	"github.com/xiaot623/gogo/agentd/internal/transport/ws"
	"github.com/xiaot623/gogo/agentd/policy"
)

// openToolsets opens the store and brings the toolset manager up from it and
// from the toolsets file.
func openToolsets(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, *toolset.Manager, *toolset.FileSource, error) {
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	manager := toolset.NewManager(db, toolset.WithConnectTimeout(cfg.ToolsetConnectTimeout))
	source := toolset.NewFileSource(cfg.ToolsetsFile, db, manager)
	if err := source.Sync(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if err := manager.Initialize(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize toolsets: %w", err)
	}
	return db, manager, source, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting agentd",
		"port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"toolsets_file", cfg.ToolsetsFile,
		"mode", cfg.Mode)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, manager, source, err := openToolsets(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	manager.ConnectAll(ctx)
	if err := source.Watch(ctx); err != nil {
		slog.Warn("toolsets file watcher disabled", "error", err)
	}
	if err := source.Schedule(ctx, cfg.ToolsetRefreshSchedule); err != nil {
		return err
	}
	defer source.Close()

	policyEngine, err := policy.Load(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	svc := service.New(db, manager, source, llm.NewFactory(cfg.Mode, cfg.LLMTimeout), policyEngine, cfg)
	server := httpserver.NewServer(svc, ws.NewServer(svc, ws.DefaultConfig()))

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("agentd API started", "port", cfg.HTTPPort)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}

	slog.Info("shutting down agentd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("failed to stop running tasks", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("failed to shutdown server gracefully", "error", err)
	}
	manager.DisconnectAll(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("agentd stopped")
	return nil
}
