package app

import (
	"context"
	"log/slog"

	"abmarket/internal/infra"
	"abmarket/internal/infra/storage"
	"abmarket/internal/stream"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Stream  *stream.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, sinks)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping market simulator...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ Results database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Initialize Observer Stream
	if cfg.Stream.Enabled {
		b.Stream = stream.NewServer(cfg.Stream.Addr)
		slog.Info("✅ Observer stream ready", slog.String("addr", cfg.Stream.Addr))
	}

	return nil
}

// Shutdown releases everything Initialize opened. Safe to call with
// partially initialized state.
func (b *Bootstrap) Shutdown(ctx context.Context) {
	if b.Stream != nil {
		if err := b.Stream.Shutdown(ctx); err != nil {
			slog.Warn("Observer stream shutdown failed", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Storage close failed", slog.Any("error", err))
		}
	}
}
