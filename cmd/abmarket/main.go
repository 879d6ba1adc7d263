package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abmarket/internal/app"
	"abmarket/internal/experiment"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Observer Stream (live ticks over websocket)
	if bootstrap.Stream != nil {
		go func() {
			if err := bootstrap.Stream.Start(); err != nil {
				slog.Error("Observer stream failed", slog.Any("error", err))
			}
		}()
		slog.InfoContext(ctx, "✅ Observer stream started", slog.String("addr", bootstrap.Config.Stream.Addr))
	}

	// 5. Run the configured experiment
	runner, err := experiment.NewRunner(bootstrap.Config, bootstrap.Storage, bootstrap.Stream)
	if err != nil {
		slog.Error("❌ Runner setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.InfoContext(ctx, "✨ Simulator ready",
		slog.String("mode", bootstrap.Config.Simulation.ExperimentMode))

	runErr := runner.Run(ctx)

	// 6. Teardown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bootstrap.Shutdown(shutdownCtx)

	if runErr != nil {
		slog.Error("❌ Experiment failed", slog.Any("error", runErr))
		os.Exit(1)
	}
	slog.InfoContext(ctx, "👋 Experiment complete")
}
