package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", os.Getenv("LOYALTYKIT_CONFIG_FILE"), "path to a .json or .yaml config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx, ConfigPath(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, app); err != nil {
		app.Logger.Error("server exited with error", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
	cleanup()
}

func run(ctx context.Context, app *App) error {
	cfg, log := app.Config, app.Logger

	log.Info("starting loyaltykit server",
		zap.String("profile", cfg.Profile),
		zap.String("address", cfg.Server.Address),
		zap.String("storage_adapter", cfg.Storage.Adapter),
		zap.String("dispatch_mode", cfg.Engine.DispatchMode))

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		log.Info("listening", zap.String("listener", name), zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s listener: %w", name, err)
		}
	}

	go serve("api", app.Server)
	if app.Metrics.Server != nil {
		go serve("metrics", app.Metrics.Server)
	}

	aggCtx, cancelAgg := context.WithCancel(context.Background())
	defer cancelAgg()
	if cfg.Metrics.SnapshotInterval > 0 {
		go app.Aggregator.Run(aggCtx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		log.Error("error during server shutdown", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}
	if app.Metrics.Server != nil {
		if err := app.Metrics.Server.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	cancelAgg()

	log.Info("server stopped",
		zap.Int("realtime_subscribers", app.Hub.Subscribers()),
		zap.Int64("realtime_dropped", app.Hub.Dropped()))
	return runErr
}
