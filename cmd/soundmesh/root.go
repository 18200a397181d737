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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/soundmesh/soundmesh/internal/board"
	"github.com/soundmesh/soundmesh/internal/conf"
	"github.com/soundmesh/soundmesh/internal/logging"
	"github.com/soundmesh/soundmesh/internal/metrics"
)

func newRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "soundmesh",
		Short: "Run a soundmesh board from a wiring configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoard(cmd.Context(), debug)
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := conf.BindCobraFlags(cmd, map[string]string{"debug": "debug"}); err != nil {
		fmt.Fprintln(os.Stderr, "warning: failed to bind flags:", err)
	}

	return cmd
}

func runBoard(ctx context.Context, debugFlag bool) error {
	settings, err := conf.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if debugFlag {
		settings.Debug = true
	}

	logging.Init()
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}
	logger := logging.ForService(settings.Main.Name)

	if settings.Main.Log.Enabled && settings.Main.Log.Path != "" {
		fileLogger, closeLog, err := logging.NewFileLogger(
			settings.Main.Log.Path, settings.Main.Name, nil,
			logging.RotationConfig{
				MaxSize:  settings.Main.Log.MaxSize,
				Rotation: logging.RotationPolicy(settings.Main.Log.Rotation),
			})
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", settings.Main.Log.Path, err)
		}
		defer func() { _ = closeLog() }()
		logger = fileLogger
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Registry
	if settings.Main.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.NewRegistry(reg)
		go serveMetrics(ctx, settings.Main.Metrics.Address, reg, logger)
	}

	b := board.NewBoard(ctx, logger,
		board.WithStrictIdentifier(settings.Composite.StrictIdentifier),
		board.WithMetrics(m))

	if err := wireBoard(ctx, b, settings, m); err != nil {
		return fmt.Errorf("wiring board: %w", err)
	}

	logger.Info("soundmesh board started", "processors", len(settings.Board.Processors))
	<-ctx.Done()

	logger.Info("shutting down")
	b.StopAll()

	if errs := b.Errors(); len(errs) > 0 {
		logger.Warn("board reported errors during run", "count", len(errs))
	}
	return nil
}

// serveMetrics exposes reg on addr's /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics endpoint failed", "addr", addr, "error", err)
	}
}
