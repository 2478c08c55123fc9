package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwise/internal/config"
	"github.com/MrWong99/speakwise/internal/course"
	"github.com/MrWong99/speakwise/internal/health"
	"github.com/MrWong99/speakwise/internal/history"
	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, opts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen_addr")
	return cmd
}

func serve(cmd *cobra.Command, opts *rootOptions, listen string) error {
	ctx := cmd.Context()

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
	creds := config.NewCredentials(cfg)

	var watcher *config.Watcher
	if _, statErr := os.Stat(opts.configPath); statErr == nil {
		watcher, err = config.NewWatcher(opts.configPath, func(old, new *config.Config) {
			applyReload(old, new, creds)
		})
		if err != nil {
			return err
		}
	}

	slog.Info("speakwise starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	// ── Core ──────────────────────────────────────────────────────────────────
	coach, err := buildCoach(cfg, creds, metrics)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return err
	}

	closers := []func(context.Context) error{
		func(context.Context) error { return coach.Close() },
	}
	defer func() {
		closers = append(closers, shutdownTelemetry)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := closeAll(shutdownCtx, closers...); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		slog.Info("goodbye")
	}()

	// ── History ───────────────────────────────────────────────────────────────
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		return err
	}
	closers = append(closers, func(context.Context) error { return store.Close() })

	if cfg.Events.Servers != "" {
		conn, err := history.ConnectNATS(cfg.Events.Servers)
		if err != nil {
			return err
		}
		closers = append([]func(context.Context) error{func(context.Context) error { return drainNATS(conn) }}, closers...)
		store = history.Publishing(store, conn, cfg.Events.Subject)
	}

	// ── Courses ───────────────────────────────────────────────────────────────
	var catalogue *course.Catalogue
	if cfg.Courses.Dir != "" {
		catalogue, err = course.Open(cfg.Courses.Dir)
		if err != nil {
			return err
		}
		slog.Info("courses loaded", "dir", cfg.Courses.Dir, "count", catalogue.Len())
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	checks := health.New(
		health.Flag("engine", cfg.Engine.ModelPath == "", coach.IsEngineReady, "scoring engine is not initialised"),
		health.Flag("critique", true, coach.IsCritiqueConfigured, "critique API key is not configured"),
		health.Flag("tts", true, func() bool { return coach.Status().TTSConfigured }, "no speech synthesis provider is configured"),
		health.Ping("history", func(ctx context.Context) error { return history.Ping(ctx, store) }),
	)
	srv := server.New(coach,
		server.WithHistory(store),
		server.WithCourses(catalogue),
		server.WithHealth(checks),
		server.WithMetrics(metrics),
		server.WithMetricsHandler(observe.Handler()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.ListenAddr) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown signal received, stopping")
	return nil
}

// applyReload pushes the hot-reloadable parts of a new config into the
// running process and warns about the rest.
func applyReload(old, new *config.Config, creds *config.Credentials) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		setLogLevel(d.NewLogLevel)
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CritiqueKeyChanged || len(d.TTSKeysChanged) > 0 {
		creds.Update(new)
		slog.Info("credentials reloaded", "critique", d.CritiqueKeyChanged, "tts", d.TTSKeysChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that only apply after a restart", "sections", d.RestartRequired)
	}
}

func drainNATS(conn *nats.Conn) error {
	if err := conn.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
