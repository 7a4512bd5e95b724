package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"livestream-studio/internal/config"
	"livestream-studio/internal/deps"
	"livestream-studio/internal/encoder"
	"livestream-studio/internal/events"
	"livestream-studio/internal/history"
	"livestream-studio/internal/httpapi"
	"livestream-studio/internal/observability/logging"
	"livestream-studio/internal/observability/metrics"
	"livestream-studio/internal/overlay"
	"livestream-studio/internal/session"
	"livestream-studio/internal/surface"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the studio API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	signalCtx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	baseLogger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := os.MkdirAll(cfg.Runtime.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another studio instance holds %s", cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			baseLogger.Warn("release instance lock", "error", err)
		}
	}()

	broadcaster := events.NewBroadcaster(events.Options{
		Buffer: cfg.Events.Buffer,
		Logger: logging.WithComponent(baseLogger, "events"),
	})
	defer broadcaster.Close()

	// Warnings and errors from every component reach observers on the
	// global topic as log events.
	logger := slog.New(logging.NewMirrorHandler(baseLogger.Handler(), slog.LevelWarn, func(level, message string) {
		broadcaster.Publish(events.GlobalTopic, events.Log("", level, message))
	}))
	slog.SetDefault(logger)

	recorder := metrics.Default()
	recorder.SetDroppedEventsFunc(broadcaster.Dropped)

	var checks []httpapi.HealthCheck
	if cfg.Events.RedisAddr != "" {
		relay, err := events.NewRedisRelay(events.RedisRelayConfig{
			Addr:         cfg.Events.RedisAddr,
			StreamPrefix: cfg.Events.RedisStreamPrefix,
			MaxLen:       cfg.Events.RedisMaxLen,
			Logger:       logging.WithComponent(baseLogger, "redis_relay"),
		})
		if err != nil {
			return fmt.Errorf("connect redis relay: %w", err)
		}
		defer func() {
			// Drain queued events into the relay before closing it.
			broadcaster.Close()
			relay.Close()
		}()
		broadcaster.AddSink(relay)
		checks = append(checks, httpapi.HealthCheck{Component: "redis", Check: relay.Ping})
	}

	store, err := history.Open(signalCtx, cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("close history store", "error", err)
		}
	}()

	host, err := deps.CheckHost(signalCtx, deps.MinAvailableMemory)
	switch {
	case err != nil:
		logger.Warn("host check failed", "error", err)
	case !host.Sufficient:
		logger.Warn("low memory for a browser surface", "detail", host.Detail)
	}
	checks = append(checks, httpapi.HealthCheck{Component: "host_memory", Check: func(ctx context.Context) error {
		status, err := deps.CheckHost(ctx, deps.MinAvailableMemory)
		if err != nil {
			return err
		}
		if !status.Sufficient {
			return errors.New(status.Detail)
		}
		return nil
	}})

	encOpts, err := encoderOptions(cfg)
	if err != nil {
		return err
	}
	adapter := encoder.NewAdapter(encOpts, encoder.WithLogger(logging.WithComponent(logger, "encoder")))
	surfaceLogger := logging.WithComponent(logger, "surface")
	sinks := audioSinks(cfg, logging.WithComponent(logger, "audio"))
	manager, err := session.NewManager(session.ManagerConfig{
		Settings: sessionSettings(cfg, encOpts.InputMode),
		Pipeline: session.EncoderPipeline{Adapter: adapter},
		NewSurface: func() session.Surface {
			return surface.NewController(surfaceOptions(cfg, encOpts.InputMode, sinks, surfaceLogger))
		},
		Publisher: broadcaster,
		History:   store,
		Metrics:   recorder,
		// Display input grabs one shared X display.
		SingleSession: encOpts.InputMode == encoder.InputDisplay,
		// Sessions mirror their own lines to the global topic.
		Logger: logging.WithComponent(baseLogger, "session"),
	})
	if err != nil {
		return err
	}

	handler := &httpapi.Handler{
		Sessions: manager,
		Events:   broadcaster,
		Layout:   func() (overlay.Layout, error) { return overlay.LoadLayout(cfg.Overlay.LayoutFile) },
		Checks:   checks,
		Logger:   logging.WithComponent(logger, "api"),
	}
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.Server.Addr,
		Handler: handler,
		Metrics: recorder,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, httpapi.RunConfig{
			Server:          server,
			TLS:             httpapi.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey},
			ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
			Ready: func(addr net.Addr) {
				logger.Info("studio listening", "addr", addr.String(), "compositor", cfg.Surface.CompositorURL)
			},
		})
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stop sessions: %w", err)
		}
		return nil
	})

	err = group.Wait()
	logger.Info("studio stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
