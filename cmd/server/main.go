package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/liveness"
	"github.com/Tyrowin/webchat/internal/server"
	"github.com/Tyrowin/webchat/internal/stream"
)

func main() {
	cfg := server.NewConfigFromEnv().Sanitize()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("Starting webchat server...", "store", cfg.StoreBackend, "bus", cfg.BusBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open backends", "error", err)
		os.Exit(1)
	}

	manager := chat.NewManager(backends.store, backends.bus,
		chat.WithLogger(logger),
		chat.WithDefaultRoom(cfg.DefaultRoom),
		chat.WithMaxMessageLength(cfg.MaxMessageLength),
	)
	dispatcher := stream.NewDispatcher(backends.store, backends.bus, stream.WithLogger(logger))
	monitor := liveness.NewMonitor(backends.bus, cfg.PingInterval, logger)

	srv := server.New(cfg, manager, dispatcher, logger)
	srv.StartHub()
	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.StartServer(httpServer, logger) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return srv.RunSessionJanitor(gctx) })

	go func() {
		if err := g.Wait(); err != nil {
			logger.Error("Server stopped unexpectedly", "error", err)
			backends.close(logger)
			os.Exit(1)
		}
	}()

	// Streams end before the HTTP server drains, and backends close last.
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"webchat": func(context.Context) error {
				logger.Info("Graceful shutdown initiated...")
				hubErr := srv.Hub().Shutdown(cfg.ShutdownTimeout)
				httpErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
				cancel()
				waitErr := g.Wait()
				backends.close(logger)
				if hubErr != nil {
					return hubErr
				}
				if httpErr != nil {
					return httpErr
				}
				return waitErr
			},
		},
	)

	exitCode := <-wait
	logger.Info("Webchat server exited", "code", exitCode)
	os.Exit(exitCode)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
