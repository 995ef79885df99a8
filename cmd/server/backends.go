package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/natsutil"
	"github.com/Tyrowin/webchat/internal/presence"
	"github.com/Tyrowin/webchat/internal/server"
)

type backends struct {
	store presence.Store
	bus   bus.Bus

	closeOnce sync.Once
	closers   []func() error
}

// close releases connections in reverse order of opening.
func (b *backends) close(logger *slog.Logger) {
	b.closeOnce.Do(func() {
		for i := len(b.closers) - 1; i >= 0; i-- {
			if err := b.closers[i](); err != nil {
				logger.Warn("Error closing backend", "error", err)
			}
		}
	})
}

func openBackends(ctx context.Context, cfg server.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	uses := func(name string) bool { return cfg.StoreBackend == name || cfg.BusBackend == name }

	var rdb *redis.Client
	if uses(server.BackendRedis) {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close(logger)
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	}

	var (
		nc *nats.Conn
		js jetstream.JetStream
	)
	if uses(server.BackendNATS) {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := natsutil.StartEmbedded(natsutil.EmbeddedConfig{StoreDir: cfg.NATS.StoreDir})
			if err != nil {
				b.close(logger)
				return nil, err
			}
			b.closers = append(b.closers, func() error {
				ns.Shutdown()
				return nil
			})
			url = ns.ClientURL()
			logger.Info("Embedded NATS server started", "url", url)
		}

		var err error
		nc, err = natsutil.Connect(url, logger)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.closers = append(b.closers, func() error {
			return nc.Drain()
		})

		js, err = jetstream.New(nc)
		if err != nil {
			b.close(logger)
			return nil, fmt.Errorf("open jetstream: %w", err)
		}
	}

	switch cfg.StoreBackend {
	case server.BackendRedis:
		b.store = presence.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	case server.BackendNATS:
		store, err := presence.NewNATSStore(ctx, js, cfg.NATS.BucketPrefix)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.store = store
	default:
		b.store = presence.NewMemoryStore()
	}

	switch cfg.BusBackend {
	case server.BackendRedis:
		b.bus = bus.NewRedisBus(rdb, bus.WithLogger(logger))
	case server.BackendNATS:
		b.bus = bus.NewNATSBus(nc, bus.WithLogger(logger))
	default:
		memory := bus.NewMemoryBus(bus.WithLogger(logger))
		b.closers = append(b.closers, memory.Close)
		b.bus = memory
	}

	return b, nil
}
