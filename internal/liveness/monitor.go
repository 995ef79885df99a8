// Package liveness publishes the periodic ping that connected clients answer
// with a pong. Clients that stop answering are not evicted here.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/webchat/internal/bus"
)

// DefaultInterval is used when a Monitor is built with a non-positive interval.
const DefaultInterval = 30 * time.Second

// Monitor publishes a ping on bus.TopicPing at a fixed interval.
type Monitor struct {
	bus      bus.Bus
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor returns a Monitor that pings through b every interval.
func NewMonitor(b bus.Bus, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{bus: b, interval: interval, logger: logger}
}

// Interval returns the time between pings.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Ping publishes a single ping.
func (m *Monitor) Ping(ctx context.Context) error {
	return m.bus.Publish(ctx, bus.TopicPing, []byte("{}"))
}

// Run pings every interval until ctx is done. A failed ping is logged and
// the next tick tries again.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Liveness monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Liveness monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.Ping(ctx); err != nil {
				m.logger.Warn("Failed to publish ping", "error", err)
			}
		}
	}
}
