package liveness_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/liveness"
)

type failingBus struct {
	bus.Bus
	attempts atomic.Int32
}

func (b *failingBus) Publish(context.Context, string, []byte) error {
	b.attempts.Add(1)
	return errors.New("unreachable")
}

// TestMonitorPublishesPings tests that Run emits pings on the ping topic
// until its context is cancelled.
func TestMonitorPublishesPings(t *testing.T) {
	b := bus.NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), bus.Pattern)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	m := liveness.NewMonitor(b, 10*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case msg := <-sub.Messages():
			assert.Equal(t, bus.TopicPing, msg.Topic)
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for ping")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// TestMonitorSurvivesPublishFailures tests that failed pings are retried on
// the next tick.
func TestMonitorSurvivesPublishFailures(t *testing.T) {
	b := &failingBus{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := liveness.NewMonitor(b, 5*time.Millisecond, nil)
	go func() { _ = m.Run(ctx) }()

	assert.Eventually(t, func() bool { return b.attempts.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

// TestMonitorDefaultInterval tests the fallback interval.
func TestMonitorDefaultInterval(t *testing.T) {
	m := liveness.NewMonitor(bus.NewMemoryBus(), 0, nil)
	assert.Equal(t, liveness.DefaultInterval, m.Interval())
}
