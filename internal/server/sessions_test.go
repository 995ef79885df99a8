package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/webchat/internal/bus"
	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/presence"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestSessions(t *testing.T, ttl time.Duration) (*sessionStore, *fakeClock, *chat.Manager) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	sessions := newSessionStore(ttl, RateLimitConfig{Burst: 2, RefillInterval: time.Hour})
	sessions.now = clock.Now
	manager := chat.NewManager(presence.NewMemoryStore(), bus.NewMemoryBus())
	return sessions, clock, manager
}

func login(t *testing.T, manager *chat.Manager, nick string) *chat.Session {
	t.Helper()
	sess, err := manager.Login(context.Background(), nick, []string{"dev"})
	require.NoError(t, err)
	return sess
}

// TestSessionStoreIDs tests that every created entry gets a distinct id.
func TestSessionStoreIDs(t *testing.T) {
	sessions, _, manager := newTestSessions(t, time.Minute)
	sess := login(t, manager, "alice")

	first := sessions.create(sess)
	second := sessions.create(sess)
	assert.NotEqual(t, first.id, second.id)
	assert.Equal(t, 2, sessions.count())

	got, ok := sessions.get(first.id)
	require.True(t, ok)
	assert.Same(t, first, got)

	sessions.remove(first.id)
	_, ok = sessions.get(first.id)
	assert.False(t, ok)
}

// TestSessionStoreDropsClosedSessions tests that a disconnected session no
// longer resolves.
func TestSessionStoreDropsClosedSessions(t *testing.T) {
	sessions, _, manager := newTestSessions(t, time.Minute)
	sess := login(t, manager, "alice")
	entry := sessions.create(sess)

	require.NoError(t, manager.Disconnect(context.Background(), sess))

	_, ok := sessions.get(entry.id)
	assert.False(t, ok)
	assert.Equal(t, 0, sessions.count())
}

// TestSessionStoreExpire tests the idle cutoff and that open streams keep a
// session alive.
func TestSessionStoreExpire(t *testing.T) {
	sessions, clock, manager := newTestSessions(t, time.Minute)
	idle := sessions.create(login(t, manager, "alice"))
	streaming := sessions.create(login(t, manager, "bob"))
	active := sessions.create(login(t, manager, "carol"))

	release := sessions.acquire(streaming)

	clock.now = clock.now.Add(45 * time.Second)
	_, ok := sessions.get(active.id)
	require.True(t, ok)
	assert.Empty(t, sessions.expire())

	clock.now = clock.now.Add(30 * time.Second)
	expired := sessions.expire()
	require.Len(t, expired, 1)
	assert.Same(t, idle, expired[0])

	release()
	release()
	assert.Equal(t, 0, streaming.streams)

	clock.now = clock.now.Add(2 * time.Minute)
	assert.Len(t, sessions.expire(), 2)
	assert.Equal(t, 0, sessions.count())
}

// TestSessionJanitorSweep tests that expiry performs a full disconnect.
func TestSessionJanitorSweep(t *testing.T) {
	sessions, clock, manager := newTestSessions(t, time.Minute)
	sess := login(t, manager, "alice")
	sessions.create(sess)

	j := &sessionJanitor{sessions: sessions, manager: manager, interval: time.Second, logger: discardLogger()}
	assert.Equal(t, 0, j.sweep(context.Background()))

	clock.now = clock.now.Add(2 * time.Minute)
	assert.Equal(t, 1, j.sweep(context.Background()))
	assert.True(t, sess.Closed())

	taken, err := manager.Store().IsNicknameTaken(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, taken)

	users, err := manager.Users(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

// TestSessionJanitorRunStops tests that run returns on cancel.
func TestSessionJanitorRunStops(t *testing.T) {
	sessions, _, manager := newTestSessions(t, time.Minute)
	j := &sessionJanitor{sessions: sessions, manager: manager, interval: 5 * time.Millisecond, logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestJanitorInterval(t *testing.T) {
	assert.Equal(t, time.Second, janitorInterval(time.Second))
	assert.Equal(t, 15*time.Second, janitorInterval(time.Minute))
}

// TestRateLimiterBurst tests that the burst is honoured and then refused.
func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "message %d", i)
	}
	assert.False(t, rl.allow())
}

// TestRateLimiterRefill tests that tokens come back over the interval.
func TestRateLimiterRefill(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)
	require.True(t, rl.allow())
	require.False(t, rl.allow())
	assert.Eventually(t, rl.allow, time.Second, 5*time.Millisecond)
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
