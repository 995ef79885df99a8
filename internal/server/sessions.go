// Package server keeps the cookie keyed registry of logged in sessions and
// disconnects the ones that go idle.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/webchat/internal/chat"
)

type sessionEntry struct {
	id       string
	session  *chat.Session
	limiter  *rateLimiter
	lastSeen time.Time
	streams  int
}

// sessionStore maps cookie values to chat sessions. Every login gets a fresh
// random id so a pre-existing cookie value is never reused.
type sessionStore struct {
	mu        sync.Mutex
	entries   map[string]*sessionEntry
	ttl       time.Duration
	rateLimit RateLimitConfig
	now       func() time.Time
}

func newSessionStore(ttl time.Duration, rateLimit RateLimitConfig) *sessionStore {
	return &sessionStore{
		entries:   make(map[string]*sessionEntry),
		ttl:       ttl,
		rateLimit: rateLimit,
		now:       time.Now,
	}
}

func (s *sessionStore) create(sess *chat.Session) *sessionEntry {
	entry := &sessionEntry{
		id:      uuid.NewString(),
		session: sess,
		limiter: newRateLimiter(s.rateLimit.Burst, s.rateLimit.RefillInterval),
	}

	s.mu.Lock()
	entry.lastSeen = s.now()
	s.entries[entry.id] = entry
	s.mu.Unlock()
	return entry
}

// get returns the live entry for id and marks it as seen. Entries whose
// session has been closed are dropped.
func (s *sessionStore) get(id string) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if entry.session.Closed() {
		delete(s.entries, id)
		return nil, false
	}
	entry.lastSeen = s.now()
	return entry, true
}

func (s *sessionStore) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// acquire marks an open stream on the entry. Sessions with open streams never
// expire. The returned func releases it.
func (s *sessionStore) acquire(entry *sessionEntry) func() {
	s.mu.Lock()
	entry.streams++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			entry.streams--
			entry.lastSeen = s.now()
			s.mu.Unlock()
		})
	}
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// expire removes and returns every entry idle for longer than the ttl.
func (s *sessionStore) expire() []*sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	var expired []*sessionEntry
	for id, entry := range s.entries {
		if entry.session.Closed() {
			delete(s.entries, id)
			continue
		}
		if entry.streams > 0 || entry.lastSeen.After(cutoff) {
			continue
		}
		delete(s.entries, id)
		expired = append(expired, entry)
	}
	return expired
}

// sessionJanitor disconnects sessions that went idle.
type sessionJanitor struct {
	sessions *sessionStore
	manager  *chat.Manager
	interval time.Duration
	logger   *slog.Logger
}

func (j *sessionJanitor) sweep(ctx context.Context) int {
	expired := j.sessions.expire()
	for _, entry := range expired {
		if err := j.manager.Disconnect(ctx, entry.session); err != nil {
			j.logger.Warn("Failed to fully disconnect idle session", "nick", entry.session.Nick(), "error", err)
			continue
		}
		j.logger.Info("Disconnected idle session", "nick", entry.session.Nick())
	}
	return len(expired)
}

func (j *sessionJanitor) run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (s *Server) sessionCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	cookie := s.sessionCookie("")
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

// sessionFromRequest resolves the request's session cookie to a live entry.
func (s *Server) sessionFromRequest(r *http.Request) (*sessionEntry, bool) {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	return s.sessions.get(cookie.Value)
}
