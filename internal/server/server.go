// Package server implements the webchat HTTP action layer on top of the chat
// manager and the event stream dispatcher.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/stream"
)

// Server owns the per-process HTTP state: sessions, the hub of open streams,
// and the WebSocket upgrader.
type Server struct {
	cfg        Config
	manager    *chat.Manager
	dispatcher *stream.Dispatcher
	hub        *Hub
	sessions   *sessionStore
	origins    *originPolicy
	upgrader   websocket.Upgrader
	janitor    *sessionJanitor
	logger     *slog.Logger
}

// New builds a Server. cfg is sanitized first.
func New(cfg Config, manager *chat.Manager, dispatcher *stream.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()

	s := &Server{
		cfg:        cfg,
		manager:    manager,
		dispatcher: dispatcher,
		hub:        NewHub(logger),
		sessions:   newSessionStore(cfg.SessionTTL, cfg.RateLimit),
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.janitor = &sessionJanitor{
		sessions: s.sessions,
		manager:  manager,
		interval: janitorInterval(cfg.SessionTTL),
		logger:   logger,
	}
	return s
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the hub of open streams for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.SetupRoutes()
}

// RunSessionJanitor disconnects idle sessions until ctx is done.
func (s *Server) RunSessionJanitor(ctx context.Context) error {
	s.logger.Info("Session janitor started", "ttl", s.cfg.SessionTTL, "interval", s.janitor.interval)
	return s.janitor.run(ctx)
}

// logActionError records a failed action. Backend failures are critical;
// everything else is the client's doing.
func (s *Server) logActionError(action, nick string, err error) {
	switch {
	case errors.Is(err, chat.ErrBackendUnavailable):
		s.logger.Error("Backend failure during action", "action", action, "nick", nick, "error", err)
	case errors.Is(err, errRateLimited):
		s.logger.Warn("Rate limit exceeded; discarding message", "action", action, "nick", nick)
	case chat.ReasonOf(err) == chat.ReasonUnexpected:
		s.logger.Error("Unexpected error during action", "action", action, "nick", nick, "error", err)
	default:
		s.logger.Info("Action rejected", "action", action, "nick", nick, "reason", chat.ReasonOf(err))
	}
}
