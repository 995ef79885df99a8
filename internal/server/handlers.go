// Package server exposes HTTP handlers for the chat actions, the SSE and
// WebSocket event streams, and health checks.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/stream"
)

var errRateLimited = errors.New("rate limited")

// HealthHandler reports that the server is up along with the number of open streams.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Webchat server is running! Open streams: %d", s.hub.Count())
}

// LoginHandler claims a nickname and joins the requested rooms. A request
// that already carries a live session gets that session back unchanged.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if entry, ok := s.sessionFromRequest(r); ok {
		writeJSON(w, http.StatusOK, sessionResponse{Nick: entry.session.Nick(), Rooms: entry.session.Rooms()})
		return
	}
	if !s.parseForm(w, r) {
		return
	}

	sess, err := s.manager.Login(r.Context(), r.PostFormValue("nick"), chat.ParseRooms(r.PostFormValue("rooms")))
	if err != nil {
		s.fail(w, "login", r.PostFormValue("nick"), err)
		return
	}

	entry := s.sessions.create(sess)
	http.SetCookie(w, s.sessionCookie(entry.id))
	writeJSON(w, http.StatusOK, sessionResponse{Nick: sess.Nick(), Rooms: sess.Rooms()})
}

// UsersHandler returns the room to members snapshot.
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	users, err := s.manager.Users(r.Context())
	if err != nil {
		s.fail(w, "users", entry.session.Nick(), err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// MessageHandler posts a message to one of the session's rooms.
func (s *Server) MessageHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok || !s.parseForm(w, r) {
		return
	}

	if !entry.limiter.allow() {
		s.fail(w, "message", entry.session.Nick(), errRateLimited)
		return
	}

	err := s.manager.SendMessage(r.Context(), entry.session, r.PostFormValue("room"), r.PostFormValue("message"))
	if err != nil {
		s.fail(w, "message", entry.session.Nick(), err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// JoinHandler adds rooms to the session.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok || !s.parseForm(w, r) {
		return
	}

	rooms, err := s.manager.JoinRooms(r.Context(), entry.session, chat.ParseRooms(r.PostFormValue("join_rooms")))
	if err != nil {
		s.fail(w, "join", entry.session.Nick(), err)
		return
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: rooms})
}

// LeaveHandler removes one room from the session. Leaving the last room
// ends the session and answers 404.
func (s *Server) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok || !s.parseForm(w, r) {
		return
	}

	rooms, disconnected, err := s.manager.Leave(r.Context(), entry.session, r.PostFormValue("room"))
	if disconnected {
		if err != nil {
			s.logActionError("leave", entry.session.Nick(), err)
		}
		s.sessions.remove(entry.id)
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "disconnected"})
		return
	}
	if err != nil {
		s.fail(w, "leave", entry.session.Nick(), err)
		return
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: rooms})
}

// PongHandler answers a liveness ping.
func (s *Server) PongHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if err := s.manager.Pong(r.Context(), entry.session); err != nil {
		s.fail(w, "pong", entry.session.Nick(), err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// QuitHandler ends the session, if any, and redirects home.
func (s *Server) QuitHandler(w http.ResponseWriter, r *http.Request) {
	if entry, ok := s.sessionFromRequest(r); ok {
		if err := s.manager.Disconnect(r.Context(), entry.session); err != nil {
			s.logActionError("quit", entry.session.Nick(), err)
		}
		s.sessions.remove(entry.id)
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// EventsHandler serves the session's event stream as Server-Sent Events.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, "events", entry.session.Nick(), fmt.Errorf("%w: streaming unsupported", chat.ErrUnexpected))
		return
	}

	st, err := s.dispatcher.Open(r.Context(), entry.session)
	if err != nil {
		s.fail(w, "events", entry.session.Nick(), err)
		return
	}
	defer func() { _ = st.Close() }()

	client := s.newClient(nil, entry, st, r.RemoteAddr)
	if !s.hub.Register(client) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "shutting_down"})
		return
	}
	defer s.hub.Unregister(client)
	defer s.sessions.acquire(entry)()

	// The stream outlives the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("Could not clear write deadline", "error", err)
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range st.Events() {
		if err := writeSSE(w, event); err != nil {
			s.logger.Debug("SSE write failed", "stream", st.ID(), "error", err)
			return
		}
		flusher.Flush()
	}
}

// WebSocketHandler upgrades the request and serves the session's event
// stream over the connection. Inbound frames are chat actions.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !s.origins.checkOrigin(r) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "origin_not_allowed"})
		return
	}

	st, err := s.dispatcher.Open(s.hub.Context(), entry.session)
	if err != nil {
		s.fail(w, "websocket", entry.session.Nick(), err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		_ = st.Close()
		return
	}

	client := s.newClient(conn, entry, st, r.RemoteAddr)
	release := s.sessions.acquire(entry)
	go func() {
		<-st.Done()
		release()
	}()

	// The hub launches the pump goroutines.
	if !s.hub.Register(client) {
		_ = st.Close()
		_ = conn.Close()
	}
}

func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*sessionEntry, bool) {
	entry, ok := s.sessionFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: string(chat.ReasonNotAuthenticated)})
		return nil, false
	}
	return entry, true
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageSize)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed_request"})
		return false
	}
	return true
}

// fail logs err and writes the matching status and reason.
func (s *Server) fail(w http.ResponseWriter, action, nick string, err error) {
	s.logActionError(action, nick, err)

	if errors.Is(err, errRateLimited) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited"})
		return
	}
	writeJSON(w, statusFor(err), errorResponse{Error: string(chat.ReasonOf(err))})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotAuthenticated), errors.Is(err, chat.ErrWrongRoom):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNicknameInUse):
		return http.StatusConflict
	case errors.Is(err, chat.ErrInvalidNickname),
		errors.Is(err, chat.ErrInvalidRoom),
		errors.Is(err, chat.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNoUsers):
		return http.StatusNotFound
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeSSE frames one event as "event: <kind>\ndata: <json>\n\n".
func writeSSE(w http.ResponseWriter, event stream.Event) error {
	data, err := event.Data()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, text)
}
