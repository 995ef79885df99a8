// Package server manages individual stream clients. WebSocket clients get
// read/write pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/webchat/internal/chat"
	"github.com/Tyrowin/webchat/internal/stream"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	actionTimeout  = 10 * time.Second
	sendBufferSize = 16
)

// Client is one open event stream. conn is nil for SSE clients, whose
// handler goroutine writes the stream itself.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	server         *Server
	entry          *sessionEntry
	stream         *stream.Stream
	addr           string
	nick           string
	maxMessageSize int64
	logger         *slog.Logger
}

// newClient creates a Client for st. conn may be nil.
func (s *Server) newClient(conn *websocket.Conn, entry *sessionEntry, st *stream.Stream, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            s.hub,
		server:         s,
		entry:          entry,
		stream:         st,
		addr:           addr,
		nick:           entry.session.Nick(),
		maxMessageSize: s.cfg.MaxMessageSize,
		logger:         s.logger,
	}
}

func (c *Client) transport() string {
	if c.conn == nil {
		return "sse"
	}
	return "websocket"
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("Message exceeded maximum size", "addr", c.addr, "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info("Client disconnected", "addr", c.addr, "nick", c.nick, "error", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info("Client connection closed", "addr", c.addr, "nick", c.nick, "error", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("Unexpected WebSocket error", "addr", c.addr, "error", err)
		return true
	}

	c.logger.Warn("WebSocket read error", "addr", c.addr, "error", err)
	return true
}

// checkRateLimit verifies if the session has exceeded its message budget
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.entry.limiter != nil && !c.entry.limiter.allow() {
		c.logger.Warn("Rate limit exceeded; discarding message", "addr", c.addr, "nick", c.nick)
		return false
	}
	return true
}

// processAction decodes and performs one inbound action. Failures are
// reported back to the client as error events.
func (c *Client) processAction(raw []byte) {
	var action clientAction
	if err := json.Unmarshal(raw, &action); err != nil {
		c.logger.Warn("Invalid action", "addr", c.addr, "error", err)
		c.sendError(chat.ReasonUnexpected)
		return
	}

	ctx, cancel := context.WithTimeout(c.hub.Context(), actionTimeout)
	defer cancel()

	if _, ok := c.server.sessions.get(c.entry.id); !ok {
		c.sendError(chat.ReasonNotAuthenticated)
		return
	}

	var err error
	switch action.Type {
	case actionPong:
		err = c.server.manager.Pong(ctx, c.entry.session)
	case actionMessage:
		if !c.checkRateLimit() {
			return
		}
		err = c.server.manager.SendMessage(ctx, c.entry.session, action.Room, action.Message)
	default:
		c.logger.Warn("Unknown action", "addr", c.addr, "type", action.Type)
		err = chat.ErrUnexpected
	}

	if err != nil {
		c.server.logActionError(action.Type, c.nick, err)
		c.sendError(chat.ReasonOf(err))
	}
}

// sendError queues an error event without blocking the read pump.
func (c *Client) sendError(reason chat.Reason) {
	envelope, err := stream.ErrorEvent(reason).Envelope()
	if err != nil {
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Dropping error event for slow client", "addr", c.addr, "reason", reason)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.stream.Close(); err != nil {
			c.logger.Debug("Error closing stream in readPump", "stream", c.stream.ID(), "error", err)
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("Error closing connection in readPump", "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
			continue
		}

		c.processAction(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case event, ok := <-c.stream.Events():
		if !ok {
			return c.writeCloseMessage()
		}
		return c.handleEvent(event)
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error closing connection in writePump", "error", err)
		}
	}
}

func (c *Client) handleEvent(event stream.Event) bool {
	envelope, err := event.Envelope()
	if err != nil {
		c.logger.Warn("Skipping unencodable event", "stream", c.stream.ID(), "kind", event.Kind, "error", err)
		return true
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		c.logger.Warn("Skipping unencodable event", "stream", c.stream.ID(), "kind", event.Kind, "error", err)
		return true
	}
	return c.writeTextMessage(payload)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing close message", "addr", c.addr, "error", err)
		}
	}
	return false
}

// writeTextMessage writes a single JSON frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("Error writing ping message", "addr", c.addr, "error", err)
		return false
	}
	return true
}
