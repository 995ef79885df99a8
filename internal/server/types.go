// Package server defines shared wire types and utility helpers that are
// reused across client and handler logic.
package server

import "strings"

// Inbound WebSocket action types.
const (
	actionPong    = "pong"
	actionMessage = "message"
)

// clientAction is an inbound WebSocket frame, e.g.
// {"type":"message","room":"dev","message":"hi"} or {"type":"pong"}.
type clientAction struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type sessionResponse struct {
	Nick  string   `json:"nick"`
	Rooms []string `json:"rooms"`
}

type roomsResponse struct {
	Rooms []string `json:"rooms"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
