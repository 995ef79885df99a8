// Package server wires HTTP handlers into a ServeMux for the webchat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HealthHandler)
	mux.HandleFunc("GET /health", s.HealthHandler)

	mux.HandleFunc("POST /login", s.LoginHandler)
	mux.HandleFunc("GET /users", s.UsersHandler)
	mux.HandleFunc("POST /messages", s.MessageHandler)
	mux.HandleFunc("POST /rooms/join", s.JoinHandler)
	mux.HandleFunc("POST /rooms/leave", s.LeaveHandler)
	mux.HandleFunc("POST /pong", s.PongHandler)
	mux.HandleFunc("GET /quit", s.QuitHandler)

	mux.HandleFunc("GET /events", s.EventsHandler)
	mux.HandleFunc("GET /ws", s.WebSocketHandler)
	return mux
}
