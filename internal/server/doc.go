// Package server implements the HTTP action layer for webchat.
//
// Handlers translate cookie sessions and form posts into chat.Manager calls
// and map the resulting errors onto HTTP status codes. Event streams are
// served either as Server-Sent Events on /events or as JSON envelopes on
// /ws, and every open stream is tracked by the Hub so shutdown can end them
// before the HTTP server drains.
//
// The implementation is organized into specialized files for configuration,
// sessions, the hub, clients, routing, and handlers.
package server
