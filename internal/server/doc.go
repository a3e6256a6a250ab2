// Package server implements the HTTP API and WebSocket live feed for CipherChat.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, routing, and HTTP handlers. Message storage and
// encryption live in the relay and envelope packages; this package only
// validates requests, checks the channel registry, and encodes responses.
package server
