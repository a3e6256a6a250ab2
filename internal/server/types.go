// Package server defines request and response payloads and the validation
// helpers shared by the HTTP handlers and WebSocket clients.
package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// NewMessage is the body of POST /messages.
type NewMessage struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// LiveMessage is a frame a WebSocket client sends to post into the channel
// it is subscribed to.
type LiveMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// CreateChannelRequest is the body of POST /channels.
type CreateChannelRequest struct {
	Name string `json:"name"`
}

// JoinResponse is returned by POST /channels/{id}/join.
type JoinResponse struct {
	Status    string `json:"status"`
	ChannelID string `json:"channel_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var errInvalidMessage = errors.New("invalid message")

// validateMessage checks sender and content and returns the trimmed sender.
func validateMessage(sender, content string, cfg Config) (string, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return "", fmt.Errorf("%w: sender is required", errInvalidMessage)
	}
	if utf8.RuneCountInString(sender) > cfg.MaxSenderLength {
		return "", fmt.Errorf("%w: sender longer than %d characters", errInvalidMessage, cfg.MaxSenderLength)
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content is required", errInvalidMessage)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", errInvalidMessage)
	}
	if utf8.RuneCountInString(content) > cfg.MaxContentLength {
		return "", fmt.Errorf("%w: content longer than %d characters", errInvalidMessage, cfg.MaxContentLength)
	}
	return sender, nil
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
