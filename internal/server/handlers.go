// Package server exposes HTTP handlers for messages, channels, WebSocket
// upgrades, and health checks.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/cipherchat/internal/channels"
	"github.com/Tyrowin/cipherchat/internal/relay"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// requireChannel writes a 404 or 500 and returns false unless id is registered.
func (s *Server) requireChannel(w http.ResponseWriter, r *http.Request, id string) bool {
	ok, err := s.channels.Exists(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("channel", id).Error("checking channel")
		writeError(w, http.StatusInternalServerError, "channel lookup failed")
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return false
	}
	return true
}

// HandleCreateMessage encrypts, stores and publishes a message.
func (s *Server) HandleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var body NewMessage
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	channel := strings.TrimSpace(body.Channel)
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	sender, err := validateMessage(body.Sender, body.Content, s.cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.requireChannel(w, r, channel) {
		return
	}

	rec, err := s.relay.Append(r.Context(), channel, sender, body.Content)
	if err != nil {
		s.log.WithError(err).WithField("channel", channel).Error("appending message")
		switch {
		case errors.Is(err, relay.ErrEncrypt):
			writeError(w, http.StatusInternalServerError, "message could not be encrypted")
		case errors.Is(err, relay.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "message could not be stored")
		}
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// HandleListMessages returns a channel's recent messages with plaintext content.
func (s *Server) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if !s.requireChannel(w, r, channel) {
		return
	}

	recs, err := s.relay.Recent(r.Context(), channel, limit)
	if err != nil {
		s.log.WithError(err).WithField("channel", channel).Error("reading messages")
		writeError(w, http.StatusInternalServerError, "messages could not be read")
		return
	}
	if recs == nil {
		recs = []relay.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleCreateChannel registers a new channel.
func (s *Server) HandleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var body CreateChannelRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, err := s.channels.Create(r.Context(), body.Name)
	if errors.Is(err, channels.ErrInvalidName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.WithError(err).Error("creating channel")
		writeError(w, http.StatusInternalServerError, "channel could not be created")
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// HandleListChannels returns every registered channel.
func (s *Server) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	list, err := s.channels.List(r.Context())
	if err != nil {
		s.log.WithError(err).Error("listing channels")
		writeError(w, http.StatusInternalServerError, "channels could not be listed")
		return
	}
	if list == nil {
		list = []channels.Channel{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleJoinChannel confirms a channel exists.
func (s *Server) HandleJoinChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channelID")
	if !s.requireChannel(w, r, id) {
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Status: "joined", ChannelID: id})
}

// HandleWebSocket upgrades the request and subscribes the connection to the
// channel named by the "channel" query parameter.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if !s.requireChannel(w, r, channel) {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, channel, s.cfg, s.postFunc(channel))
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HandleHealth reports that the process is serving.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "CipherChat server is running!")
}

// HandleReady reports whether the backing store answers.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.WithError(err).Warn("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
