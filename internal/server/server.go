// Package server wires the relay, the channel registry and the live hub into
// the HTTP API.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/cipherchat/internal/channels"
	"github.com/Tyrowin/cipherchat/internal/relay"
)

const postTimeout = 5 * time.Second

// MessageRelay is the message core used by the API.
type MessageRelay interface {
	Append(ctx context.Context, channel, sender, text string) (relay.Record, error)
	Recent(ctx context.Context, channel string, limit int) ([]relay.Record, error)
}

// ChannelRegistry is the channel directory used by the API.
type ChannelRegistry interface {
	Create(ctx context.Context, name string) (channels.Channel, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]channels.Channel, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server needs. Relay and Channels are required.
type Deps struct {
	Relay    MessageRelay
	Channels ChannelRegistry
	Store    Pinger
	Hub      *Hub
	Logger   *logrus.Logger
}

// Server serves the chat API.
type Server struct {
	cfg      Config
	relay    MessageRelay
	channels ChannelRegistry
	store    Pinger
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// New builds a Server from a sanitized copy of cfg. If deps.Hub is nil a new
// hub is created; the caller runs it with Hub().Run.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Relay == nil {
		return nil, errors.New("server: relay is required")
	}
	if deps.Channels == nil {
		return nil, errors.New("server: channel registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Logger)
	}

	log := deps.Logger.WithField("component", "server")
	s := &Server{
		cfg:      cfg,
		relay:    deps.Relay,
		channels: deps.Channels,
		store:    deps.Store,
		hub:      hub,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s, nil
}

// Hub returns the live delivery hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// postFunc returns the PostFunc for live clients of channel.
func (s *Server) postFunc(channel string) PostFunc {
	return func(ctx context.Context, msg LiveMessage) error {
		sender, err := validateMessage(msg.Sender, msg.Content, s.cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, postTimeout)
		defer cancel()
		_, err = s.relay.Append(ctx, channel, sender, msg.Content)
		return err
	}
}
