package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/cipherchat/internal/channels"
	"github.com/Tyrowin/cipherchat/internal/envelope"
	"github.com/Tyrowin/cipherchat/internal/logging"
	"github.com/Tyrowin/cipherchat/internal/relay"
	"github.com/Tyrowin/cipherchat/internal/server"
	"github.com/Tyrowin/cipherchat/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cipherchat:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log := logger.WithField("component", "main")

	// The key exists only in memory: messages stored by a previous process
	// can no longer be decrypted and are served with a placeholder.
	codec, err := envelope.Generate()
	if err != nil {
		return fmt.Errorf("generate message key: %w", err)
	}

	rs, err := store.Open(store.Config{URL: cfg.RedisURL, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := rs.Close(); err != nil {
			log.WithError(err).Warn("closing redis")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rs.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	registry := channels.NewRegistry(rs, logger)
	for _, id := range cfg.DefaultChannels {
		if _, err := registry.Ensure(ctx, id, id); err != nil {
			return fmt.Errorf("seed channel %q: %w", id, err)
		}
	}

	rl, err := relay.New(relay.Config{
		Store:        rs,
		Cipher:       codec,
		Logger:       logger,
		HistoryCap:   cfg.HistoryCap,
		DefaultLimit: cfg.DefaultHistoryLimit,
		OldestFirst:  cfg.HistoryOrder == server.OrderOldestFirst,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(*cfg, server.Deps{
		Relay:    rl,
		Channels: registry,
		Store:    rs,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// The server sanitized cfg; use its copy from here on.
	sc := srv.Config()
	hub := srv.Hub()
	go hub.Run()
	go listen(ctx, func(ctx context.Context, ready chan<- struct{}) error {
		return rl.Listen(ctx, rs, ready, func(rec relay.Record) { hub.Deliver(rec) })
	}, time.After, log)

	httpServer := server.CreateServer(sc.Port, srv.Routes())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.StartServer(httpServer)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	if err := srv.ShutdownServer(httpServer, sc.ShutdownTimeout); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if err := hub.Shutdown(sc.ShutdownTimeout); err != nil {
		log.WithError(err).Warn("hub did not shut down cleanly")
	}
	return nil
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// subscribeFunc blocks on one live subscription, closing ready once it is
// established.
type subscribeFunc func(ctx context.Context, ready chan<- struct{}) error

// listen keeps a live subscription open until ctx is cancelled. Retries back
// off exponentially; the delay resets once a subscription has been live.
func listen(ctx context.Context, subscribe subscribeFunc, after func(time.Duration) <-chan time.Time, log *logrus.Entry) {
	backoff := minBackoff
	for {
		ready := make(chan struct{})
		err := subscribe(ctx, ready)
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ready:
			backoff = minBackoff
		default:
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warnf("live subscription lost; retrying in %s", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-after(backoff):
		}
		if backoff < maxBackoff {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}
