package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/cipherchat/internal/channels"
	"github.com/Tyrowin/cipherchat/internal/envelope"
	"github.com/Tyrowin/cipherchat/internal/relay"
	"github.com/Tyrowin/cipherchat/internal/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testEnv is a fully wired server over an in-process Redis.
type testEnv struct {
	srv      *Server
	http     *httptest.Server
	mr       *miniredis.Miniredis
	redis    *store.Redis
	relay    *relay.Relay
	registry *channels.Registry
}

// newTestEnv starts a server with a "general" channel. The hub and the live
// listener run until the test ends.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := quietLogger()

	mr := miniredis.RunT(t)
	rs, err := store.Open(store.Config{URL: "redis://" + mr.Addr(), Logger: logger})
	require.NoError(t, err)

	codec, err := envelope.Generate()
	require.NoError(t, err)

	registry := channels.NewRegistry(rs, logger)
	_, err = registry.Ensure(context.Background(), "general", "general")
	require.NoError(t, err)

	cfg := *NewConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	rl, err := relay.New(relay.Config{
		Store:        rs,
		Cipher:       codec,
		Logger:       logger,
		HistoryCap:   cfg.HistoryCap,
		DefaultLimit: cfg.DefaultHistoryLimit,
		OldestFirst:  cfg.HistoryOrder == OrderOldestFirst,
	})
	require.NoError(t, err)

	srv, err := New(cfg, Deps{Relay: rl, Channels: registry, Store: rs, Logger: logger})
	require.NoError(t, err)

	go srv.Hub().Run()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		_ = rl.Listen(ctx, rs, ready, func(rec relay.Record) { srv.Hub().Deliver(rec) })
	}()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("live listener did not start")
	}

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		_ = srv.Hub().Shutdown(2 * time.Second)
		_ = rs.Close()
	})

	return &testEnv{srv: srv, http: ts, mr: mr, redis: rs, relay: rl, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequest(method, e.http.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) wsURL(channel string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?channel=" + channel
}
