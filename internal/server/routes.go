// Package server wires HTTP handlers into a chi router for the CipherChat
// application via routing helpers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	reqTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cipherchat",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "route", "code"})

	reqDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cipherchat",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(reqTotal, reqDuration)
}

// Routes returns the HTTP handler with all application routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(s.origins.cors)

	r.Get("/", HandleHealth)
	r.Get("/healthz", HandleHealth)
	r.Get("/readyz", s.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/messages", s.HandleCreateMessage)
	r.Get("/messages", s.HandleListMessages)

	r.Post("/channels", s.HandleCreateChannel)
	r.Get("/channels", s.HandleListChannels)
	r.Post("/channels/{channelID}/join", s.HandleJoinChannel)

	r.Get("/ws", s.HandleWebSocket)
	return r
}

// observe records the access log line and request metrics. The route label
// is the matched chi pattern so ids in paths do not create new series.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		reqTotal.WithLabelValues(r.Method, route, http.StatusText(status)).Inc()
		reqDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   status,
			"remote":   r.RemoteAddr,
			"duration": elapsed.String(),
		}).Info("http")
	})
}
