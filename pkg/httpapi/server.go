// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpapi exposes a hub.Manager over HTTP.
//
// Routes:
//
//	GET    /api/shuttles                     list connections
//	POST   /api/shuttles                     connect {"address", "port"}
//	GET    /api/shuttles/{address}           one connection
//	DELETE /api/shuttles/{address}           disconnect
//	POST   /api/shuttles/{address}/commands  send a command and wait for its ACK
//	POST   /api/shuttles/{address}/config    set a configuration parameter
//	POST   /api/scan                         probe a subnet
//	GET    /api/events                       WebSocket stream of hub events
//	GET    /metrics                          Prometheus metrics
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/netscan"
)

// ProbeFunc scans a subnet; netscan.Probe by default
type ProbeFunc func(ctx context.Context, base string, startHost, endHost, port int, timeout time.Duration, opts ...netscan.Option) ([]string, error)

// Server serves the control API
type Server struct {
	hub      *hub.Manager
	log      zerolog.Logger
	gatherer prometheus.Gatherer
	probe    ProbeFunc
	upgrader websocket.Upgrader

	eventBuffer  int
	writeTimeout time.Duration
	router       chi.Router
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer sets the metrics source for /metrics. Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithProbe replaces the subnet scanner
func WithProbe(p ProbeFunc) Option {
	return func(s *Server) { s.probe = p }
}

// WithEventBuffer sets the per-client event queue length
func WithEventBuffer(n int) Option {
	return func(s *Server) { s.eventBuffer = n }
}

// New creates a Server for m
func New(m *hub.Manager, opts ...Option) *Server {
	s := &Server{
		hub:          m,
		log:          zerolog.Nop(),
		gatherer:     prometheus.DefaultGatherer,
		probe:        netscan.Probe,
		eventBuffer:  256,
		writeTimeout: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/shuttles", func(r chi.Router) {
			r.Get("/", s.listShuttles)
			r.Post("/", s.connectShuttle)
			r.Route("/{address}", func(r chi.Router) {
				r.Get("/", s.getShuttle)
				r.Delete("/", s.disconnectShuttle)
				r.Post("/commands", s.sendCommand)
				r.Post("/config", s.setConfig)
			})
		})
		r.Post("/scan", s.scan)
		r.Get("/events", s.events)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
