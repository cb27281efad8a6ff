// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// DefaultPort is the shuttle controller's protocol port
const DefaultPort = 8000

// DefaultConnectTimeout bounds a single connect attempt
const DefaultConnectTimeout = 5 * time.Second

// TracerName is the OpenTelemetry instrumentation name
const TracerName = "github.com/Thermoquad/shuttlehub/pkg/hub"

type config struct {
	dialer         transport.Dialer
	connectTimeout time.Duration
	log            zerolog.Logger
	registerer     prometheus.Registerer
	tracer         trace.Tracer
}

// Option configures a Manager
type Option func(*config)

// WithDialer sets how connections are opened. Default: TCP with keep-alive.
func WithDialer(d transport.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithKeepAlive dials plain TCP with the given keep-alive settings
func WithKeepAlive(ka net.KeepAliveConfig) Option {
	return func(c *config) {
		c.dialer = &transport.TCPDialer{KeepAlive: ka}
	}
}

// WithConnectTimeout bounds each connect attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.connectTimeout = d
	}
}

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithRegisterer exports the manager's metrics. Default: not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracer = tp.Tracer(TracerName)
	}
}

func defaultConfig() config {
	return config{
		dialer:         &transport.TCPDialer{},
		connectTimeout: DefaultConnectTimeout,
		log:            zerolog.Nop(),
		tracer:         otel.Tracer(TracerName),
	}
}
