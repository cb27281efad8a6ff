// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package netscan finds shuttles on a /24 subnet by attempting TCP connects.
package netscan

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// DefaultParallelism caps concurrent connect attempts
const DefaultParallelism = 64

type config struct {
	dialer      transport.Dialer
	parallelism int
	log         zerolog.Logger
}

// Option configures Probe
type Option func(*config)

// WithDialer replaces the TCP dialer
func WithDialer(d transport.Dialer) Option {
	return func(c *config) { c.dialer = d }
}

// WithParallelism sets the maximum number of concurrent attempts
func WithParallelism(n int) Option {
	return func(c *config) { c.parallelism = n }
}

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// Probe tries base.startHost through base.endHost on port and returns the
// addresses that accepted a connection within timeout, ordered by host number.
//
// base is a three-octet IPv4 prefix such as "192.168.1". Refused and timed-out
// hosts are simply left out; only invalid arguments and cancellation of ctx
// are reported as errors.
func Probe(ctx context.Context, base string, startHost, endHost, port int, timeout time.Duration, opts ...Option) ([]string, error) {
	cfg := config{
		dialer:      &transport.TCPDialer{},
		parallelism: DefaultParallelism,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validate(base, startHost, endHost, port, timeout); err != nil {
		return nil, err
	}
	if cfg.parallelism < 1 {
		cfg.parallelism = 1
	}

	var (
		mu    sync.Mutex
		found = make([]int, 0)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallelism)

	for host := startHost; host <= endHost; host++ {
		if gctx.Err() != nil {
			break
		}
		addr := base + "." + strconv.Itoa(host)
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			conn, err := cfg.dialer.Dial(attemptCtx, addr, port)
			if err != nil {
				cfg.log.Trace().Str("addr", addr).Err(err).Msg("no answer")
				return nil
			}
			conn.Close()

			cfg.log.Debug().Str("addr", addr).Int("port", port).Msg("host reachable")
			mu.Lock()
			found = append(found, host)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Ints(found)
	out := make([]string, len(found))
	for i, host := range found {
		out[i] = base + "." + strconv.Itoa(host)
	}
	return out, nil
}

func validate(base string, startHost, endHost, port int, timeout time.Duration) error {
	ip := net.ParseIP(base + ".0")
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid base address %q (want three octets, e.g. 192.168.1)", base)
	}
	if startHost < 0 || endHost > 255 || startHost > endHost {
		return fmt.Errorf("invalid host range %d-%d (want 0 <= start <= end <= 255)", startHost, endHost)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
