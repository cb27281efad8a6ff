// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/httpapi"
	"github.com/Thermoquad/shuttlehub/pkg/hub"
)

var (
	serveListen          string
	serveKeepAlive       time.Duration
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve [address...]",
	Short: "Run the HTTP control API",
	Long: `Serve the fleet over HTTP.

Shuttles given as arguments (and --address) are connected at startup and
kept connected, reconnecting with backoff; others can be connected through
the API.

Endpoints:
  GET/POST     /api/shuttles
  GET/DELETE   /api/shuttles/{address}
  POST         /api/shuttles/{address}/commands   {"command": "home", "arg": 0}
  POST         /api/shuttles/{address}/config     {"param": "max-speed", "value": 80}
  POST         /api/scan                          {"base": "192.168.1"}
  GET          /api/events                        WebSocket event stream
  GET          /metrics                           Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8090", "HTTP listen address")
	serveCmd.Flags().DurationVar(&serveKeepAlive, "keepalive", 15*time.Second, "TCP keep-alive idle time for shuttle connections")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "Time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logLevel == "warn" && !cmd.Flags().Changed("log-level") {
		logLevel = "info"
	}
	log, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := hub.New(
		hub.WithKeepAlive(net.KeepAliveConfig{Enable: true, Idle: serveKeepAlive, Interval: serveKeepAlive / 3, Count: 3}),
		hub.WithConnectTimeout(connectTimeout),
		hub.WithLogger(log.With().Str("component", "hub").Logger()),
		hub.WithRegisterer(reg),
	)

	addresses := slices.Clone(args)
	if shuttleAddr != "" {
		addresses = append(addresses, shuttleAddr)
	}
	link := newFleetLink(ctx, m, shuttlePort)
	link.listen(64, hub.KindDisconnected, hub.KindConnectFailed)
	for _, addr := range addresses {
		link.add(addr)
	}

	api := httpapi.New(m,
		httpapi.WithLogger(log.With().Str("component", "http").Logger()),
		httpapi.WithGatherer(reg),
	)
	srv := &http.Server{
		Addr:              serveListen,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", serveListen).Int("shuttles", len(addresses)).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		link.stop()
		m.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")
	link.stop()
	// Closing the hub ends the event streams, which are not tracked by Shutdown
	m.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server shutdown complete")
	return nil
}
