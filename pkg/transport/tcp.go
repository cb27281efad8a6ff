// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Keep-alive defaults: probe after a minute idle, give up after one unanswered probe
const (
	DefaultKeepAliveIdle     = 60 * time.Second
	DefaultKeepAliveInterval = 60 * time.Second
	DefaultKeepAliveCount    = 1
)

// DefaultKeepAlive is the keep-alive configuration used by TCPDialer when none is set
var DefaultKeepAlive = net.KeepAliveConfig{
	Enable:   true,
	Idle:     DefaultKeepAliveIdle,
	Interval: DefaultKeepAliveInterval,
	Count:    DefaultKeepAliveCount,
}

// TCPDialer dials shuttles over plain TCP
type TCPDialer struct {
	// KeepAlive configures TCP keep-alive probes. The zero value means DefaultKeepAlive.
	KeepAlive net.KeepAliveConfig
}

// Dial opens a TCP connection. The context bounds only the connection attempt.
func (d *TCPDialer) Dial(ctx context.Context, address string, port int) (Conn, error) {
	ka := d.KeepAlive
	if ka == (net.KeepAliveConfig{}) {
		ka = DefaultKeepAlive
	}

	nd := net.Dialer{KeepAliveConfig: ka}
	conn, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", address, port, err)
	}
	return conn, nil
}
