// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport opens byte streams to shuttle controllers.
//
// Shuttles normally listen on plain TCP. The same frame protocol is also
// reachable through a USB-UART cable on the bench, or through a WebSocket
// bridge that forwards binary messages to a shuttle on another network.
package transport

import (
	"context"
	"io"
	"time"
)

// Conn is a bidirectional byte stream to one device
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline bounds the next reads; the zero time clears it.
	// A read past the deadline fails with an error matching os.ErrDeadlineExceeded.
	SetReadDeadline(t time.Time) error
}

// Dialer opens a Conn to address:port
type Dialer interface {
	Dial(ctx context.Context, address string, port int) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, address string, port int) (Conn, error)

// Dial calls f(ctx, address, port)
func (f DialerFunc) Dial(ctx context.Context, address string, port int) (Conn, error) {
	return f(ctx, address, port)
}
