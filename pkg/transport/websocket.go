// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketDialer reaches shuttles through a WebSocket bridge. The bridge is
// told which shuttle to forward to with "host" and "port" query parameters and
// relays frames as binary messages.
type WebSocketDialer struct {
	URL           string // ws:// or wss://
	Username      string
	Password      string
	SkipSSLVerify bool
}

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

// Dial opens a bridge session to address:port with HTTP Basic auth
func (d *WebSocketDialer) Dial(ctx context.Context, address string, port int) (Conn, error) {
	// Parse and validate URL
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	q := u.Query()
	q.Set("host", address)
	q.Set("port", strconv.Itoa(port))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: d.SkipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// gorilla/websocket read errors are permanent
			w.closed = true
			return 0, err
		}

		// Frames travel as binary messages only
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// SetReadDeadline sets the deadline on the underlying network connection
func (w *WebSocketConnection) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}
