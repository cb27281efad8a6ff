// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// passwordEnv holds the WebSocket bridge password
const passwordEnv = "SHUTTLEHUB_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// target is where the connection flags point
type target struct {
	dialer  transport.Dialer
	address string // manager key
	port    int
	info    string
}

// resolveTarget picks the transport from the connection flags. TCP is the
// default; --serial and --url reach a single shuttle through other links.
func resolveTarget() (target, error) {
	switch {
	case wsURL != "":
		if shuttleAddr == "" {
			return target{}, fmt.Errorf("--url requires --address (the shuttle behind the bridge)")
		}
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return target{}, err
			}
		}
		return target{
			dialer: &transport.WebSocketDialer{
				URL:           wsURL,
				Username:      wsUsername,
				Password:      password,
				SkipSSLVerify: wsNoSSLVerify,
			},
			address: shuttleAddr,
			port:    shuttlePort,
			info:    fmt.Sprintf("WebSocket: %s -> %s:%d", wsURL, shuttleAddr, shuttlePort),
		}, nil

	case serialPort != "":
		return target{
			dialer:  &transport.SerialDialer{BaudRate: baudRate},
			address: serialPort,
			port:    0,
			info:    fmt.Sprintf("Serial: %s @ %d baud", serialPort, baudRate),
		}, nil

	case shuttleAddr != "":
		return target{
			dialer:  &transport.TCPDialer{},
			address: shuttleAddr,
			port:    shuttlePort,
			info:    fmt.Sprintf("TCP: %s:%d", shuttleAddr, shuttlePort),
		}, nil
	}
	return target{}, fmt.Errorf("one of --address, --serial or --url must be specified")
}

// OpenConnection opens a raw byte stream to the shuttle named by the flags
func OpenConnection(ctx context.Context) (transport.Conn, string, error) {
	t, err := resolveTarget()
	if err != nil {
		return nil, "", err
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := t.dialer.Dial(ctx, t.address, t.port)
	if err != nil {
		return nil, "", err
	}
	return conn, t.info, nil
}

// connectHub creates a Manager and connects it to the shuttle named by the flags
func connectHub(ctx context.Context, log zerolog.Logger) (*hub.Manager, target, error) {
	t, err := resolveTarget()
	if err != nil {
		return nil, target{}, err
	}

	m := hub.New(
		hub.WithDialer(t.dialer),
		hub.WithConnectTimeout(connectTimeout),
		hub.WithLogger(log),
	)
	if err := m.Connect(ctx, t.address, t.port); err != nil {
		m.Close()
		return nil, target{}, err
	}
	return m, t, nil
}
