// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
)

var (
	// TCP connection flags
	shuttleAddr    string
	shuttlePort    int
	connectTimeout time.Duration
	ackTimeout     time.Duration

	// Serial connection flags
	serialPort string
	baudRate   int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "shuttlehub",
	Short: "Warehouse Shuttle Control Client",
	Long: `Shuttlehub - A CLI tool for monitoring, commanding and updating warehouse
shuttle robots over their TCP control protocol.

Connection modes:
  TCP:       --address 192.168.1.50 [--port 8000]
  Serial:    --serial /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://bridge/shuttle [--username user]

For WebSocket authentication, the password is read from the SHUTTLEHUB_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// TCP connection flags
	rootCmd.PersistentFlags().StringVarP(&shuttleAddr, "address", "a", "", "Shuttle IP address or hostname")
	rootCmd.PersistentFlags().IntVarP(&shuttlePort, "port", "P", hub.DefaultPort, "Shuttle protocol port")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", hub.DefaultConnectTimeout, "Connect timeout")
	rootCmd.PersistentFlags().DurationVar(&ackTimeout, "ack-timeout", hub.DefaultAckTimeout, "Time to wait for command acknowledgments")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&serialPort, "serial", "s", "", "Serial port device (bench shuttle)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
