// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/netscan"
)

var (
	scanStart       int
	scanEnd         int
	scanTimeout     time.Duration
	scanParallelism int
)

var scanCmd = &cobra.Command{
	Use:   "scan <subnet>",
	Short: "Find shuttles on a /24 subnet",
	Long: `Probe every host of a /24 subnet for a shuttle listening on --port.

The subnet is given as its first three octets, for example 192.168.1.
Hosts that accept a TCP connection within --timeout are listed in order.

Examples:
  shuttlehub scan 192.168.1
  shuttlehub scan 10.0.4 --start 100 --end 140 --timeout 300ms

Exit codes:
  0 - At least one shuttle found
  1 - No shuttles found
  2 - Invalid arguments`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanStart, "start", 1, "First host number")
	scanCmd.Flags().IntVar(&scanEnd, "end", 254, "Last host number")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 500*time.Millisecond, "Per-host connect timeout")
	scanCmd.Flags().IntVar(&scanParallelism, "parallel", netscan.DefaultParallelism, "Concurrent connection attempts")
}

func runScan(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	base := args[0]
	fmt.Printf("Shuttlehub - Subnet Scan\n")
	fmt.Printf("Range: %s.%d - %s.%d, port %d\n", base, scanStart, base, scanEnd, shuttlePort)
	fmt.Printf("Timeout: %v per host\n\n", scanTimeout)

	start := time.Now()
	found, err := netscan.Probe(ctx, base, scanStart, scanEnd, shuttlePort, scanTimeout,
		netscan.WithParallelism(scanParallelism),
		netscan.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}

	for _, addr := range found {
		fmt.Printf("  %s:%d\n", addr, shuttlePort)
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Shuttles found: %d (%v)\n", len(found), time.Since(start).Round(time.Millisecond))

	if len(found) == 0 {
		os.Exit(1)
	}
	return nil
}
