// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

var (
	rawValidate      bool
	rawErrorsOnly    bool
	rawStatsInterval int
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display shuttle protocol frames as they arrive.

Each frame is shown with timestamp, message type, sequence number and decoded
payload. With --validate, decoded values are checked against plausible ranges
(battery, temperature, result codes) and anomalies are highlighted; a
statistics summary is printed every --stats-interval seconds and on exit.

Supports TCP, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawValidate, "validate", false, "Validate decoded values and track statistics")
	rawLogCmd.Flags().BoolVar(&rawErrorsOnly, "errors-only", false, "Only show frames with errors (implies --validate)")
	rawLogCmd.Flags().IntVar(&rawStatsInterval, "stats-interval", 10, "Statistics interval in seconds (0 disables)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	// Unblock the read on Ctrl+C
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	validate := rawValidate || rawErrorsOnly

	fmt.Printf("Shuttlehub - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	scanner := shuttleproto.NewScanner()
	stats := shuttleproto.NewStatistics()
	var lastScan shuttleproto.ScanStats
	lastReport := time.Now()
	buf := make([]byte, 512)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			scanner.Write(buf[:n])
			for _, f := range scanner.Frames() {
				logFrame(f, validate, stats)
			}
			scan := scanner.Stats()
			if delta := scan.Sub(lastScan); delta.CRCErrors > 0 && validate {
				printCRCErrors(delta.CRCErrors)
			}
			stats.UpdateScan(scan.Sub(lastScan))
			lastScan = scan
		}

		if validate && rawStatsInterval > 0 && time.Since(lastReport) >= time.Duration(rawStatsInterval)*time.Second {
			fmt.Print(stats.String())
			fmt.Println()
			lastReport = time.Now()
		}

		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			} else {
				fmt.Println("Connection closed")
			}
			if validate {
				fmt.Print(stats.String())
			}
			return nil
		}
	}
}

// logFrame prints one frame and feeds the statistics
func logFrame(f shuttleproto.Frame, validate bool, stats *shuttleproto.Statistics) {
	now := time.Now()
	msg, decodeErr := shuttleproto.DecodeMessage(f)

	var issues []shuttleproto.ValidationError
	if decodeErr == nil && validate {
		issues = shuttleproto.ValidateMessage(msg)
	}
	stats.Update(decodeErr, issues)

	switch {
	case decodeErr != nil:
		printDecodeError(f, decodeErr, now)
	case len(issues) > 0:
		printValidationErrors(f, msg, issues, now)
	case !rawErrorsOnly:
		fmt.Print(shuttleproto.FormatFrame(f, now))
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(f shuttleproto.Frame, err error, at time.Time) {
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %s seq=%d: %v\n",
		at.Format("15:04:05.000"), shuttleproto.FormatMessageType(f.Type), f.Seq, err)
	fmt.Printf("  Payload: % X\n", f.Payload)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

func printCRCErrors(n uint64) {
	fmt.Printf("[%s] \033[1;31mCRC ERROR:\033[0m %d frame(s) failed CRC, resynchronized\n\n",
		time.Now().Format("15:04:05.000"), n)
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(f shuttleproto.Frame, msg shuttleproto.Message, issues []shuttleproto.ValidationError, at time.Time) {
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) seq=%d\n",
		at.Format("15:04:05.000"), shuttleproto.FormatMessageType(f.Type), uint8(f.Type), f.Seq)
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, issue := range issues {
		switch issue.Type {
		case shuttleproto.AnomalyBatteryVoltage, shuttleproto.AnomalyBatteryCharge, shuttleproto.AnomalyTemperature:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, issue.Message)
		default:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, issue.Message)
		}
		for k, v := range issue.Details {
			fmt.Printf("    %s=%v\n", k, v)
		}
	}

	fmt.Printf("  %s\n", shuttleproto.FormatMessage(msg))
	fmt.Printf("  >>> ANOMALOUS VALUES <<<\n\n")
}
