// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

var monitorShowAll bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch one shuttle's frame stream in a terminal UI",
	Long: `Track CRC errors, decode failures and anomalous values with live statistics.

Every frame is decoded and validated as it arrives:
  - CRC errors and resynchronization
  - Truncated payloads and unknown message types
  - Implausible readings (battery voltage, charge, temperature)
  - Frame rate and error rate

The latest heartbeat, sensor and statistics readings are shown alongside.
By default only errors and controller log lines reach the event log; use
--show-all to list every frame. For a plain text log use raw_log --validate.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Show all frames (not just errors)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	p := tea.NewProgram(initialMonitorModel(connInfo, monitorShowAll), tea.WithContext(ctx))
	go streamFrames(conn, p.Send)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// streamFrames reads conn until it fails, posting decoded frames and scanner
// counters to send.
func streamFrames(conn transport.Conn, send func(tea.Msg)) {
	scanner := shuttleproto.NewScanner()
	var last shuttleproto.ScanStats
	synced := false
	buf := make([]byte, 512)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			scanner.Write(buf[:n])
			frames := scanner.Frames()

			scan := scanner.Stats()
			delta := scan.Sub(last)
			last = scan
			first := !synced && len(frames) > 0
			if first || delta.CRCErrors > 0 || delta.DiscardedBytes > 0 {
				send(monitorScanMsg{delta: delta, first: first})
			}
			synced = synced || first

			for _, f := range frames {
				msg, decodeErr := shuttleproto.DecodeMessage(f)
				var issues []shuttleproto.ValidationError
				if decodeErr == nil {
					issues = shuttleproto.ValidateMessage(msg)
				}
				send(monitorFrameMsg{frame: f, msg: msg, err: decodeErr, issues: issues})
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				err = nil
			}
			send(monitorClosedMsg{err: err})
			return
		}
	}
}
