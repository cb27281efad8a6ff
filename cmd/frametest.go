// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

var (
	frameTestTimeout int
	frameTestPassive bool
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test a link by waiting for a valid frame",
	Long: `Wait for a valid shuttle protocol frame on the connection until timeout.

After connecting, a REQ_HEARTBEAT is sent (unless --passive) and the link is
read until a complete frame passes its CRC check. Garbage before the first
sync marker is skipped and counted.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking serial wiring, baud rate or a WebSocket bridge before
using the other commands.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	frameTestCmd.Flags().BoolVar(&frameTestPassive, "passive", false, "Only listen, do not request a heartbeat")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Shuttlehub - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)

	if !frameTestPassive {
		req, err := shuttleproto.EncodeMessage(0, shuttleproto.NewHeartbeatRequest())
		if err == nil {
			_, err = conn.Write(req)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Sent REQ_HEARTBEAT\n")
	}
	fmt.Printf("Waiting for valid frame...\n\n")

	frameChan := make(chan shuttleproto.Frame, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		scanner := shuttleproto.NewScanner()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				scanner.Write(buf[:n])
				if frames := scanner.Frames(); len(frames) > 0 {
					stats := scanner.Stats()
					if stats.DiscardedBytes > 0 || stats.CRCErrors > 0 {
						fmt.Printf("(skipped %d bytes, %d CRC errors before sync)\n", stats.DiscardedBytes, stats.CRCErrors)
					}
					frameChan <- frames[0]
					return
				}
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", shuttleproto.FormatMessageType(f.Type), uint8(f.Type))
		fmt.Printf("  Seq: %d\n", f.Seq)
		fmt.Printf("  Payload: %d bytes\n", len(f.Payload))
		if msg, err := shuttleproto.DecodeMessage(f); err == nil {
			fmt.Printf("  %s\n", shuttleproto.FormatMessage(msg))
		} else {
			fmt.Printf("  Decode: %v\n", err)
		}

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		conn.Close()
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		conn.Close()
		os.Exit(1)
	}

	return nil
}
