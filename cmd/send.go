// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [argument]",
	Short: "Send a command and wait for its acknowledgment",
	Long: `Send a shuttle command and wait for the controller's ACK.

Commands are given by name (case-insensitive, "-" or "_") or numeric code.
MOVE_DIST_R, MOVE_DIST_F and LONG_UNLOAD_QTY require an argument; any
other command given an argument is sent as CMD_WITH_ARG.

Examples:
  shuttlehub send home -a 192.168.1.50
  shuttlehub send move-dist-f 1500 -a 192.168.1.50
  shuttlehub send --list

Exit codes:
  0 - Command acknowledged OK
  1 - Command rejected (ERROR/BUSY) or not acknowledged
  2 - Connection error`,
	Args: func(cmd *cobra.Command, args []string) error {
		if list, _ := cmd.Flags().GetBool("list"); list {
			return nil
		}
		return cobra.RangeArgs(1, 2)(cmd, args)
	},
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Bool("list", false, "List known commands")
}

// parseCommand builds the command message for send's arguments
func parseCommand(args []string) (shuttleproto.Command, error) {
	cmd, err := shuttleproto.ParseCmdType(args[0])
	if err != nil {
		return shuttleproto.Command{}, err
	}

	if len(args) < 2 {
		if cmd.NeedsArg() {
			return shuttleproto.Command{}, fmt.Errorf("%s requires an argument", cmd)
		}
		return shuttleproto.NewCommand(cmd, 0), nil
	}

	arg, err := strconv.ParseInt(args[1], 0, 32)
	if err != nil {
		return shuttleproto.Command{}, fmt.Errorf("invalid argument %q: %w", args[1], err)
	}
	return shuttleproto.NewCommandWithArg(cmd, int32(arg)), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, c := range shuttleproto.Commands() {
			note := ""
			if c.NeedsArg() {
				note = " <arg>"
			}
			fmt.Printf("  0x%02X  %s%s\n", uint8(c), c, note)
		}
		return nil
	}

	msg, err := parseCommand(args)
	if err != nil {
		return err
	}
	return sendAcked(cmd, msg)
}

// sendAcked connects, sends msg and reports the ACK result
func sendAcked(cmd *cobra.Command, msgs ...shuttleproto.Message) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	m, t, err := connectHub(ctx, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer m.Close()

	for _, msg := range msgs {
		start := time.Now()
		fmt.Printf("%s -> %s\n", shuttleproto.FormatMessage(msg), t.address)
		if err := m.SendCommand(ctx, t.address, msg, ackTimeout); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			m.Close()
			os.Exit(1)
		}
		fmt.Printf("ACK OK (%v)\n", time.Since(start).Round(time.Millisecond))
	}
	return nil
}
