// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

var clockUTC bool

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Set the shuttle's real-time clock from this host",
	Long: `Send SET_DATETIME with the host's current time and wait for the ACK.

The controller stores wall-clock time without a zone; local time is sent
unless --utc is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		if clockUTC {
			now = now.UTC()
		}
		return sendAcked(cmd, shuttleproto.NewDateTime(now))
	},
}

func init() {
	rootCmd.AddCommand(clockCmd)
	clockCmd.Flags().BoolVar(&clockUTC, "utc", false, "Send UTC instead of local time")
}
