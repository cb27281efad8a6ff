// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

var (
	pingTimeout time.Duration
	pingCount   int
	pingKind    string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Request telemetry from a shuttle and measure round-trip time",
	Long: `Send REQ_HEARTBEAT (or REQ_SENSORS / REQ_STATS) and wait for the reply.

This is useful for verifying:
  - The shuttle is reachable on its protocol port
  - Frames flow in both directions
  - The controller is alive and reporting sane values

Exit codes:
  0 - All requests answered
  1 - One or more requests failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "Timeout for each request")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of requests to send")
	pingCmd.Flags().StringVar(&pingKind, "kind", "heartbeat", "Request kind (heartbeat, sensors, stats)")
}

func pingRequest(kind string) (shuttleproto.Request, shuttleproto.MsgID, error) {
	switch kind {
	case "heartbeat":
		return shuttleproto.NewHeartbeatRequest(), shuttleproto.MsgHeartbeat, nil
	case "sensors":
		return shuttleproto.NewSensorsRequest(), shuttleproto.MsgSensors, nil
	case "stats":
		return shuttleproto.NewStatsRequest(), shuttleproto.MsgStats, nil
	}
	return shuttleproto.Request{}, 0, fmt.Errorf("unknown request kind %q (use heartbeat, sensors or stats)", kind)
}

func runPing(cmd *cobra.Command, args []string) error {
	req, reply, err := pingRequest(pingKind)
	if err != nil {
		return err
	}
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

	fmt.Printf("Shuttlehub - Ping\n")
	fmt.Printf("Connection: %s\n", t.info)
	fmt.Printf("Timeout: %v per request\n", pingTimeout)
	fmt.Printf("Count: %d requests\n\n", pingCount)

	successCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		msg, rtt, err := request(ctx, m, t.address, req, pingTimeout, isType(reply))
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			if ctx.Err() != nil {
				break
			}
		} else {
			fmt.Printf("%s, rtt=%v\n", describeReply(msg), rtt.Round(time.Millisecond))
			successCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		m.Close()
		os.Exit(1)
	}
	return nil
}

func describeReply(msg shuttleproto.Message) string {
	switch r := msg.(type) {
	case shuttleproto.Telemetry:
		return fmt.Sprintf("shuttle #%d, battery=%.2fV (%d%%), cmd=%s",
			r.ShuttleNumber, r.BatteryVolts(), r.BatteryCharge, shuttleproto.CmdType(r.Status))
	case shuttleproto.Stats:
		return fmt.Sprintf("uptime=%s", formatUptime(uint64(r.UptimeMinutes)*60_000))
	}
	return shuttleproto.FormatMessage(msg)
}
