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

var (
	configTimeout time.Duration
	configSave    bool
	configOut     string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read, change, back up and restore shuttle configuration",
	Long: `Work with the controller's configuration parameters.

  config list                  list parameter names
  config get <param>           read one parameter (CONFIG_GET -> CONFIG_REP)
  config set <param> <value>   change one parameter (CONFIG_SET, ACKed)
  config pull [--out file]     read the full block (CONFIG_SYNC_REQ -> CONFIG_SYNC_REP)
  config push <file>           restore a backup written by pull (CONFIG_SYNC_PUSH, ACKed)

Parameters are given by name (MAX_SPEED, max-speed) or ID (1-10). Backups are
CBOR files. With --save, SAVE_EEPROM is sent after set or push so the change
survives a reboot.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration parameters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range shuttleproto.ConfigParams() {
			fmt.Printf("  %2d  %s\n", uint8(p), p)
		}
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <param>",
	Short: "Read one configuration parameter",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <param> <value>",
	Short: "Change one configuration parameter",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Read the full configuration block",
	Args:  cobra.NoArgs,
	RunE:  runConfigPull,
}

var configPushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Write a configuration backup to the shuttle",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigPush,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPullCmd, configPushCmd)

	configCmd.PersistentFlags().DurationVar(&configTimeout, "timeout", 2*time.Second, "Time to wait for a configuration reply")
	configSetCmd.Flags().BoolVar(&configSave, "save", false, "Send SAVE_EEPROM after the change")
	configPushCmd.Flags().BoolVar(&configSave, "save", false, "Send SAVE_EEPROM after the change")
	configPullCmd.Flags().StringVarP(&configOut, "out", "o", "", "Write the configuration to a CBOR backup file")
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	param, err := shuttleproto.ParseConfigParam(args[0])
	if err != nil {
		return err
	}

	reply, err := configRequest(cmd, shuttleproto.NewConfigGet(param), func(m shuttleproto.Message) bool {
		c, ok := m.(shuttleproto.Config)
		return ok && c.Kind == shuttleproto.MsgConfigReply && c.Param == param
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s = %d\n", param, reply.(shuttleproto.Config).Value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	param, err := shuttleproto.ParseConfigParam(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.ParseInt(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	msgs := []shuttleproto.Message{shuttleproto.NewConfigSet(param, int32(value))}
	if configSave {
		msgs = append(msgs, shuttleproto.NewCommand(shuttleproto.CmdSaveEEPROM, 0))
	}
	return sendAcked(cmd, msgs...)
}

func runConfigPull(cmd *cobra.Command, args []string) error {
	reply, err := configRequest(cmd, shuttleproto.NewConfigSyncRequest(), func(m shuttleproto.Message) bool {
		c, ok := m.(shuttleproto.FullConfig)
		return ok && c.Kind == shuttleproto.MsgConfigSyncRep
	})
	if err != nil {
		return err
	}
	cfg := reply.(shuttleproto.FullConfig)
	printFullConfig(cfg)

	if configOut == "" {
		return nil
	}
	data, err := encodeConfigBackup(cfg, time.Now())
	if err != nil {
		return err
	}
	if err := os.WriteFile(configOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	fmt.Printf("\nSaved to %s\n", configOut)
	return nil
}

func runConfigPush(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	backup, err := decodeConfigBackup(data)
	if err != nil {
		return err
	}

	fmt.Printf("Backup of shuttle #%d taken %s\n\n", backup.Config.ShuttleNumber, backup.SavedAt.Format(time.DateTime))
	printFullConfig(backup.Config)
	fmt.Println()

	msgs := []shuttleproto.Message{shuttleproto.NewConfigSyncPush(backup.Config)}
	if configSave {
		msgs = append(msgs, shuttleproto.NewCommand(shuttleproto.CmdSaveEEPROM, 0))
	}
	return sendAcked(cmd, msgs...)
}

// configRequest connects and performs one request/reply exchange
func configRequest(cmd *cobra.Command, msg shuttleproto.Message, match func(shuttleproto.Message) bool) (shuttleproto.Message, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	m, t, err := connectHub(ctx, log)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	reply, _, err := request(ctx, m, t.address, msg, configTimeout, match)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", shuttleproto.FormatMessageType(msg.Type()), err)
	}
	return reply, nil
}

func printFullConfig(cfg shuttleproto.FullConfig) {
	for _, p := range shuttleproto.ConfigParams() {
		v, _ := cfg.Value(p)
		fmt.Printf("  %-14s %d\n", p, v)
	}
}
