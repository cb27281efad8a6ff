// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuttlehub/pkg/firmware"
	"github.com/Thermoquad/shuttlehub/pkg/ota"
)

var (
	otaTarget    string
	otaFirmware  string
	otaFullErase bool
	otaNoTUI     bool
	otaChunkSize int
)

var otaCmd = &cobra.Command{
	Use:   "ota",
	Short: "Upload new firmware to a shuttle controller",
	Long: `Flash a firmware image over the network bootloader.

Targets:
  stm32  motion controller, bootloader port 8080 (INIT, ERASE, WRITE, RUN)
  esp32  network module, bootloader port 8081 (INIT, WRITE_STREAM, RUN)

The image is a raw .bin file, read from a local path or from S3
(s3://bucket/key, credentials from AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY,
AWS_ENDPOINT_URL for S3-compatible stores).

Progress runs 0-70% while uploading, 70-95% while the device flashes and
reaches 100% once the new firmware is started. Ctrl+C aborts the update.

Examples:
  shuttlehub ota -a 192.168.1.50 --target stm32 --firmware shuttle-v2.3.bin
  shuttlehub ota -a 192.168.1.50 --target esp32 --firmware s3://fw/esp/v1.8.bin

Exit codes:
  0 - Update complete
  1 - Update failed or cancelled`,
	Args: cobra.NoArgs,
	RunE: runOTA,
}

func init() {
	rootCmd.AddCommand(otaCmd)
	otaCmd.Flags().StringVarP(&otaTarget, "target", "t", "stm32", "Controller to update (stm32, esp32)")
	otaCmd.Flags().StringVarP(&otaFirmware, "firmware", "f", "", "Firmware image (.bin path or s3://bucket/key)")
	otaCmd.Flags().BoolVar(&otaFullErase, "full-erase", false, "Erase the whole application area (stm32 only)")
	otaCmd.Flags().BoolVar(&otaNoTUI, "no-tui", false, "Print progress lines instead of the progress bar")
	otaCmd.Flags().IntVar(&otaChunkSize, "chunk-size", ota.DefaultChunkSize, "Upload chunk size in bytes")
	otaCmd.MarkFlagRequired("firmware")
}

func runOTA(cmd *cobra.Command, args []string) error {
	if shuttleAddr == "" {
		return fmt.Errorf("--address is required for firmware updates")
	}
	target, err := ota.ParseTarget(otaTarget)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	image, err := firmware.Load(ctx, otaFirmware)
	if err != nil {
		return err
	}

	engine := ota.New(
		ota.WithLogger(log),
		ota.WithChunkSize(otaChunkSize),
		ota.WithTimeouts(ota.Timeouts{Connect: connectTimeout}),
	)
	update := func(ctx context.Context, progress ota.ProgressFunc) error {
		return engine.RunUpdate(ctx, shuttleAddr, image, target, progress, otaFullErase)
	}

	fmt.Printf("Shuttlehub - Firmware Update\n")
	fmt.Printf("Target: %s @ %s\n", target, shuttleAddr)
	fmt.Printf("Image: %s (%d bytes)\n\n", otaFirmware, len(image))

	if otaNoTUI {
		err = runOTAText(ctx, update)
	} else {
		err = runOTATUI(ctx, target, len(image), update)
	}

	if err != nil {
		if errors.Is(err, ota.ErrCancelled) {
			fmt.Println("Update cancelled")
		} else {
			fmt.Printf("Update FAILED: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println("Update complete, new firmware started")
	return nil
}

// runOTAText prints one line per percent change
func runOTAText(ctx context.Context, update func(context.Context, ota.ProgressFunc) error) error {
	start := time.Now()
	last := -1
	return update(ctx, func(p ota.Progress) {
		if p.Percent == last {
			return
		}
		last = p.Percent
		fmt.Printf("[%6.1fs] %3d%% %-10s %d/%d bytes\n",
			time.Since(start).Seconds(), p.Percent, p.Phase, p.BytesSent, p.BytesTotal)
	})
}

// runOTATUI drives the progress bar; the update runs on its own goroutine and
// its callbacks are forwarded to the program.
func runOTATUI(ctx context.Context, target ota.Target, size int, update func(context.Context, ota.ProgressFunc) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(initialOTAModel(target, size, cancel))
	done := make(chan error, 1)
	go func() {
		err := update(ctx, func(pr ota.Progress) { p.Send(otaProgressMsg(pr)) })
		done <- err
		p.Send(otaDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return fmt.Errorf("TUI error: %v", err)
	}
	return <-done
}
