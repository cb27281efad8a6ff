// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ota pushes firmware images to shuttle controllers.
//
// Each update runs on its own socket, separate from the frame protocol. The
// STM32 motion controller is reached through its bootloader port; the ESP32
// network module stages the image and flashes it itself.
package ota

import (
	"fmt"
	"strings"
	"time"
)

// Bootloader commands
const (
	CmdInit        = 0x01
	CmdErase       = 0x02
	CmdWrite       = 0x03 // single-block write, unused by streaming updates
	CmdRun         = 0x04
	CmdWriteStream = 0x05
)

// RespOK is the single-byte success response
const RespOK = 0xAA

// Erase modes for the STM32 ERASE command
const (
	EraseIncremental = 0x00
	EraseFull        = 0x01
)

// Device ports
const (
	DefaultSTM32Port = 8080
	DefaultESP32Port = 8081
)

// STM32BaseAddress is where the application image starts in STM32 flash
const STM32BaseAddress = 0x08000000

// DefaultChunkSize is the upload write size
const DefaultChunkSize = 8192

// Default timeouts
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultAckTimeout       = 10 * time.Second
	DefaultEraseTimeout     = 60 * time.Second
	DefaultSTM32FlashWait   = 45 * time.Second
	DefaultESP32FlashWait   = 30 * time.Second
	DefaultSTM32AnimateStep = 500 * time.Millisecond
	DefaultESP32AnimateStep = 400 * time.Millisecond
)

// Target selects the device and its update sub-protocol
type Target int

const (
	TargetSTM32 Target = iota
	TargetESP32
)

func (t Target) String() string {
	switch t {
	case TargetSTM32:
		return "stm32"
	case TargetESP32:
		return "esp32"
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// ParseTarget accepts "stm32" or "esp32" in any case
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stm32", "stm":
		return TargetSTM32, nil
	case "esp32", "esp":
		return TargetESP32, nil
	}
	return 0, fmt.Errorf("unknown OTA target %q (want stm32 or esp32)", s)
}
