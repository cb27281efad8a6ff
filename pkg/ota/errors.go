// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks an update stopped by its context
	ErrCancelled = errors.New("OTA cancelled")

	// ErrEmptyFirmware is returned for a zero-length image
	ErrEmptyFirmware = errors.New("firmware is empty")

	// ErrUnexpectedResponse is returned when the device answers with anything but OK
	ErrUnexpectedResponse = errors.New("device returned FAIL or unexpected response")
)

// Error is the failure of one update step
type Error struct {
	Step   string // connect, init, erase, stream, upload, flash, run
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ota %s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("ota %s: %s", e.Step, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}
