// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the controller's debug UART speed
const DefaultBaudRate = 115200

// SerialDialer opens a bench shuttle attached by USB-UART.
// The address is the serial device path; the port is ignored.
type SerialDialer struct {
	BaudRate int
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port

	mu       sync.Mutex
	deadline time.Time
}

// Dial opens the serial port named by address
func (d *SerialDialer) Dial(ctx context.Context, address string, _ int) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	return &SerialConnection{port: port}, nil
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	if deadline.IsZero() {
		if err := s.port.SetReadTimeout(serial.NoTimeout); err != nil {
			return 0, err
		}
		return s.port.Read(p)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, os.ErrDeadlineExceeded
	}
	if err := s.port.SetReadTimeout(remaining); err != nil {
		return 0, err
	}
	n, err := s.port.Read(p)
	// The driver reports a timeout as an empty read
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// SetReadDeadline is emulated with the port's read timeout
func (s *SerialConnection) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}
