// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs firmware updates. It holds no per-update state, so one Engine
// can run updates for several shuttles at the same time.
type Engine struct {
	cfg config
}

// New creates an Engine
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

// RunUpdate uploads firmware to the shuttle at address and waits for the
// device to flash and reboot into it.
//
// progress may be nil. fullErase selects a full chip erase on STM32 and is
// ignored for ESP32. A nil return means the device confirmed every step.
// Failures are *Error; cancellation of ctx returns an error matching
// ErrCancelled.
func (e *Engine) RunUpdate(ctx context.Context, address string, firmware []byte, target Target, progress ProgressFunc, fullErase bool) (err error) {
	if len(firmware) == 0 {
		return &Error{Step: "validate", Reason: "no firmware", Err: ErrEmptyFirmware}
	}
	if uint64(len(firmware)) > 0xFFFFFFFF {
		return &Error{Step: "validate", Reason: fmt.Sprintf("firmware too large (%d bytes)", len(firmware))}
	}

	var port int
	switch target {
	case TargetSTM32:
		port = e.cfg.stm32Port
	case TargetESP32:
		port = e.cfg.esp32Port
	default:
		return &Error{Step: "validate", Reason: fmt.Sprintf("unknown target %s", target)}
	}

	ctx, span := e.cfg.tracer.Start(ctx, "ota.RunUpdate", trace.WithAttributes(
		attribute.String("shuttle.address", address),
		attribute.String("ota.target", target.String()),
		attribute.Int("ota.size", len(firmware)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := e.cfg.log.With().
		Str("addr", address).
		Stringer("target", target).
		Int("size", len(firmware)).
		Logger()
	log.Info().Msg("starting OTA update")

	s, err := e.open(ctx, address, port, firmware, progress, span, log)
	if err != nil {
		return err
	}
	defer s.close()

	switch target {
	case TargetSTM32:
		err = s.runSTM32(fullErase)
	case TargetESP32:
		err = s.runESP32()
	}

	if err != nil {
		log.Warn().Err(err).Msg("OTA update failed")
		return err
	}
	log.Info().Msg("OTA update complete")
	return nil
}
