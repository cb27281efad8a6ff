// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// TracerName is the OpenTelemetry instrumentation name
const TracerName = "github.com/Thermoquad/shuttlehub/pkg/ota"

// Timeouts bounds each kind of device wait. Zero fields keep their defaults.
type Timeouts struct {
	Connect    time.Duration
	Ack        time.Duration // INIT, WRITE_STREAM header and RUN
	Erase      time.Duration
	STM32Flash time.Duration
	ESP32Flash time.Duration
}

type config struct {
	chunkSize int
	stm32Port int
	esp32Port int
	dialer    transport.Dialer
	timeouts  Timeouts
	stm32Step time.Duration
	esp32Step time.Duration
	log       zerolog.Logger
	tracer    trace.Tracer
}

// Option configures an Engine
type Option func(*config)

// WithChunkSize sets the upload write size
func WithChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithPorts overrides the STM32 and ESP32 update ports
func WithPorts(stm32, esp32 int) Option {
	return func(c *config) {
		c.stm32Port = stm32
		c.esp32Port = esp32
	}
}

// WithDialer sets how update sockets are opened. Default: TCP.
func WithDialer(d transport.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithTimeouts overrides the non-zero fields of t
func WithTimeouts(t Timeouts) Option {
	return func(c *config) {
		if t.Connect > 0 {
			c.timeouts.Connect = t.Connect
		}
		if t.Ack > 0 {
			c.timeouts.Ack = t.Ack
		}
		if t.Erase > 0 {
			c.timeouts.Erase = t.Erase
		}
		if t.STM32Flash > 0 {
			c.timeouts.STM32Flash = t.STM32Flash
		}
		if t.ESP32Flash > 0 {
			c.timeouts.ESP32Flash = t.ESP32Flash
		}
	}
}

// WithAnimationStep sets the interval between synthetic flashing percents
func WithAnimationStep(stm32, esp32 time.Duration) Option {
	return func(c *config) {
		if stm32 > 0 {
			c.stm32Step = stm32
		}
		if esp32 > 0 {
			c.esp32Step = esp32
		}
	}
}

// WithLogger sets the logger. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracer = tp.Tracer(TracerName)
	}
}

func defaultConfig() config {
	return config{
		chunkSize: DefaultChunkSize,
		stm32Port: DefaultSTM32Port,
		esp32Port: DefaultESP32Port,
		dialer:    &transport.TCPDialer{},
		timeouts: Timeouts{
			Connect:    DefaultConnectTimeout,
			Ack:        DefaultAckTimeout,
			Erase:      DefaultEraseTimeout,
			STM32Flash: DefaultSTM32FlashWait,
			ESP32Flash: DefaultESP32FlashWait,
		},
		stm32Step: DefaultSTM32AnimateStep,
		esp32Step: DefaultESP32AnimateStep,
		log:       zerolog.Nop(),
		tracer:    otel.Tracer(TracerName),
	}
}
