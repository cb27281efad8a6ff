// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors for one Manager.
// With a nil Registerer the collectors work but are not exported.
type metrics struct {
	connections     prometheus.Gauge
	connectAttempts *prometheus.CounterVec
	disconnects     *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	crcErrors       prometheus.Counter
	droppedFrames   *prometheus.CounterVec
	commands        *prometheus.CounterVec
	ackLatency      prometheus.Histogram
	eventsDropped   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "shuttlehub",
			Name:      "connections",
			Help:      "Number of live shuttle connections",
		}),

		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by result",
		}, []string{"result"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "disconnects_total",
			Help:      "Connection teardowns by reason",
		}, []string{"reason"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "frames_received_total",
			Help:      "CRC-valid frames received by message type",
		}, []string{"type"}),

		crcErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "crc_errors_total",
			Help:      "Frames discarded for CRC mismatch",
		}),

		droppedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "dropped_frames_total",
			Help:      "CRC-valid frames that could not be decoded",
		}, []string{"reason"}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "commands_total",
			Help:      "Acknowledged commands by outcome",
		}, []string{"result"}),

		ackLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shuttlehub",
			Name:      "ack_latency_seconds",
			Help:      "Time from command write to ACK",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttlehub",
			Name:      "events_dropped_total",
			Help:      "Events not delivered to a lagging subscriber",
		}, []string{"reason"}),
	}
}
