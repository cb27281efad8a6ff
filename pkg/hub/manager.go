// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hub manages live connections to a fleet of shuttles: connecting,
// request/acknowledge command delivery, and fan-out of received messages.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// Summary is a snapshot of one connection
type Summary struct {
	Address      string
	Port         int
	State        State
	DeviceID     int
	ConnectedAt  time.Time
	LastActivity time.Time
	Frames       uint64
	CRCErrors    uint64
	DecodeErrors uint64
	Pending      int
}

// entry is a slot in the connection table. conn is nil while connecting.
type entry struct {
	port   int
	conn   *Connection
	cancel context.CancelFunc
}

// Manager owns the set of live connections. All methods are safe for concurrent use.
type Manager struct {
	dialer         transport.Dialer
	connectTimeout time.Duration
	log            zerolog.Logger
	metrics        *metrics
	tracer         trace.Tracer
	bus            *eventBus

	mu          sync.RWMutex
	connections map[string]*entry
	closed      bool
}

// New creates a Manager
func New(opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	met := newMetrics(cfg.registerer)
	return &Manager{
		dialer:         cfg.dialer,
		connectTimeout: cfg.connectTimeout,
		log:            cfg.log,
		metrics:        met,
		tracer:         cfg.tracer,
		bus:            newEventBus(met),
		connections:    make(map[string]*entry),
	}
}

// Subscribe registers an event consumer with a queue of buffer events
// (at least 1). With no kinds every event is delivered. A slow consumer
// never holds up a connection; see Subscription for the overflow rules.
func (m *Manager) Subscribe(buffer int, kinds ...EventKind) *Subscription {
	return m.bus.subscribe(buffer, kinds...)
}

// Connect opens a connection to address:port. It is a no-op returning nil
// when the address is already connected or connecting. Port 0 means
// DefaultPort, except for serial dialers, which have no port.
func (m *Manager) Connect(ctx context.Context, address string, port int) error {
	port = defaultPort(m.dialer, port)

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.connections[address]; ok {
		m.mu.Unlock()
		return nil
	}
	e := &entry{port: port, cancel: cancel}
	m.connections[address] = e
	m.mu.Unlock()

	log := m.log.With().Str("addr", address).Int("port", port).Logger()
	log.Debug().Msg("connecting")

	conn, err := m.dialer.Dial(dialCtx, address, port)
	if err != nil {
		aborted := false
		m.mu.Lock()
		if m.connections[address] == e {
			delete(m.connections, address)
		} else {
			aborted = true
		}
		m.mu.Unlock()

		if aborted {
			err = ErrConnectAborted
		}
		m.metrics.connectAttempts.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Msg("connect failed")
		m.bus.publish(ConnectFailedEvent{Address: address, Err: err, At: time.Now()})
		return err
	}

	c := newConnection(address, port, conn, m.log, m.metrics, connHooks{
		connected:    m.handleConnected,
		message:      m.handleMessage,
		disconnected: m.handleDisconnected,
	})

	m.mu.Lock()
	if m.closed || m.connections[address] != e {
		m.mu.Unlock()
		conn.Close()
		m.metrics.connectAttempts.WithLabelValues("aborted").Inc()
		log.Debug().Msg("connect aborted")
		return ErrConnectAborted
	}
	e.conn = c
	e.cancel = nil
	m.metrics.connections.Inc()
	c.start()
	m.mu.Unlock()

	m.metrics.connectAttempts.WithLabelValues("ok").Inc()
	return nil
}

// Disconnect tears down the connection to address and waits for it to finish.
// A pending Connect to the address is aborted. Unknown addresses are a no-op.
func (m *Manager) Disconnect(address string) error {
	m.mu.Lock()
	e, ok := m.connections[address]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if e.conn == nil {
		delete(m.connections, address)
		m.mu.Unlock()
		e.cancel()
		return nil
	}
	m.mu.Unlock()

	return e.conn.Close()
}

// SendCommand sends msg to address and waits for its ACK. A zero timeout
// means DefaultAckTimeout. See Connection.SendAndAwaitAck for the results.
func (m *Manager) SendCommand(ctx context.Context, address string, msg shuttleproto.Message, timeout time.Duration) error {
	ctx, span := m.tracer.Start(ctx, "hub.SendCommand",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("shuttle.address", address),
			attribute.String("shuttle.message_type", msg.Type().String()),
		),
	)
	defer span.End()

	c, err := m.connection(address)
	if err == nil {
		err = c.SendAndAwaitAck(ctx, msg, timeout)
	}

	m.metrics.commands.WithLabelValues(commandResult(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Send writes msg to address without waiting for an acknowledgment
func (m *Manager) Send(address string, msg shuttleproto.Message) error {
	c, err := m.connection(address)
	if err != nil {
		return err
	}
	_, err = c.Send(msg)
	return err
}

// ListConnections returns summaries of every connecting or connected address, sorted by address
func (m *Manager) ListConnections() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.connections))
	for addr, e := range m.connections {
		out = append(out, summarize(addr, e))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// GetConnection returns the summary for address
func (m *Manager) GetConnection(address string) (Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.connections[address]
	if !ok {
		return Summary{}, false
	}
	return summarize(address, e), true
}

// Close ends all subscriptions, then disconnects everything and aborts pending
// connects. Events raised by this teardown are not delivered.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.connections))
	for addr, e := range m.connections {
		entries = append(entries, e)
		if e.conn == nil {
			delete(m.connections, addr)
		}
	}
	m.mu.Unlock()

	m.bus.closeAll()
	for _, e := range entries {
		if e.conn == nil {
			e.cancel()
			continue
		}
		e.conn.Close()
	}
	return nil
}

func (m *Manager) connection(address string) (*Connection, error) {
	m.mu.RLock()
	e, ok := m.connections[address]
	m.mu.RUnlock()

	if !ok || e.conn == nil {
		return nil, fmt.Errorf("%s: %w", address, ErrNotConnected)
	}
	return e.conn, nil
}

func (m *Manager) handleConnected(c *Connection) {
	c.log.Info().Msg("connected")
	m.bus.publish(ConnectedEvent{Address: c.address, DeviceID: c.DeviceID(), At: c.connectedAt})
}

func (m *Manager) handleMessage(c *Connection, seq uint8, msg shuttleproto.Message) {
	m.bus.publish(MessageEvent{Address: c.address, Seq: seq, Message: msg, At: time.Now()})
}

func (m *Manager) handleDisconnected(c *Connection, err error) {
	m.mu.Lock()
	if e, ok := m.connections[c.address]; ok && e.conn == c {
		delete(m.connections, c.address)
	}
	m.mu.Unlock()

	reason := "requested"
	if err != nil {
		reason = "error"
		if errors.Is(err, ErrPeerClosed) {
			reason = "peer_closed"
		}
	}
	m.metrics.connections.Dec()
	m.metrics.disconnects.WithLabelValues(reason).Inc()
	m.bus.publish(DisconnectedEvent{Address: c.address, Err: err, At: time.Now()})
}

// defaultPort fills in DefaultPort for a zero port. Serial links have no port.
func defaultPort(d transport.Dialer, port int) int {
	if port != 0 {
		return port
	}
	if _, ok := d.(*transport.SerialDialer); ok {
		return 0
	}
	return DefaultPort
}

func summarize(address string, e *entry) Summary {
	if e.conn == nil {
		return Summary{Address: address, Port: e.port, State: StateConnecting, DeviceID: -1}
	}
	return e.conn.Summary()
}

func commandResult(err error) string {
	var nack *NackError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &nack):
		return "nack"
	case errors.Is(err, ErrAckTimeout):
		return "timeout"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
