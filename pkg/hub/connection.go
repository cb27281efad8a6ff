// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// DefaultAckTimeout is used when a command is sent with a zero timeout
const DefaultAckTimeout = time.Second

const readBufferSize = 1024

// connHooks are the manager callbacks, all invoked from the receive goroutine
type connHooks struct {
	connected    func(c *Connection)
	message      func(c *Connection, seq uint8, msg shuttleproto.Message)
	disconnected func(c *Connection, err error)
}

// Connection is one live session with a shuttle. It is created by the Manager
// and owns its stream, receive goroutine and ACK correlator.
type Connection struct {
	address string
	port    int
	conn    transport.Conn
	log     zerolog.Logger
	metrics *metrics
	hooks   connHooks

	corr    *Correlator
	scanner *shuttleproto.Scanner

	writeMu sync.Mutex
	seq     uint8

	state        atomic.Int32
	deviceID     atomic.Int32
	connectedAt  time.Time
	lastActivity atomic.Int64

	statsMu      sync.Mutex
	scanStats    shuttleproto.ScanStats
	decodeErrors uint64

	closeOnce sync.Once
	cause     error // nil when the close was requested
	done      chan struct{}
}

func newConnection(address string, port int, conn transport.Conn, log zerolog.Logger, m *metrics, hooks connHooks) *Connection {
	c := &Connection{
		address:     address,
		port:        port,
		conn:        conn,
		log:         log.With().Str("addr", address).Logger(),
		metrics:     m,
		hooks:       hooks,
		corr:        NewCorrelator(),
		scanner:     shuttleproto.NewScanner(),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	c.deviceID.Store(-1)
	c.lastActivity.Store(c.connectedAt.UnixNano())
	return c
}

// start launches the receive goroutine
func (c *Connection) start() {
	go c.receiveLoop()
}

// Address returns the shuttle's address
func (c *Connection) Address() string { return c.address }

// Port returns the protocol port
func (c *Connection) Port() int { return c.port }

// State returns the lifecycle state
func (c *Connection) State() State { return State(c.state.Load()) }

// DeviceID returns the shuttle number from the latest heartbeat, or -1
func (c *Connection) DeviceID() int { return int(c.deviceID.Load()) }

// Done is closed once the connection is fully torn down
func (c *Connection) Done() <-chan struct{} { return c.done }

// Summary returns a point-in-time copy of the connection's state
func (c *Connection) Summary() Summary {
	c.statsMu.Lock()
	stats := c.scanStats
	decodeErrors := c.decodeErrors
	c.statsMu.Unlock()

	return Summary{
		Address:      c.address,
		Port:         c.port,
		State:        c.State(),
		DeviceID:     c.DeviceID(),
		ConnectedAt:  c.connectedAt,
		LastActivity: time.Unix(0, c.lastActivity.Load()),
		Frames:       stats.Frames,
		CRCErrors:    stats.CRCErrors,
		DecodeErrors: decodeErrors,
		Pending:      c.corr.Len(),
	}
}

// Send writes msg without waiting for an acknowledgment and returns the sequence number used
func (c *Connection) Send(msg shuttleproto.Message) (uint8, error) {
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}

	c.writeMu.Lock()
	seq := c.seq
	c.seq++
	err := c.writeFrame(seq, msg)
	c.writeMu.Unlock()

	return seq, err
}

// SendAndAwaitAck writes msg and waits for the shuttle's ACK.
//
// It returns nil for ACK result OK, *NackError for any other result,
// ErrAckTimeout when no ACK arrives within timeout, ErrConnectionClosed when
// the connection goes away first, or ctx.Err(). A write failure tears the
// connection down and is returned as is. Only a write failure affects the
// connection's state.
func (c *Connection) SendAndAwaitAck(ctx context.Context, msg shuttleproto.Message, timeout time.Duration) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	c.writeMu.Lock()
	seq := c.seq
	c.seq++
	p := c.corr.Register(seq)
	err := c.writeFrame(seq, msg)
	c.writeMu.Unlock()

	if err != nil {
		c.corr.Remove(seq, p)
		return err
	}
	sent := time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out AckOutcome
	select {
	case out = <-p.Done():
	case <-timer.C:
		p.Resolve(AckOutcome{Err: ErrAckTimeout})
		c.corr.Remove(seq, p)
		out = <-p.Done()
	case <-ctx.Done():
		p.Resolve(AckOutcome{Err: ctx.Err()})
		c.corr.Remove(seq, p)
		out = <-p.Done()
	}

	if out.Err != nil {
		c.log.Debug().Uint8("seq", seq).Err(out.Err).Msg("command not acknowledged")
		return out.Err
	}
	c.metrics.ackLatency.Observe(time.Since(sent).Seconds())
	if out.Result != shuttleproto.AckOK {
		return &NackError{Seq: seq, Result: out.Result}
	}
	return nil
}

// writeFrame encodes and writes one frame. Callers hold writeMu.
func (c *Connection) writeFrame(seq uint8, msg shuttleproto.Message) error {
	frame, err := shuttleproto.EncodeMessage(seq, msg)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		err = fmt.Errorf("failed to send %s seq=%d: %w", msg.Type(), seq, err)
		c.shutdown(err)
		return err
	}
	c.log.Trace().Uint8("seq", seq).Stringer("type", msg.Type()).Msg("frame sent")
	return nil
}

// Close requests teardown and waits for the receive goroutine to finish.
// It is idempotent.
func (c *Connection) Close() error {
	c.shutdown(nil)
	<-c.done
	return nil
}

// shutdown closes the stream once; the blocked read then ends the receive loop
func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		c.state.Store(int32(StateDisconnecting))
		c.conn.Close()
	})
}

func (c *Connection) receiveLoop() {
	defer close(c.done)

	if c.hooks.connected != nil {
		c.hooks.connected(c)
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.lastActivity.Store(time.Now().UnixNano())
			c.scanner.Write(buf[:n])
			c.dispatch(c.scanner.Frames())
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrPeerClosed
			}
			c.shutdown(err)
			break
		}
	}

	c.corr.FailAll(ErrConnectionClosed)
	c.state.Store(int32(StateDisconnected))

	if c.cause != nil {
		c.log.Info().Err(c.cause).Msg("connection lost")
	} else {
		c.log.Info().Msg("disconnected")
	}
	if c.hooks.disconnected != nil {
		c.hooks.disconnected(c, c.cause)
	}
}

// dispatch routes frames in arrival order: ACKs to the correlator first,
// then every decoded message to the manager.
func (c *Connection) dispatch(frames []shuttleproto.Frame) {
	stats := c.scanner.Stats()
	c.statsMu.Lock()
	newCRC := stats.Sub(c.scanStats).CRCErrors
	c.scanStats = stats
	c.statsMu.Unlock()

	if newCRC > 0 {
		c.metrics.crcErrors.Add(float64(newCRC))
		c.log.Debug().Uint64("count", newCRC).Msg("CRC mismatch, resynchronizing")
	}

	for _, f := range frames {
		c.metrics.framesReceived.WithLabelValues(f.Type.String()).Inc()

		msg, err := shuttleproto.DecodeMessage(f)
		if err != nil {
			c.statsMu.Lock()
			c.decodeErrors++
			c.statsMu.Unlock()

			reason := "short_payload"
			if errors.Is(err, shuttleproto.ErrUnknownType) {
				reason = "unknown_type"
			}
			c.metrics.droppedFrames.WithLabelValues(reason).Inc()
			c.log.Debug().Uint8("seq", f.Seq).Err(err).Msg("frame dropped")
			continue
		}

		switch m := msg.(type) {
		case shuttleproto.Ack:
			if !c.corr.Resolve(m.RefSeq, m.Result) {
				c.log.Debug().Uint8("ref_seq", m.RefSeq).Msg("ACK with no pending command")
			}
		case shuttleproto.Telemetry:
			c.deviceID.Store(int32(m.ShuttleNumber))
		}

		if c.hooks.message != nil {
			c.hooks.message(c, f.Seq, msg)
		}
	}
}
