// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// ============================================================
// Fake Shuttle Helpers
// ============================================================

// device is the shuttle side of a net.Pipe
type device struct {
	conn   net.Conn
	frames chan shuttleproto.Frame
	mu     sync.Mutex
}

func newDevice(conn net.Conn) *device {
	d := &device{conn: conn, frames: make(chan shuttleproto.Frame, 1024)}
	go func() {
		defer close(d.frames)
		s := shuttleproto.NewScanner()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				s.Write(buf[:n])
				for _, f := range s.Frames() {
					d.frames <- f
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return d
}

func (d *device) send(t *testing.T, seq uint8, msg shuttleproto.Message) {
	t.Helper()
	frame, err := shuttleproto.EncodeMessage(seq, msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.conn.Write(frame); err != nil {
		t.Errorf("device write: %v", err)
	}
}

// autoAck acknowledges every received command with result
func (d *device) autoAck(t *testing.T, result shuttleproto.AckResult) {
	go func() {
		for f := range d.frames {
			if f.Type == shuttleproto.MsgCmdSimple || f.Type == shuttleproto.MsgCmdWithArg ||
				f.Type == shuttleproto.MsgConfigSet {
				frame, _ := shuttleproto.EncodeMessage(f.Seq, shuttleproto.Ack{RefSeq: f.Seq, Result: result})
				d.mu.Lock()
				d.conn.Write(frame)
				d.mu.Unlock()
			}
		}
	}()
}

// pipeDialer hands out net.Pipe connections and exposes the device ends
type pipeDialer struct {
	dials   atomic.Int32
	devices chan *device
	wrap    func(net.Conn) transport.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{devices: make(chan *device, 16)}
}

func (p *pipeDialer) Dial(ctx context.Context, address string, port int) (transport.Conn, error) {
	p.dials.Add(1)
	client, server := net.Pipe()
	p.devices <- newDevice(server)
	if p.wrap != nil {
		return p.wrap(client), nil
	}
	return client, nil
}

func (p *pipeDialer) next(t *testing.T) *device {
	t.Helper()
	select {
	case d := <-p.devices:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *pipeDialer) {
	t.Helper()
	pd := newPipeDialer()
	m := New(append([]Option{WithDialer(pd)}, opts...)...)
	t.Cleanup(func() { m.Close() })
	return m, pd
}

// nextEvent waits for the next event on sub
func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// expectNoEvent fails if sub delivers within d
func expectNoEvent(t *testing.T, sub *Subscription, d time.Duration) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %T: %+v", ev, ev)
	case <-time.After(d):
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

// ============================================================
// Connect / Disconnect
// ============================================================

func TestManager_ConnectIdempotent(t *testing.T) {
	m, pd := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Connect(ctx, "10.0.0.5", 8000); err != nil {
			t.Fatalf("Connect #%d failed: %v", i, err)
		}
	}
	if n := pd.dials.Load(); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}

	list := m.ListConnections()
	if len(list) != 1 || list[0].State != StateConnected || list[0].Port != 8000 {
		t.Errorf("ListConnections() = %+v", list)
	}
}

func TestManager_ConnectedEventAndDeviceID(t *testing.T) {
	m, pd := newTestManager(t)
	sub := m.Subscribe(16)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.5", 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	ev, ok := nextEvent(t, sub).(ConnectedEvent)
	if !ok || ev.Address != "10.0.0.5" || ev.DeviceID != -1 {
		t.Fatalf("first event = %+v, want ConnectedEvent with DeviceID -1", ev)
	}

	d.send(t, 1, shuttleproto.Telemetry{ShuttleNumber: 7, BatteryCharge: 90})

	msg, ok := nextEvent(t, sub).(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent")
	}
	if tel, ok := msg.Message.(shuttleproto.Telemetry); !ok || tel.ShuttleNumber != 7 || msg.Seq != 1 {
		t.Errorf("message = %+v", msg)
	}

	s, ok := m.GetConnection("10.0.0.5")
	if !ok || s.DeviceID != 7 || s.Port != DefaultPort || s.Frames != 1 {
		t.Errorf("GetConnection() = %+v, %v", s, ok)
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	m, pd := newTestManager(t)
	sub := m.Subscribe(16, KindDisconnected)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pd.next(t)

	for i := 0; i < 3; i++ {
		if err := m.Disconnect("10.0.0.5"); err != nil {
			t.Fatalf("Disconnect #%d failed: %v", i, err)
		}
	}

	ev, ok := nextEvent(t, sub).(DisconnectedEvent)
	if !ok || ev.Err != nil {
		t.Fatalf("event = %+v, want requested DisconnectedEvent", ev)
	}
	expectNoEvent(t, sub, 100*time.Millisecond)

	if _, ok := m.GetConnection("10.0.0.5"); ok {
		t.Error("connection should be gone")
	}
	if err := m.Disconnect("10.9.9.9"); err != nil {
		t.Errorf("Disconnect of unknown address: %v", err)
	}
}

func TestManager_PeerCloseEmitsDisconnectOnce(t *testing.T) {
	m, pd := newTestManager(t)
	sub := m.Subscribe(16, KindDisconnected)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	// A command in flight when the peer goes away fails with ErrConnectionClosed
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdHome, 0), 10*time.Second)
	}()
	<-d.frames
	d.conn.Close()

	ev, ok := nextEvent(t, sub).(DisconnectedEvent)
	if !ok || !errors.Is(ev.Err, ErrPeerClosed) {
		t.Fatalf("event = %+v, want DisconnectedEvent with ErrPeerClosed", ev)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("SendCommand err = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending command was not failed")
	}

	m.Disconnect("10.0.0.5")
	expectNoEvent(t, sub, 100*time.Millisecond)

	// The address can be reconnected
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if n := pd.dials.Load(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestManager_ConnectFailed(t *testing.T) {
	dialErr := errors.New("connection refused")
	m := New(WithDialer(transport.DialerFunc(func(ctx context.Context, address string, port int) (transport.Conn, error) {
		return nil, dialErr
	})))
	defer m.Close()
	sub := m.Subscribe(4)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.9", 8000); !errors.Is(err, dialErr) {
		t.Fatalf("Connect err = %v", err)
	}
	ev, ok := nextEvent(t, sub).(ConnectFailedEvent)
	if !ok || ev.Address != "10.0.0.9" || !errors.Is(ev.Err, dialErr) {
		t.Errorf("event = %+v", ev)
	}
	if len(m.ListConnections()) != 0 {
		t.Error("failed connect left an entry")
	}
}

func TestManager_DisconnectDuringConnect(t *testing.T) {
	dialing := make(chan struct{})
	m := New(WithDialer(transport.DialerFunc(func(ctx context.Context, address string, port int) (transport.Conn, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	})))
	defer m.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background(), "10.0.0.5", 8000) }()
	<-dialing

	s, ok := m.GetConnection("10.0.0.5")
	if !ok || s.State != StateConnecting {
		t.Fatalf("GetConnection() = %+v, %v", s, ok)
	}
	// Connecting addresses make Connect a no-op
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Errorf("second Connect: %v", err)
	}

	m.Disconnect("10.0.0.5")
	if err := <-errCh; !errors.Is(err, ErrConnectAborted) {
		t.Errorf("Connect err = %v, want ErrConnectAborted", err)
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	m := New(
		WithConnectTimeout(50*time.Millisecond),
		WithDialer(transport.DialerFunc(func(ctx context.Context, address string, port int) (transport.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})),
	)
	defer m.Close()

	start := time.Now()
	err := m.Connect(context.Background(), "10.0.0.5", 8000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("connect took %v", elapsed)
	}
}

// ============================================================
// Commands
// ============================================================

func TestManager_SendCommand(t *testing.T) {
	tests := []struct {
		name   string
		result shuttleproto.AckResult
		check  func(error) bool
	}{
		{"ok", shuttleproto.AckOK, func(err error) bool { return err == nil }},
		{"error", shuttleproto.AckError, func(err error) bool {
			var nack *NackError
			return errors.As(err, &nack) && nack.Result == shuttleproto.AckError
		}},
		{"busy", shuttleproto.AckBusy, func(err error) bool {
			var nack *NackError
			return errors.As(err, &nack) && nack.Result == shuttleproto.AckBusy
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, pd := newTestManager(t)
			if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			pd.next(t).autoAck(t, tt.result)

			err := m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdMoveDistFront, 500), time.Second)
			if !tt.check(err) {
				t.Errorf("unexpected result: %v", err)
			}
			if s, _ := m.GetConnection("10.0.0.5"); s.State != StateConnected || s.Pending != 0 {
				t.Errorf("connection after command = %+v", s)
			}
		})
	}
}

func TestManager_SendCommand_Timeout(t *testing.T) {
	m, pd := newTestManager(t)
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	const timeout = 150 * time.Millisecond
	start := time.Now()
	err := m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdStop, 0), timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("err = %v, want ErrAckTimeout", err)
	}
	if elapsed < timeout || elapsed > timeout+200*time.Millisecond {
		t.Errorf("resolved after %v, want ~%v", elapsed, timeout)
	}

	// A late ACK is ignored and the connection stays up
	f := <-d.frames
	d.send(t, 0, shuttleproto.Ack{RefSeq: f.Seq})
	time.Sleep(20 * time.Millisecond)
	if s, ok := m.GetConnection("10.0.0.5"); !ok || s.State != StateConnected || s.Pending != 0 {
		t.Errorf("connection after timeout = %+v, %v", s, ok)
	}
}

func TestManager_SendCommand_ContextCancel(t *testing.T) {
	m, pd := newTestManager(t)
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pd.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := m.SendCommand(ctx, "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdStop, 0), 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestManager_SequenceWrap(t *testing.T) {
	m, pd := newTestManager(t)
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	seen := make(chan uint8, 512)
	go func() {
		for f := range d.frames {
			seen <- f.Seq
			d.send(t, 0, shuttleproto.Ack{RefSeq: f.Seq})
		}
	}()

	const n = 300
	for i := 0; i < n; i++ {
		if err := m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdHome, 0), time.Second); err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		if got := <-seen; got != uint8(i) {
			t.Fatalf("command %d used seq %d, want %d", i, got, uint8(i))
		}
	}
}

func TestManager_WriteFailure(t *testing.T) {
	m, pd := newTestManager(t)
	pd.wrap = func(c net.Conn) transport.Conn { return &brokenWriter{Conn: c} }
	sub := m.Subscribe(8, KindDisconnected)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pd.next(t)

	start := time.Now()
	err := m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdStop, 0), 5*time.Second)
	if !errors.Is(err, errBrokenPipe) {
		t.Fatalf("err = %v, want write error", err)
	}
	if time.Since(start) > time.Second {
		t.Error("write failure should return immediately")
	}

	ev, ok := nextEvent(t, sub).(DisconnectedEvent)
	if !ok || !errors.Is(ev.Err, errBrokenPipe) {
		t.Errorf("event = %+v", ev)
	}
}

var errBrokenPipe = errors.New("broken pipe")

type brokenWriter struct {
	net.Conn
}

func (b *brokenWriter) Write(p []byte) (int, error) {
	return 0, errBrokenPipe
}

func TestManager_NotConnected(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdStop, 0), time.Second)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand err = %v", err)
	}
	if err := m.Send("10.0.0.5", shuttleproto.NewHeartbeatRequest()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send err = %v", err)
	}
}

func TestManager_Send(t *testing.T) {
	m, pd := newTestManager(t)
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	if err := m.Send("10.0.0.5", shuttleproto.NewStatsRequest()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	f := <-d.frames
	if f.Type != shuttleproto.MsgReqStats || len(f.Payload) != 0 {
		t.Errorf("frame = %+v", f)
	}
}

// ============================================================
// Events
// ============================================================

func TestManager_MessageOrder(t *testing.T) {
	m, pd := newTestManager(t)
	sub := m.Subscribe(128, KindMessage)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			d.send(t, uint8(i), shuttleproto.Log{Level: shuttleproto.LogInfo, Text: fmt.Sprintf("line %d", i)})
		}
	}()

	for i := 0; i < n; i++ {
		ev := nextEvent(t, sub).(MessageEvent)
		if log := ev.Message.(shuttleproto.Log); log.Text != fmt.Sprintf("line %d", i) {
			t.Fatalf("event %d = %q", i, log.Text)
		}
	}
}

func TestManager_StalledSubscriberDoesNotBlockCommands(t *testing.T) {
	m, pd := newTestManager(t)
	stalled := m.Subscribe(1, KindMessage)
	defer stalled.Unsubscribe()

	for _, addr := range []string{"10.0.0.5", "10.0.0.6"} {
		if err := m.Connect(context.Background(), addr, 8000); err != nil {
			t.Fatalf("Connect(%s) failed: %v", addr, err)
		}
	}
	a, b := pd.next(t), pd.next(t)
	a.autoAck(t, shuttleproto.AckOK)
	b.autoAck(t, shuttleproto.AckOK)

	// Nobody reads stalled; these must not hold up either receive loop
	for i := 0; i < 6; i++ {
		a.send(t, uint8(i), shuttleproto.Log{Text: fmt.Sprintf("line %d", i)})
	}

	for i := 0; i < 4; i++ {
		for _, addr := range []string{"10.0.0.6", "10.0.0.5"} {
			err := m.SendCommand(context.Background(), addr, shuttleproto.NewCommand(shuttleproto.CmdStop, 0), 300*time.Millisecond)
			if err != nil {
				t.Fatalf("command %d to %s: %v", i, addr, err)
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for stalled.Dropped() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := stalled.Dropped(); got < 4 {
		t.Errorf("Dropped() = %d, want >= 4", got)
	}
	if got := counterValue(t, m.metrics.eventsDropped.WithLabelValues("queue_full")); got < 4 {
		t.Errorf("events_dropped_total{queue_full} = %v, want >= 4", got)
	}
	select {
	case <-stalled.Done():
		t.Error("dropping messages should not end the subscription")
	default:
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	m, pd := newTestManager(t)
	live := m.Subscribe(16, KindMessage)
	defer live.Unsubscribe()
	gone := m.Subscribe(16, KindMessage)

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	gone.Unsubscribe()
	gone.Unsubscribe()
	select {
	case <-gone.Done():
	default:
		t.Fatal("Done should be closed after Unsubscribe")
	}
	if err := gone.Err(); err != nil {
		t.Errorf("Err() after Unsubscribe = %v, want nil", err)
	}

	d.send(t, 1, shuttleproto.Log{Text: "after"})
	if ev := nextEvent(t, live).(MessageEvent); ev.Seq != 1 {
		t.Errorf("live subscriber got seq %d", ev.Seq)
	}
	expectNoEvent(t, gone, 50*time.Millisecond)
}

func TestSubscription_KeepsLifecycleEvents(t *testing.T) {
	bus := newEventBus(newMetrics(nil))
	sub := bus.subscribe(2)
	defer sub.Unsubscribe()

	for i := 0; i < 10; i++ {
		bus.publish(MessageEvent{Address: "10.0.0.5", Seq: uint8(i)})
	}
	bus.publish(DisconnectedEvent{Address: "10.0.0.5", Err: ErrPeerClosed})

	var last Event
	var messages int
	for last == nil || last.Kind() == KindMessage {
		last = nextEvent(t, sub)
		if last.Kind() == KindMessage {
			messages++
		}
	}
	if _, ok := last.(DisconnectedEvent); !ok {
		t.Fatalf("last event = %T, want DisconnectedEvent", last)
	}
	if messages > 3 || uint64(messages)+sub.Dropped() != 10 {
		t.Errorf("delivered %d messages, dropped %d", messages, sub.Dropped())
	}
}

func TestSubscription_Overflow(t *testing.T) {
	met := newMetrics(nil)
	bus := newEventBus(met)
	sub := bus.subscribe(1, KindConnectFailed)

	for i := 0; i < 1+lifecycleReserve+2; i++ {
		bus.publish(ConnectFailedEvent{Address: "10.0.0.5", Err: ErrConnectAborted})
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription should end after overflow")
	}
	if !errors.Is(sub.Err(), ErrSubscriptionOverflow) {
		t.Errorf("Err() = %v, want ErrSubscriptionOverflow", sub.Err())
	}
	if got := counterValue(t, met.eventsDropped.WithLabelValues("overflow")); got != 1 {
		t.Errorf("events_dropped_total{overflow} = %v, want 1", got)
	}
}

func TestDefaultPort(t *testing.T) {
	tests := []struct {
		name   string
		dialer transport.Dialer
		port   int
		want   int
	}{
		{"tcp default", &transport.TCPDialer{}, 0, DefaultPort},
		{"tcp explicit", &transport.TCPDialer{}, 9000, 9000},
		{"websocket default", &transport.WebSocketDialer{}, 0, DefaultPort},
		{"serial has no port", &transport.SerialDialer{}, 0, 0},
		{"custom dialer", newPipeDialer(), 0, DefaultPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultPort(tt.dialer, tt.port); got != tt.want {
				t.Errorf("defaultPort() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestManager_DropsUndecodableFrames(t *testing.T) {
	m, pd := newTestManager(t)
	sub := m.Subscribe(8, KindMessage)
	defer sub.Unsubscribe()

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := pd.next(t)

	short, _ := shuttleproto.Encode(1, shuttleproto.MsgHeartbeat, []byte{1, 2, 3})
	unknown, _ := shuttleproto.Encode(2, 0x7E, nil)
	corrupt, _ := shuttleproto.Encode(3, shuttleproto.MsgLog, []byte{0, 'x'})
	corrupt[len(corrupt)-1] ^= 0xFF
	d.mu.Lock()
	d.conn.Write(append(append(short, unknown...), corrupt...))
	d.mu.Unlock()
	d.send(t, 4, shuttleproto.Log{Text: "ok"})

	ev := nextEvent(t, sub).(MessageEvent)
	if ev.Seq != 4 {
		t.Errorf("first delivered seq = %d, want 4", ev.Seq)
	}
	s, _ := m.GetConnection("10.0.0.5")
	if s.DecodeErrors != 2 || s.CRCErrors != 1 {
		t.Errorf("summary = %+v", s)
	}
}

// ============================================================
// Concurrency
// ============================================================

func TestManager_ConcurrentAccess(t *testing.T) {
	m, pd := newTestManager(t)
	go func() {
		for d := range pd.devices {
			go func(d *device) {
				for range d.frames {
				}
			}(d)
		}
	}()
	defer close(pd.devices)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		addr := fmt.Sprintf("10.0.0.%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.Connect(context.Background(), addr, 8000)
				m.Send(addr, shuttleproto.NewHeartbeatRequest())
				m.Disconnect(addr)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, s := range m.ListConnections() {
					if s.Address == "" {
						t.Error("partially initialized summary")
					}
				}
				m.GetConnection(addr)
			}
		}()
	}
	wg.Wait()

	if list := m.ListConnections(); len(list) != 0 {
		t.Errorf("connections left: %+v", list)
	}
}

func TestManager_CloseRejectsConnect(t *testing.T) {
	m, pd := newTestManager(t)
	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pd.next(t)

	m.Close()
	if err := m.Connect(context.Background(), "10.0.0.6", 8000); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Connect after Close = %v", err)
	}
	if len(m.ListConnections()) != 0 {
		t.Error("Close should tear down connections")
	}
}

// ============================================================
// Metrics
// ============================================================

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, pd := newTestManager(t, WithRegisterer(reg))

	if err := m.Connect(context.Background(), "10.0.0.5", 8000); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pd.next(t).autoAck(t, shuttleproto.AckOK)

	if err := m.SendCommand(context.Background(), "10.0.0.5", shuttleproto.NewCommand(shuttleproto.CmdLoad, 0), time.Second); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	m.SendCommand(context.Background(), "10.0.0.99", shuttleproto.NewCommand(shuttleproto.CmdLoad, 0), time.Second)

	if got := gaugeValue(t, m.metrics.connections); got != 1 {
		t.Errorf("connections = %v, want 1", got)
	}
	if got := counterValue(t, m.metrics.commands.WithLabelValues("ok")); got != 1 {
		t.Errorf("commands_total{ok} = %v, want 1", got)
	}
	if got := counterValue(t, m.metrics.commands.WithLabelValues("not_connected")); got != 1 {
		t.Errorf("commands_total{not_connected} = %v, want 1", got)
	}
	if got := counterValue(t, m.metrics.framesReceived.WithLabelValues("ACK")); got != 1 {
		t.Errorf("frames_received_total{ACK} = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "shuttlehub_ack_latency_seconds" {
			found = f.GetMetric()[0].GetHistogram().GetSampleCount() == 1
		}
	}
	if !found {
		t.Error("ack latency histogram not exported with one sample")
	}

	m.Disconnect("10.0.0.5")
	if got := gaugeValue(t, m.metrics.connections); got != 0 {
		t.Errorf("connections after disconnect = %v, want 0", got)
	}
}
