// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"sync"
	"time"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

// EventKind selects which events a subscription receives
type EventKind uint8

const (
	KindConnected EventKind = 1 << iota
	KindDisconnected
	KindMessage
	KindConnectFailed
)

// AllKinds subscribes to every event
const AllKinds = KindConnected | KindDisconnected | KindMessage | KindConnectFailed

func (k EventKind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindMessage:
		return "message"
	case KindConnectFailed:
		return "connect_failed"
	}
	return "mixed"
}

// Event is published by the Manager. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	Addr() string
}

// ConnectedEvent is published once a connection is established.
// DeviceID is -1 until the shuttle's first heartbeat reports its number.
type ConnectedEvent struct {
	Address  string
	DeviceID int
	At       time.Time
}

// DisconnectedEvent is published exactly once per established connection.
// Err is nil when the disconnect was requested.
type DisconnectedEvent struct {
	Address string
	Err     error
	At      time.Time
}

// MessageEvent carries one decoded frame, in arrival order per connection
type MessageEvent struct {
	Address string
	Seq     uint8
	Message shuttleproto.Message
	At      time.Time
}

// ConnectFailedEvent is published when a connect attempt fails
type ConnectFailedEvent struct {
	Address string
	Err     error
	At      time.Time
}

func (ConnectedEvent) Kind() EventKind     { return KindConnected }
func (DisconnectedEvent) Kind() EventKind  { return KindDisconnected }
func (MessageEvent) Kind() EventKind       { return KindMessage }
func (ConnectFailedEvent) Kind() EventKind { return KindConnectFailed }

func (e ConnectedEvent) Addr() string     { return e.Address }
func (e DisconnectedEvent) Addr() string  { return e.Address }
func (e MessageEvent) Addr() string       { return e.Address }
func (e ConnectFailedEvent) Addr() string { return e.Address }

// lifecycleReserve is how far connect and disconnect events may run past a
// subscription's buffer before the subscription is ended
const lifecycleReserve = 256

// Subscription is a bounded event queue for one consumer, fed by its own
// delivery goroutine. Publishing never blocks a connection.
//
// While the queue holds buffer events, further MessageEvents are dropped and
// counted. Lifecycle events are still queued, up to lifecycleReserve more;
// past that the subscription ends and Err returns ErrSubscriptionOverflow.
// Events are delivered in publish order.
type Subscription struct {
	bus   *eventBus
	kinds EventKind
	limit int
	ch    chan Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	queue   []Event
	dropped uint64
	err     error
}

// Events returns the event queue. It is never closed; select on Done as well.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: ErrSubscriptionOverflow when the
// consumer fell too far behind, nil otherwise
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many MessageEvents were discarded on a full queue
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Unsubscribe stops delivery and discards queued events. Safe to call repeatedly.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
	})
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	enqueueDropped
	enqueueOverflow
)

// enqueue adds ev without blocking
func (s *Subscription) enqueue(ev Event) enqueueResult {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return enqueued
	default:
	}

	n := len(s.queue)
	if ev.Kind() == KindMessage && n >= s.limit {
		s.dropped++
		s.mu.Unlock()
		return enqueueDropped
	}
	if n >= s.limit+lifecycleReserve {
		s.err = ErrSubscriptionOverflow
		s.queue = nil
		s.Unsubscribe()
		s.mu.Unlock()
		return enqueueOverflow
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return enqueued
}

// deliver moves queued events to the consumer until the subscription ends
func (s *Subscription) deliver() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

type eventBus struct {
	metrics *metrics

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newEventBus(m *metrics) *eventBus {
	return &eventBus{metrics: m, subs: make(map[*Subscription]struct{})}
}

func (b *eventBus) subscribe(buffer int, kinds ...EventKind) *Subscription {
	var mask EventKind
	for _, k := range kinds {
		mask |= k
	}
	if mask == 0 {
		mask = AllKinds
	}
	if buffer < 1 {
		buffer = 1
	}

	s := &Subscription{
		bus:   b,
		kinds: mask,
		limit: buffer,
		ch:    make(chan Event),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.deliver()
	return s
}

func (b *eventBus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.kinds&ev.Kind() != 0 {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		switch s.enqueue(ev) {
		case enqueueDropped:
			b.metrics.eventsDropped.WithLabelValues("queue_full").Inc()
		case enqueueOverflow:
			b.metrics.eventsDropped.WithLabelValues("overflow").Inc()
		}
	}
}

func (b *eventBus) closeAll() {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
