// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"sync"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

// AckOutcome is the resolution of a pending command
type AckOutcome struct {
	Result shuttleproto.AckResult
	Err    error // set for timeout, cancellation and connection loss
}

// PendingAck is a single-resolution slot for one command's ACK.
// The first Resolve wins; later calls are no-ops.
type PendingAck struct {
	seq  uint8
	once sync.Once
	ch   chan AckOutcome
}

func newPendingAck(seq uint8) *PendingAck {
	return &PendingAck{seq: seq, ch: make(chan AckOutcome, 1)}
}

// Resolve settles the slot. It reports whether this call was the one that did.
func (p *PendingAck) Resolve(out AckOutcome) bool {
	won := false
	p.once.Do(func() {
		p.ch <- out
		won = true
	})
	return won
}

// Done delivers the outcome once resolved. It is received from exactly once.
func (p *PendingAck) Done() <-chan AckOutcome {
	return p.ch
}

// Seq returns the sequence number the slot is registered under
func (p *PendingAck) Seq() uint8 {
	return p.seq
}

// Correlator matches ACK frames to commands by sequence number.
//
// A sequence number reused while an older command is still waiting replaces
// the older registration; the older command then resolves by timeout. A stale
// ACK for the older command can resolve the newer one. The wire format offers
// no way to tell them apart.
type Correlator struct {
	mu      sync.Mutex
	pending map[uint8]*PendingAck
	failed  error
}

// NewCorrelator creates an empty correlator
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[uint8]*PendingAck)}
}

// Register creates the slot for seq. After FailAll every new slot resolves
// immediately with the failure error.
func (c *Correlator) Register(seq uint8) *PendingAck {
	p := newPendingAck(seq)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		p.Resolve(AckOutcome{Err: c.failed})
		return p
	}
	c.pending[seq] = p
	return p
}

// Resolve settles the slot registered under seq with an ACK result.
// It returns false when no slot is waiting on seq.
func (c *Correlator) Resolve(seq uint8, result shuttleproto.AckResult) bool {
	c.mu.Lock()
	p := c.pending[seq]
	delete(c.pending, seq)
	c.mu.Unlock()

	if p == nil {
		return false
	}
	return p.Resolve(AckOutcome{Result: result})
}

// Remove drops the registration for seq if it still belongs to p
func (c *Correlator) Remove(seq uint8, p *PendingAck) {
	c.mu.Lock()
	if c.pending[seq] == p {
		delete(c.pending, seq)
	}
	c.mu.Unlock()
}

// FailAll resolves every waiting slot with err and fails future registrations
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint8]*PendingAck)
	if c.failed == nil {
		c.failed = err
	}
	c.mu.Unlock()

	for _, p := range pending {
		p.Resolve(AckOutcome{Err: err})
	}
}

// Len returns the number of commands waiting for an ACK
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
