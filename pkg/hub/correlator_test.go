// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

func TestPendingAck_SingleResolution(t *testing.T) {
	p := newPendingAck(3)
	if !p.Resolve(AckOutcome{Result: shuttleproto.AckOK}) {
		t.Fatal("first Resolve should win")
	}
	if p.Resolve(AckOutcome{Err: ErrAckTimeout}) {
		t.Fatal("second Resolve should be a no-op")
	}
	out := <-p.Done()
	if out.Err != nil || out.Result != shuttleproto.AckOK {
		t.Errorf("outcome = %+v", out)
	}
}

func TestPendingAck_RacingResolvers(t *testing.T) {
	for round := 0; round < 200; round++ {
		p := newPendingAck(0)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if p.Resolve(AckOutcome{Result: shuttleproto.AckResult(i)}) {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("round %d: %d winners", round, wins.Load())
		}
	}
}

func TestCorrelator_Resolve(t *testing.T) {
	c := NewCorrelator()
	p := c.Register(10)

	if c.Resolve(11, shuttleproto.AckOK) {
		t.Error("resolving an unregistered seq should report false")
	}
	if !c.Resolve(10, shuttleproto.AckBusy) {
		t.Fatal("Resolve(10) should succeed")
	}
	if c.Resolve(10, shuttleproto.AckOK) {
		t.Error("a second ACK for the same seq should find nothing")
	}
	if out := <-p.Done(); out.Result != shuttleproto.AckBusy {
		t.Errorf("outcome = %+v", out)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestCorrelator_ReusedSequence(t *testing.T) {
	c := NewCorrelator()
	older := c.Register(0)
	newer := c.Register(0)

	// The older command's timeout must not remove the newer registration
	older.Resolve(AckOutcome{Err: ErrAckTimeout})
	c.Remove(0, older)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	c.Resolve(0, shuttleproto.AckOK)
	if out := <-newer.Done(); out.Err != nil {
		t.Errorf("newer outcome = %+v", out)
	}
}

func TestCorrelator_FailAll(t *testing.T) {
	c := NewCorrelator()
	a := c.Register(1)
	b := c.Register(2)

	c.FailAll(ErrConnectionClosed)
	for _, p := range []*PendingAck{a, b} {
		if out := <-p.Done(); !errors.Is(out.Err, ErrConnectionClosed) {
			t.Errorf("seq %d outcome = %+v", p.Seq(), out)
		}
	}

	late := c.Register(3)
	select {
	case out := <-late.Done():
		if !errors.Is(out.Err, ErrConnectionClosed) {
			t.Errorf("late outcome = %+v", out)
		}
	default:
		t.Error("registration after FailAll should resolve immediately")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d", c.Len())
	}
}
