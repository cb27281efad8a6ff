// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package netscan

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// fakeNetwork accepts connects to the listed addresses and lets all others time out
type fakeNetwork struct {
	up       map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeNetwork) Dial(ctx context.Context, address string, port int) (transport.Conn, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.up[address] {
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProbe_BoundedTime(t *testing.T) {
	network := &fakeNetwork{up: map[string]bool{"10.1.2.3": true, "10.1.2.5": true}}

	const timeout = 200 * time.Millisecond
	start := time.Now()
	got, err := Probe(context.Background(), "10.1.2", 1, 5, 8000, timeout, WithDialer(network))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if want := []string{"10.1.2.3", "10.1.2.5"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Probe() = %v, want %v", got, want)
	}
	if elapsed > 2*timeout {
		t.Errorf("probe took %v, want about %v", elapsed, timeout)
	}
}

func TestProbe_ParallelismCap(t *testing.T) {
	network := &fakeNetwork{up: map[string]bool{}}

	_, err := Probe(context.Background(), "10.1.2", 0, 255, 8000, 20*time.Millisecond,
		WithDialer(network), WithParallelism(8))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if peak := network.peak.Load(); peak > 8 || peak < 2 {
		t.Errorf("peak concurrency = %d, want 2..8", peak)
	}
}

func TestProbe_SortedByHost(t *testing.T) {
	up := map[string]bool{}
	for _, a := range []string{"192.168.1.100", "192.168.1.9", "192.168.1.20"} {
		up[a] = true
	}

	got, err := Probe(context.Background(), "192.168.1", 0, 255, 8000, 10*time.Millisecond, WithDialer(&fakeNetwork{up: up}))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	want := []string{"192.168.1.9", "192.168.1.20", "192.168.1.100"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Probe() = %v, want %v", got, want)
	}
}

func TestProbe_Loopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	got, err := Probe(context.Background(), "127.0.0", 1, 1, port, time.Second)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"127.0.0.1"}) {
		t.Errorf("Probe() = %v", got)
	}
}

func TestProbe_InvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		start   int
		end     int
		port    int
		timeout time.Duration
	}{
		{"four octets", "10.0.0.1", 1, 2, 8000, time.Second},
		{"not an address", "shuttles", 1, 2, 8000, time.Second},
		{"reversed range", "10.0.0", 9, 2, 8000, time.Second},
		{"host above 255", "10.0.0", 1, 256, 8000, time.Second},
		{"negative host", "10.0.0", -1, 2, 8000, time.Second},
		{"port zero", "10.0.0", 1, 2, 0, time.Second},
		{"zero timeout", "10.0.0", 1, 2, 8000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Probe(context.Background(), tt.base, tt.start, tt.end, tt.port, tt.timeout,
				WithDialer(&fakeNetwork{}))
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProbe_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Probe(ctx, "10.1.2", 0, 255, 8000, 10*time.Second, WithDialer(&fakeNetwork{}), WithParallelism(4))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not stop the probe")
	}
}
