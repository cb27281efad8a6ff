// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

// errNoResponse is returned when the shuttle does not answer a request in time
var errNoResponse = errors.New("no response")

// request sends msg to address and waits for the first message match accepts.
// Requests are not acknowledged; the answer is just the next matching frame.
func request(ctx context.Context, m *hub.Manager, address string, msg shuttleproto.Message, timeout time.Duration, match func(shuttleproto.Message) bool) (shuttleproto.Message, time.Duration, error) {
	// Subscribe first so a fast reply is not missed
	sub := m.Subscribe(64, hub.KindMessage, hub.KindDisconnected)
	defer sub.Unsubscribe()

	start := time.Now()
	if err := m.Send(address, msg); err != nil {
		return nil, 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-sub.Events():
			switch e := ev.(type) {
			case hub.MessageEvent:
				if e.Address == address && match(e.Message) {
					return e.Message, time.Since(start), nil
				}
			case hub.DisconnectedEvent:
				if e.Address == address {
					if e.Err != nil {
						return nil, 0, fmt.Errorf("%w: %v", hub.ErrConnectionClosed, e.Err)
					}
					return nil, 0, hub.ErrConnectionClosed
				}
			}
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				return nil, 0, err
			}
			return nil, 0, hub.ErrManagerClosed
		case <-timer.C:
			return nil, 0, fmt.Errorf("%w in %v", errNoResponse, timeout)
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// isType matches messages by wire type
func isType(t shuttleproto.MsgID) func(shuttleproto.Message) bool {
	return func(m shuttleproto.Message) bool {
		return m.Type() == t
	}
}
