// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

var (
	// ErrNotConnected is returned for operations on an address with no live connection
	ErrNotConnected = errors.New("not connected")

	// ErrAckTimeout is returned when a command's ACK does not arrive in time
	ErrAckTimeout = errors.New("ack timeout")

	// ErrConnectionClosed fails commands still waiting when their connection goes away
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPeerClosed is the disconnect reason when the shuttle closes the socket
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrConnectAborted is returned by Connect when Disconnect or Close wins the race
	ErrConnectAborted = errors.New("connect aborted")

	// ErrManagerClosed is returned after Close
	ErrManagerClosed = errors.New("manager closed")

	// ErrSubscriptionOverflow ends a subscription whose consumer fell too far behind
	ErrSubscriptionOverflow = errors.New("event subscription overflow")
)

// NackError reports a command the shuttle acknowledged with a nonzero result
type NackError struct {
	Seq    uint8
	Result shuttleproto.AckResult
}

func (e *NackError) Error() string {
	return fmt.Sprintf("command seq=%d rejected: %s", e.Seq, e.Result)
}
