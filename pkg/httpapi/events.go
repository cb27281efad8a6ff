// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

type eventJSON struct {
	Kind     string               `json:"kind"`
	Address  string               `json:"address"`
	At       time.Time            `json:"at"`
	DeviceID *int                 `json:"device_id,omitempty"`
	Error    string               `json:"error,omitempty"`
	Seq      *uint8               `json:"seq,omitempty"`
	Type     string               `json:"type,omitempty"`
	Text     string               `json:"text,omitempty"`
	Message  shuttleproto.Message `json:"message,omitempty"`
}

func toEventJSON(ev hub.Event) eventJSON {
	out := eventJSON{Kind: ev.Kind().String(), Address: ev.Addr()}
	switch e := ev.(type) {
	case hub.ConnectedEvent:
		out.At = e.At
		out.DeviceID = &e.DeviceID
	case hub.DisconnectedEvent:
		out.At = e.At
		if e.Err != nil {
			out.Error = e.Err.Error()
		}
	case hub.ConnectFailedEvent:
		out.At = e.At
		out.Error = e.Err.Error()
	case hub.MessageEvent:
		out.At = e.At
		out.Seq = &e.Seq
		out.Type = shuttleproto.FormatMessageType(e.Message.Type())
		out.Text = shuttleproto.FormatMessage(e.Message)
		out.Message = e.Message
	}
	return out
}

// events upgrades to a WebSocket and streams hub events as JSON text
// messages until the client goes away or the hub closes.
//
// Query parameters: kinds=connected,message,... and address=<shuttle>.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	address := r.URL.Query().Get("address")

	// Subscribed before the handshake completes so no event after it is missed
	sub := s.hub.Subscribe(s.eventBuffer, kinds...)
	defer sub.Unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("event stream opened")

	// Incoming messages are ignored; reading notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			log.Debug().Msg("event stream closed by client")
			return
		case <-sub.Done():
			code, text := websocket.CloseGoingAway, "hub closed"
			if err := sub.Err(); err != nil {
				log.Debug().Err(err).Msg("event stream fell behind")
				code, text = websocket.CloseTryAgainLater, err.Error()
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
			return
		case ev := <-sub.Events():
			if address != "" && ev.Addr() != address {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(toEventJSON(ev)); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		}
	}
}
