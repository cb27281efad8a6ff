// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Thermoquad/shuttlehub/pkg/hub"
	"github.com/Thermoquad/shuttlehub/pkg/netscan"
	"github.com/Thermoquad/shuttlehub/pkg/shuttleproto"
)

// maxBody bounds request bodies
const maxBody = 64 << 10

type shuttleJSON struct {
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	State        string    `json:"state"`
	DeviceID     int       `json:"device_id"`
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
	LastActivity time.Time `json:"last_activity,omitzero"`
	Frames       uint64    `json:"frames"`
	CRCErrors    uint64    `json:"crc_errors"`
	DecodeErrors uint64    `json:"decode_errors"`
	Pending      int       `json:"pending_acks"`
}

func toShuttleJSON(s hub.Summary) shuttleJSON {
	return shuttleJSON{
		Address:      s.Address,
		Port:         s.Port,
		State:        s.State.String(),
		DeviceID:     s.DeviceID,
		ConnectedAt:  s.ConnectedAt,
		LastActivity: s.LastActivity,
		Frames:       s.Frames,
		CRCErrors:    s.CRCErrors,
		DecodeErrors: s.DecodeErrors,
		Pending:      s.Pending,
	}
}

type errorJSON struct {
	Error  string `json:"error"`
	Result string `json:"result,omitempty"`
}

func (s *Server) listShuttles(w http.ResponseWriter, r *http.Request) {
	list := s.hub.ListConnections()
	out := make([]shuttleJSON, 0, len(list))
	for _, sum := range list {
		out = append(out, toShuttleJSON(sum))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getShuttle(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.hub.GetConnection(chi.URLParam(r, "address"))
	if !ok {
		s.writeError(w, http.StatusNotFound, hub.ErrNotConnected)
		return
	}
	s.writeJSON(w, http.StatusOK, toShuttleJSON(sum))
}

type connectRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (s *Server) connectShuttle(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Address == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}

	if err := s.hub.Connect(r.Context(), req.Address, req.Port); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	sum, ok := s.hub.GetConnection(req.Address)
	if !ok {
		// Dropped between connect and lookup
		s.writeError(w, http.StatusBadGateway, hub.ErrConnectionClosed)
		return
	}
	s.writeJSON(w, http.StatusCreated, toShuttleJSON(sum))
}

func (s *Server) disconnectShuttle(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if _, ok := s.hub.GetConnection(address); !ok {
		s.writeError(w, http.StatusNotFound, hub.ErrNotConnected)
		return
	}
	if err := s.hub.Disconnect(address); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commandRequest struct {
	Command   string `json:"command"`
	Arg       *int32 `json:"arg,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	cmd, err := shuttleproto.ParseCmdType(req.Command)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	msg := shuttleproto.NewCommand(cmd, 0)
	if req.Arg != nil {
		msg = shuttleproto.NewCommandWithArg(cmd, *req.Arg)
	} else if cmd.NeedsArg() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%s requires an argument", cmd))
		return
	}

	s.command(w, r, msg, req.TimeoutMs)
}

type configRequest struct {
	Param     string `json:"param"`
	Value     int32  `json:"value"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	param, err := shuttleproto.ParseConfigParam(req.Param)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.command(w, r, shuttleproto.NewConfigSet(param, req.Value), req.TimeoutMs)
}

func (s *Server) command(w http.ResponseWriter, r *http.Request, msg shuttleproto.Message, timeoutMs int) {
	address := chi.URLParam(r, "address")
	timeout := time.Duration(timeoutMs) * time.Millisecond

	err := s.hub.SendCommand(r.Context(), address, msg, timeout)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"result":  shuttleproto.AckOK.String(),
		"message": shuttleproto.FormatMessage(msg),
	})
}

type scanRequest struct {
	Base      string `json:"base"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Port      int    `json:"port"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	req := scanRequest{Start: 1, End: 254, Port: hub.DefaultPort, TimeoutMs: 500}
	if !s.readJSON(w, r, &req) {
		return
	}

	found, err := s.probe(r.Context(), req.Base, req.Start, req.End, req.Port,
		time.Duration(req.TimeoutMs)*time.Millisecond, netscan.WithLogger(s.log))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if found == nil {
		found = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"found": found})
}

// statusFor maps hub errors onto HTTP status codes
func statusFor(err error) int {
	var nack *hub.NackError
	switch {
	case errors.As(err, &nack):
		return http.StatusConflict
	case errors.Is(err, hub.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, hub.ErrAckTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, hub.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, hub.ErrConnectionClosed), errors.Is(err, hub.ErrConnectAborted):
		return http.StatusBadGateway
	}
	return http.StatusBadGateway
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := errorJSON{Error: err.Error()}
	var nack *hub.NackError
	if errors.As(err, &nack) {
		body.Result = nack.Result.String()
	}
	s.writeJSON(w, status, body)
}

// parseKinds reads a comma-separated event kind filter
func parseKinds(s string) ([]hub.EventKind, error) {
	if s == "" {
		return nil, nil
	}
	var kinds []hub.EventKind
	for _, name := range strings.Split(s, ",") {
		k, err := parseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func parseKind(name string) (hub.EventKind, error) {
	for _, k := range []hub.EventKind{hub.KindConnected, hub.KindDisconnected, hub.KindMessage, hub.KindConnectFailed} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}
