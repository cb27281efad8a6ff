// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/Thermoquad/shuttlehub/pkg/transport"
)

// session is one update over one socket
type session struct {
	ctx      context.Context
	cfg      *config
	conn     transport.Conn
	firmware []byte
	progress ProgressFunc
	span     trace.Span
	log      zerolog.Logger

	stopWatch func() bool
	closeOnce sync.Once
}

func (e *Engine) open(ctx context.Context, address string, port int, firmware []byte, progress ProgressFunc, span trace.Span, log zerolog.Logger) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled("connect", ctx)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.timeouts.Connect)
	conn, err := e.cfg.dialer.Dial(dialCtx, address, port)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled("connect", ctx)
		}
		return nil, &Error{Step: "connect", Reason: fmt.Sprintf("cannot reach %s:%d", address, port), Err: err}
	}

	s := &session{
		ctx:      ctx,
		cfg:      &e.cfg,
		conn:     conn,
		firmware: firmware,
		progress: progress,
		span:     span,
		log:      log,
	}
	// Closing the socket is the only way to interrupt a blocked read or write
	s.stopWatch = context.AfterFunc(ctx, s.closeConn)
	span.AddEvent("connected")
	log.Debug().Int("port", port).Msg("update socket open")
	return s, nil
}

func (s *session) closeConn() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

func (s *session) close() {
	s.stopWatch()
	s.closeConn()
}

func (s *session) report(phase Phase, percent, sent int) {
	if s.progress == nil {
		return
	}
	s.progress(Progress{
		Phase:      phase,
		Percent:    percent,
		BytesSent:  sent,
		BytesTotal: len(s.firmware),
	})
}

func (s *session) send(step string, b []byte) error {
	if s.ctx.Err() != nil {
		return cancelled(step, s.ctx)
	}
	if _, err := s.conn.Write(b); err != nil {
		if s.ctx.Err() != nil {
			return cancelled(step, s.ctx)
		}
		return &Error{Step: step, Reason: "write failed", Err: err}
	}
	return nil
}

// expectOK reads exactly one byte within timeout and requires it to be RespOK
func (s *session) expectOK(step string, timeout time.Duration) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if s.ctx.Err() != nil {
			return cancelled(step, s.ctx)
		}
		return &Error{Step: step, Reason: "cannot set read deadline", Err: err}
	}

	var resp [1]byte
	_, err := io.ReadFull(s.conn, resp[:])
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
			return cancelled(step, s.ctx)
		case errors.Is(err, os.ErrDeadlineExceeded):
			return &Error{Step: step, Reason: fmt.Sprintf("no response within %s", timeout), Err: err}
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return &Error{Step: step, Reason: "device closed the connection", Err: err}
		default:
			return &Error{Step: step, Reason: "read failed", Err: err}
		}
	}
	if resp[0] != RespOK {
		return &Error{Step: step, Reason: fmt.Sprintf("response 0x%02X", resp[0]), Err: ErrUnexpectedResponse}
	}

	s.span.AddEvent(step)
	s.log.Debug().Str("step", step).Msg("device OK")
	return nil
}

// command sends cmd followed by args and waits for OK
func (s *session) command(step string, timeout time.Duration, cmd byte, args ...byte) error {
	if err := s.send(step, append([]byte{cmd}, args...)); err != nil {
		return err
	}
	return s.expectOK(step, timeout)
}

// upload streams the image in chunks, reporting after each one
func (s *session) upload() error {
	total := len(s.firmware)
	for sent := 0; sent < total; {
		n := min(s.cfg.chunkSize, total-sent)
		if err := s.send("upload", s.firmware[sent:sent+n]); err != nil {
			return err
		}
		sent += n
		s.report(PhaseUpload, uploadPercent(sent, total), sent)
	}
	s.span.AddEvent("uploaded")
	s.log.Debug().Msg("image uploaded")
	return nil
}

// finish waits for the device to flash, then restarts it into the new image.
// While waiting, a synthetic percent advances every step and stops short of
// the finalizing band.
func (s *session) finish(flashTimeout, step time.Duration) error {
	total := len(s.firmware)
	s.report(PhaseFlashing, uploadEnd, total)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		for pct := uploadEnd + 1; pct <= flashingLimit; pct++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			// A tick racing with stop must not report
			select {
			case <-stop:
				return
			default:
			}
			s.report(PhaseFlashing, pct, total)
		}
	}()

	err := s.expectOK("flash", flashTimeout)
	close(stop)
	wg.Wait()
	if err != nil {
		return err
	}

	s.report(PhaseFinalizing, flashingEnd, total)
	if err := s.command("run", s.cfg.timeouts.Ack, CmdRun); err != nil {
		return err
	}
	s.report(PhaseFinalizing, done, total)
	return nil
}

func cancelled(step string, ctx context.Context) error {
	return &Error{Step: step, Reason: "cancelled", Err: fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))}
}
