// go-cardwatch
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-cardwatch.
//
// go-cardwatch is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-cardwatch is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-cardwatch; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package cardwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errExchangePending = errors.New("previous exchange still in progress")

// Session is an open connection to a card, scoped to one sampling attempt.
//
// At most one exchange is in flight on the connection. An exchange that
// outlives its budget keeps running; every later call on the session waits
// for it before touching the connection again.
type Session struct {
	handle *Handle
	conn   Connection
	// pending is closed when a timed-out exchange finally returns
	pending chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
}

func newSession(h *Handle, conn Connection) *Session {
	return &Session{handle: h, conn: conn}
}

// Reader returns the label of the reader this session is bound to
func (s *Session) Reader() string {
	return s.handle.label
}

// ATR captures the card's Answer-To-Reset. The returned slice is a copy.
func (s *Session) ATR(ctx context.Context) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if err := s.settle(ctx); err != nil {
		return nil, err
	}

	atr, err := s.conn.ATR()
	if err != nil {
		return nil, s.wrap("atr", err)
	}
	if len(atr) == 0 {
		return nil, NewError("atr", s.Reader(), KindNoCardPresent, nil)
	}
	return append([]byte(nil), atr...), nil
}

// Transmit sends one command and waits at most budget for the response.
// Cancellation of ctx is honoured before the exchange starts, never during
// it. An exchange that exceeds budget is reported as a non-fatal
// transmission error with Timeout set. If an earlier exchange is still
// running, Transmit waits up to budget for it and otherwise reports a
// timeout without sending cmd.
func (s *Session) Transmit(ctx context.Context, cmd []byte, budget time.Duration) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if !s.awaitPending(budget) {
		e := NewTimeoutError("transmit", s.Reader())
		e.Err = errExchangePending
		return nil, e
	}

	if budget <= 0 {
		resp, err := s.conn.Transmit(cmd)
		if err != nil {
			return nil, s.wrap("transmit", err)
		}
		return resp, nil
	}

	type result struct {
		err  error
		data []byte
	}
	resultChan := make(chan result, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		data, err := s.conn.Transmit(cmd)
		resultChan <- result{err: err, data: data}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, s.wrap("transmit", res.err)
		}
		return res.data, nil
	case <-timer.C:
		s.mu.Lock()
		s.pending = done
		s.mu.Unlock()
		return nil, NewTimeoutError("transmit", s.Reader())
	}
}

// Reconnect re-establishes the card session if the connection supports it.
// It reports whether a reconnect was performed.
func (s *Session) Reconnect(ctx context.Context) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if err := s.settle(ctx); err != nil {
		return false, err
	}
	r, ok := s.conn.(Reconnector)
	if !ok {
		return false, nil
	}
	if err := r.Reconnect(); err != nil {
		return true, s.wrap("reconnect", err)
	}
	return true, nil
}

// Close disconnects and releases the handle. It blocks until a timed-out
// exchange has returned, so the connection is never released mid-exchange.
// It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		pending := s.pending
		s.mu.Unlock()
		if pending != nil {
			<-pending
		}

		if dErr := s.conn.Disconnect(); dErr != nil {
			err = fmt.Errorf("disconnect %s: %w", s.Reader(), dErr)
		}
		s.handle.release()
	})
	return err
}

// awaitPending waits up to budget for a timed-out exchange to return. A
// budget of zero waits without limit. It reports whether the connection is
// free.
func (s *Session) awaitPending(budget time.Duration) bool {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return true
	}

	if budget <= 0 {
		<-pending
	} else {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		select {
		case <-pending:
		case <-timer.C:
			return false
		}
	}
	s.clearPending(pending)
	return true
}

// settle waits for a timed-out exchange to return, or for ctx.
func (s *Session) settle(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil
	}

	select {
	case <-pending:
		s.clearPending(pending)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session %s: %w", s.Reader(), ctx.Err())
	}
}

func (s *Session) clearPending(done chan struct{}) {
	s.mu.Lock()
	if s.pending == done {
		s.pending = nil
	}
	s.mu.Unlock()
}

func (s *Session) ready(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session %s: %w", s.Reader(), err)
	}
	return nil
}

// wrap turns a backend error into an *Error. Backends should already
// return *Error values; anything else is treated as a fatal transmission
// failure.
func (s *Session) wrap(op string, err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return NewTransmissionError(op, s.Reader(), err, true)
}
