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
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// newTestLogger returns a logger that discards output
func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestResolver creates a resolver without retry delay
func newTestResolver(maxAttempts int) *Resolver {
	return NewResolver(&ResolverConfig{
		Logger:      newTestLogger(),
		Timeouts:    DefaultTimeouts(),
		MaxAttempts: maxAttempts,
	})
}

// openTestSession opens a session on the named reader of the backend
func openTestSession(t *testing.T, backend Backend, reader string) *Session {
	t.Helper()
	sess, err := NewHandle(backend, reader).Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// newTestEngine creates an engine with quiet logging and no retry delay
func newTestEngine(t *testing.T, backend Backend, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithLogger(newTestLogger()), WithRetryDelay(0)}
	engine, err := New(backend, append(base, opts...)...)
	require.NoError(t, err)
	return engine
}

// exchangeTracker records how many exchanges run on a card at once
type exchangeTracker struct {
	current atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
}

func (tr *exchangeTracker) transmit(card *VirtualCard) func(string, []byte) ([]byte, error) {
	return func(_ string, cmd []byte) ([]byte, error) {
		n := tr.current.Add(1)
		defer tr.current.Add(-1)
		for {
			p := tr.peak.Load()
			if n <= p || tr.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(tr.delay)
		return card.respond(cmd), nil
	}
}

// isTimeout reports whether err is an exchange that ran out of budget
func isTimeout(err error) bool {
	var cwErr *Error
	return errors.As(err, &cwErr) && cwErr.Timeout
}
