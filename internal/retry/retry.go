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

// Package retry provides a bounded attempt loop shared by the identity
// resolver and the history writers.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt asked to be retried.
var ErrExhausted = errors.New("retries exhausted")

// Operation is one attempt. It returns the result, whether another attempt
// should be made, and an error. A non-nil error with retry=false stops the
// loop immediately.
type Operation[T any] func(ctx context.Context, attempt int) (result T, retry bool, err error)

// Config controls the loop.
type Config struct {
	// OnRetry runs between attempts; an error from it stops the loop.
	OnRetry     func(ctx context.Context, attempt int) error
	MaxAttempts int
	Delay       time.Duration
}

// Result carries the outcome together with the number of attempts made and
// the last error returned by an attempt that asked to be retried.
type Result[T any] struct {
	Value    T
	LastErr  error
	Attempts int
}

// Do runs op until it succeeds, fails without asking for a retry, or
// MaxAttempts is reached. Attempts are numbered from 1. The context is
// checked between attempts only.
func Do[T any](ctx context.Context, config Config, op Operation[T]) (Result[T], error) {
	var res Result[T]
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if config.OnRetry != nil {
				if err := config.OnRetry(ctx, attempt); err != nil {
					return res, err
				}
			}
			if err := sleep(ctx, config.Delay); err != nil {
				return res, err
			}
		}

		res.Attempts = attempt
		value, again, err := op(ctx, attempt)
		if !again {
			if err != nil {
				return res, err
			}
			res.Value = value
			return res, nil
		}
		res.LastErr = err
	}

	return res, ErrExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
