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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Engine
type Option func(*Engine) error

// WithMaxAttempts sets the identification attempts per sample
func WithMaxAttempts(maxAttempts int) Option {
	return func(e *Engine) error {
		if maxAttempts < 1 {
			return fmt.Errorf("%w: max attempts %d", ErrInvalidOption, maxAttempts)
		}
		e.config.Resolver.MaxAttempts = maxAttempts
		return nil
	}
}

// WithTimeouts sets the per-exchange budgets
func WithTimeouts(timeouts Timeouts) Option {
	return func(e *Engine) error {
		if err := timeouts.Validate(); err != nil {
			return fmt.Errorf("timeouts: %w", err)
		}
		e.config.Resolver.Timeouts = timeouts
		return nil
	}
}

// WithRetryDelay sets the pause between identification attempts
func WithRetryDelay(delay time.Duration) Option {
	return func(e *Engine) error {
		if delay < 0 {
			return fmt.Errorf("%w: retry delay %s", ErrInvalidOption, delay)
		}
		e.config.Resolver.RetryDelay = delay
		return nil
	}
}

// WithLogger sets the logger used by the engine and resolver
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}
		e.log = logger
		e.config.Resolver.Logger = logger
		return nil
	}
}

// WithReaderName prefers readers whose label contains name
func WithReaderName(name string) Option {
	return func(e *Engine) error {
		e.config.ReaderName = name
		return nil
	}
}

// WithIgnoredReaders skips readers matching any of the patterns
func WithIgnoredReaders(patterns ...string) Option {
	return func(e *Engine) error {
		e.config.IgnoreReaders = append(e.config.IgnoreReaders, patterns...)
		return nil
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidOption)
		}
		e.now = now
		return nil
	}
}

// WithTracer sets the tracer used for sample spans
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) error {
		if tracer == nil {
			return fmt.Errorf("%w: nil tracer", ErrInvalidOption)
		}
		e.tracer = tracer
		return nil
	}
}
