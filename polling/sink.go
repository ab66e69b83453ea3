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

package polling

import (
	"context"
	"time"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Sink consumes events produced by the Runner. Sinks are called in the
// order they were added, from the Runner goroutine, one event at a time.
type Sink interface {
	HandleEvent(ctx context.Context, ev cardwatch.Event) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, ev cardwatch.Event) error

// HandleEvent implements Sink
func (f SinkFunc) HandleEvent(ctx context.Context, ev cardwatch.Event) error {
	return f(ctx, ev)
}

// Observer receives per-sample measurements, for metrics.
type Observer interface {
	ObserveSample(ev cardwatch.Event, elapsed time.Duration)
	ObserveSinkError(sink string)
}

type namedSink struct {
	sink Sink
	name string
}
