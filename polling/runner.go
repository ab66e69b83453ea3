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

// Package polling drives a cardwatch.Engine on a fixed cadence and fans its
// events out to sinks such as the history recorder or the MQTT publisher.
package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Runner errors
var (
	ErrRunnerActive  = errors.New("runner is already running")
	ErrRunnerStopped = errors.New("runner was stopped")
	ErrInvalidConfig = errors.New("invalid runner configuration")
	ErrNilSampler    = errors.New("sampler cannot be nil")
)

// Sampler is the part of cardwatch.Engine the Runner needs.
type Sampler interface {
	Sample(ctx context.Context) cardwatch.Event
}

// Metrics is a snapshot of the Runner counters
type Metrics struct {
	Samples           int64
	Transitions       int64
	Errors            int64
	SinkErrors        int64
	ManualScans       int64
	LastSampleLatency time.Duration
}

type scanRequest struct {
	reply chan cardwatch.Event
}

// Runner owns the sampling goroutine. Periodic ticks and manual scans are
// both served by that one goroutine, so samples never overlap.
type Runner struct {
	sampler Sampler
	config  *Config
	log     logrus.FieldLogger
	scanNow chan scanRequest
	done    chan struct{}
	sinks   []namedSink
	sinksMu sync.Mutex
	running atomic.Bool
	started atomic.Bool

	samples       int64
	transitions   int64
	errs          int64
	sinkErrors    int64
	manualScans   int64
	lastLatencyNs int64
}

// NewRunner creates a runner for the sampler. A nil config selects the
// defaults.
func NewRunner(sampler Sampler, config *Config) (*Runner, error) {
	if sampler == nil {
		return nil, ErrNilSampler
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Runner{
		sampler: sampler,
		config:  config,
		log:     log,
		scanNow: make(chan scanRequest),
		done:    make(chan struct{}),
	}, nil
}

// AddSink registers a sink under a name used in logs and metrics
func (r *Runner) AddSink(name string, sink Sink) {
	r.sinksMu.Lock()
	defer r.sinksMu.Unlock()
	r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
}

// Run samples until ctx is cancelled. It blocks, and returns nil on a clean
// shutdown. A Runner can be run once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		if r.running.Load() {
			return ErrRunnerActive
		}
		return ErrRunnerStopped
	}
	r.running.Store(true)
	defer func() {
		r.running.Store(false)
		close(r.done)
	}()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.log.WithField("interval", r.config.PollInterval).Debug("runner started")
	if r.config.SampleOnStart {
		r.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("runner stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		case req := <-r.scanNow:
			atomic.AddInt64(&r.manualScans, 1)
			req.reply <- r.tick(ctx)
			// Manual scans restart the cadence
			ticker.Reset(r.config.PollInterval)
		}
	}
}

// ScanNow asks the running loop for an immediate sample and returns its
// event. Concurrent callers are served one after another. ctx bounds the
// wait, not the sample itself.
func (r *Runner) ScanNow(ctx context.Context) (cardwatch.Event, error) {
	req := scanRequest{reply: make(chan cardwatch.Event, 1)}

	select {
	case r.scanNow <- req:
	case <-r.done:
		return cardwatch.Event{}, ErrRunnerStopped
	case <-ctx.Done():
		return cardwatch.Event{}, ctx.Err()
	}

	select {
	case ev := <-req.reply:
		return ev, nil
	case <-ctx.Done():
		return cardwatch.Event{}, ctx.Err()
	}
}

// IsRunning returns whether the loop is active
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Metrics returns current counters
func (r *Runner) Metrics() Metrics {
	return Metrics{
		Samples:           atomic.LoadInt64(&r.samples),
		Transitions:       atomic.LoadInt64(&r.transitions),
		Errors:            atomic.LoadInt64(&r.errs),
		SinkErrors:        atomic.LoadInt64(&r.sinkErrors),
		ManualScans:       atomic.LoadInt64(&r.manualScans),
		LastSampleLatency: time.Duration(atomic.LoadInt64(&r.lastLatencyNs)),
	}
}

func (r *Runner) tick(ctx context.Context) cardwatch.Event {
	start := time.Now()
	ev := r.sampler.Sample(ctx)
	elapsed := time.Since(start)

	atomic.AddInt64(&r.samples, 1)
	atomic.StoreInt64(&r.lastLatencyNs, elapsed.Nanoseconds())
	switch ev.Kind {
	case cardwatch.EventError:
		atomic.AddInt64(&r.errs, 1)
	case cardwatch.EventInserted, cardwatch.EventRemoved, cardwatch.EventSwapped:
		atomic.AddInt64(&r.transitions, 1)
	case cardwatch.EventUnchanged:
	}

	if obs := r.config.Observer; obs != nil {
		obs.ObserveSample(ev, elapsed)
	}

	if ev.Kind == cardwatch.EventUnchanged && !r.config.DeliverUnchanged {
		return ev
	}
	if ctx.Err() != nil {
		// The engine has already committed a transition; sinks still
		// need to see it even though the loop is stopping.
		if !ev.IsTransition() {
			return ev
		}
		ctx = context.WithoutCancel(ctx)
	}
	r.dispatch(ctx, ev)
	return ev
}

func (r *Runner) dispatch(ctx context.Context, ev cardwatch.Event) {
	r.sinksMu.Lock()
	sinks := append([]namedSink(nil), r.sinks...)
	r.sinksMu.Unlock()

	for _, s := range sinks {
		if err := s.sink.HandleEvent(ctx, ev); err != nil {
			atomic.AddInt64(&r.sinkErrors, 1)
			if obs := r.config.Observer; obs != nil {
				obs.ObserveSinkError(s.name)
			}
			r.log.WithFields(logrus.Fields{
				"sink":  s.name,
				"event": ev.Kind.String(),
			}).WithError(err).Warn("event sink failed")
		}
	}
}
