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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ZaparooProject/go-cardwatch"

// EngineConfig contains configuration options for the Engine
type EngineConfig struct {
	Resolver      *ResolverConfig
	ReaderName    string
	IgnoreReaders []string
}

// DefaultEngineConfig returns default engine configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Resolver: DefaultResolverConfig(),
	}
}

// Engine is the presence state machine. Each Sample call inspects the
// reader once and reports what changed since the previous call.
//
// Thread Safety: Sample, EnumerateDevices and Close are serialized by an
// internal mutex; concurrent callers wait for the sample in flight. Hosts
// that offer a manual scan next to a periodic tick can call Sample from
// both paths.
type Engine struct {
	backend  Backend
	config   *EngineConfig
	resolver *Resolver
	log      logrus.FieldLogger
	tracer   trace.Tracer
	now      func() time.Time
	handles  map[string]*Handle
	state    PresenceState
	mu       sync.Mutex
}

// New creates an engine on top of a reader backend
func New(backend Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}

	e := &Engine{
		backend: backend,
		config:  DefaultEngineConfig(),
		log:     logrus.StandardLogger(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		handles: make(map[string]*Handle),
	}
	e.config.Resolver.Logger = e.log

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	e.resolver = NewResolver(e.config.Resolver)
	return e, nil
}

// EnumerateDevices lists the readers the engine would sample, preferred
// reader first. No attached reader is an empty list, not an error.
func (e *Engine) EnumerateDevices(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enumerate(ctx)
}

// State returns a copy of the current presence state
func (e *Engine) State() PresenceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close forgets the current card. Sessions never outlive a Sample, so there
// is nothing left open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = PresenceState{}
	e.handles = make(map[string]*Handle)
	return nil
}

// Sample inspects the reader once and returns the resulting transition.
func (e *Engine) Sample(ctx context.Context) Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "cardwatch.Sample")
	defer span.End()

	ev := e.sample(ctx)

	span.SetAttributes(
		attribute.String("cardwatch.event", ev.Kind.String()),
		attribute.String("cardwatch.reader", ev.Reader),
	)
	if ev.Card != nil {
		span.SetAttributes(attribute.String("cardwatch.card_type", ev.Card.Type.String()))
	}
	if ev.Kind == EventError {
		span.SetStatus(codes.Error, ev.Err.Error())
	}
	return ev
}

func (e *Engine) enumerate(ctx context.Context) ([]string, error) {
	return Enumerate(ctx, e.backend, e.config.ReaderName, e.config.IgnoreReaders)
}

func (e *Engine) handle(label string) *Handle {
	h, ok := e.handles[label]
	if !ok {
		h = NewHandle(e.backend, label)
		e.handles[label] = h
	}
	return h
}

func (e *Engine) sample(ctx context.Context) Event {
	now := e.now()
	e.state.LastSample = now

	labels, err := e.enumerate(ctx)
	if err != nil || len(labels) == 0 {
		if ctx.Err() != nil {
			return e.abandoned(ctx, "", now)
		}
		if err == nil {
			err = NewError("enumerate", "", KindDeviceUnavailable, nil)
		}
		e.log.WithError(err).Warn("no card reader available")
		e.state.transitionToIdle(now)
		return Event{Kind: EventError, Err: err, At: now}
	}

	label := labels[0]
	log := e.log.WithField("reader", label)

	sess, err := e.handle(label).Open(ctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return e.abandoned(ctx, label, now)
		case KindOf(err) == KindNoCardPresent:
			log.Trace("reader is empty")
			return e.observeAbsent(label, now)
		default:
			if KindOf(err) != KindDeviceUnavailable {
				err = NewError("connect", label, KindDeviceUnavailable, err)
			}
			log.WithError(err).Warn("reader could not be opened")
			return Event{Kind: EventError, Err: err, Reader: label, At: now}
		}
	}
	defer func() {
		if cErr := sess.Close(); cErr != nil {
			log.WithError(cErr).Debug("closing reader session")
		}
	}()

	id, err := e.resolver.Resolve(ctx, sess)
	switch {
	case err == nil:
		return e.observePresent(id, now)
	case KindOf(err) == KindNoCardPresent:
		log.Trace("no card on reader")
		return e.observeAbsent(label, now)
	case KindOf(err) == KindCardReadExhausted:
		log.WithError(err).Warn("card present but could not be read")
		return Event{Kind: EventError, Err: err, Reader: label, Card: e.state.Current, At: now}
	default:
		if ctx.Err() != nil {
			return e.abandoned(ctx, label, now)
		}
		err = &Error{Op: "resolve", Reader: label, Kind: KindCardReadExhausted, Err: err}
		log.WithError(err).Warn("card identification failed")
		return Event{Kind: EventError, Err: err, Reader: label, Card: e.state.Current, At: now}
	}
}

func (e *Engine) observeAbsent(label string, now time.Time) Event {
	prev := e.state.Current
	if prev == nil {
		return Event{Kind: EventUnchanged, Reader: label, At: now}
	}

	e.state.transitionToIdle(now)
	e.log.WithFields(logrus.Fields{
		"reader": label,
		"uid":    prev.UIDHex(),
	}).Info("card removed")
	return Event{Kind: EventRemoved, Previous: prev, Reader: label, At: now}
}

func (e *Engine) observePresent(id *CardIdentity, now time.Time) Event {
	prev := e.state.Current
	fields := logrus.Fields{
		"reader":    id.Reader,
		"uid":       id.UIDHex(),
		"card_type": id.Type.String(),
		"source":    id.Source.String(),
	}

	switch {
	case prev == nil:
		e.state.transitionToPresent(id, now)
		e.log.WithFields(fields).Info("card inserted")
		return Event{Kind: EventInserted, Card: id, Reader: id.Reader, At: now}
	case prev.SameCard(id):
		return Event{Kind: EventUnchanged, Card: prev, Reader: id.Reader, At: now}
	default:
		e.state.transitionToPresent(id, now)
		fields["previous_uid"] = prev.UIDHex()
		e.log.WithFields(fields).Info("card swapped")
		return Event{Kind: EventSwapped, Card: id, Previous: prev, Reader: id.Reader, At: now}
	}
}

// abandoned reports a sample cut short by ctx. The state is left as it was.
func (e *Engine) abandoned(ctx context.Context, label string, now time.Time) Event {
	e.log.WithField("reader", label).WithError(ctx.Err()).Debug("sample abandoned")
	return Event{Kind: EventError, Err: ctx.Err(), Card: e.state.Current, Reader: label, At: now}
}
