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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	testdata "github.com/ZaparooProject/go-cardwatch/internal/testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("NilBackend", func(t *testing.T) {
		t.Parallel()
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrNoBackend)
	})

	t.Run("InvalidOptions", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name string
			opt  Option
		}{
			{name: "zero attempts", opt: WithMaxAttempts(0)},
			{name: "negative delay", opt: WithRetryDelay(-time.Second)},
			{name: "nil logger", opt: WithLogger(nil)},
			{name: "nil clock", opt: WithClock(nil)},
			{name: "nil tracer", opt: WithTracer(nil)},
			{name: "zero timeout", opt: WithTimeouts(Timeouts{Fast: time.Second})},
		}
		for _, tt := range tests {
			_, err := New(NewMockBackend(), tt.opt)
			assert.ErrorIs(t, err, ErrInvalidOption, tt.name)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		engine, err := New(NewMockBackend(), WithTracer(noop.NewTracerProvider().Tracer("test")))
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxAttempts, engine.config.Resolver.MaxAttempts)
		assert.False(t, engine.State().Present())
	})
}

func TestSample_InsertedExactlyOnce(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	ev := engine.Sample(ctx)
	assert.Equal(t, EventUnchanged, ev.Kind)
	assert.Nil(t, ev.Card)

	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))

	ev = engine.Sample(ctx)
	require.Equal(t, EventInserted, ev.Kind)
	assert.Equal(t, "AABBCCDD", ev.Card.UIDHex())
	assert.Equal(t, "MIFARE Classic 1K", ev.Card.Type.String())
	assert.Equal(t, testReader, ev.Reader)

	for i := 0; i < 5; i++ {
		ev = engine.Sample(ctx)
		assert.Equal(t, EventUnchanged, ev.Kind)
		require.NotNil(t, ev.Card)
		assert.Equal(t, "AABBCCDD", ev.Card.UIDHex())
	}
	assert.True(t, engine.State().Present())
}

func TestSample_RemovedExactlyOnce(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRUltralight, testdata.TestUID7))
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	require.Equal(t, EventInserted, engine.Sample(ctx).Kind)

	backend.RemoveCard(testReader)
	ev := engine.Sample(ctx)
	require.Equal(t, EventRemoved, ev.Kind)
	require.NotNil(t, ev.Previous)
	assert.Equal(t, "04ABCDEF123456", ev.Previous.UIDHex())
	assert.False(t, engine.State().Present())

	for i := 0; i < 3; i++ {
		assert.Equal(t, EventUnchanged, engine.Sample(ctx).Kind)
	}
}

func TestSample_Swapped(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	first := engine.Sample(ctx)
	require.Equal(t, EventInserted, first.Kind)

	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRUltralight, testdata.TestUID7))
	ev := engine.Sample(ctx)
	require.Equal(t, EventSwapped, ev.Kind)
	assert.Equal(t, "04ABCDEF123456", ev.Card.UIDHex())
	assert.Equal(t, "AABBCCDD", ev.Previous.UIDHex())
	assert.Same(t, ev.Card, engine.State().Current)
}

func TestSample_NoReaders(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	require.Equal(t, EventInserted, engine.Sample(ctx).Kind)

	backend.DetachReader(testReader)
	ev := engine.Sample(ctx)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, KindDeviceUnavailable, ev.ErrorKind())
	assert.ErrorIs(t, ev.Err, ErrDeviceUnavailable)
	assert.False(t, engine.State().Present())

	backend.AttachReader(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	assert.Equal(t, EventInserted, engine.Sample(ctx).Kind)
}

func TestSample_ListError(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.ListErr = errors.New("service stopped")
	engine := newTestEngine(t, backend)

	ev := engine.Sample(context.Background())
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrDeviceUnavailable)
}

func TestSample_ConnectErrorKeepsState(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	require.Equal(t, EventInserted, engine.Sample(ctx).Kind)

	backend.ConnectErr = errors.New("sharing violation")
	ev := engine.Sample(ctx)
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrDeviceUnavailable)
	assert.True(t, engine.State().Present())

	backend.ConnectErr = nil
	assert.Equal(t, EventUnchanged, engine.Sample(ctx).Kind)
}

func TestSample_ExhaustedKeepsState(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	inserted := engine.Sample(ctx)
	require.Equal(t, EventInserted, inserted.Kind)

	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		return nil, NewTransmissionError("transmit", reader, errors.New("crc error"), true)
	}
	ev := engine.Sample(ctx)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, KindCardReadExhausted, ev.ErrorKind())
	assert.Same(t, inserted.Card, ev.Card)
	assert.Same(t, inserted.Card, engine.State().Current)

	backend.TransmitFunc = nil
	assert.Equal(t, EventUnchanged, engine.Sample(ctx).Kind)
}

func TestSample_ExhaustedFromIdle(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		return nil, NewTransmissionError("transmit", reader, errors.New("crc error"), true)
	}
	engine := newTestEngine(t, backend)

	ev := engine.Sample(context.Background())
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrCardReadExhausted)
	assert.Nil(t, ev.Card)
	assert.False(t, engine.State().Present())
}

func TestSample_ReleasesSessions(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine.Sample(ctx)
	engine.Sample(ctx)

	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		return nil, NewTransmissionError("transmit", reader, errors.New("crc error"), true)
	}
	engine.Sample(ctx)

	backend.TransmitFunc = nil
	backend.RemoveCard(testReader)
	engine.Sample(ctx)

	assert.Zero(t, backend.OpenSessions())
	assert.Equal(t, backend.Connects(), backend.Disconnects())
	assert.Equal(t, 1, backend.MaxOpenSessions())
}

func TestSample_ConcurrentCallers(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	card := NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4)
	card.Delay = time.Millisecond
	backend.InsertCard(testReader, card)
	engine := newTestEngine(t, backend)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := engine.Sample(context.Background())
			if ev.Kind == EventInserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, backend.MaxOpenSessions())
	assert.Zero(t, backend.OpenSessions())
}

func TestSample_CancelledContext(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend)

	require.Equal(t, EventInserted, engine.Sample(context.Background()).Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend.RemoveCard(testReader)

	ev := engine.Sample(ctx)
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, context.Canceled)
	assert.True(t, engine.State().Present(), "an abandoned sample must not change state")
	assert.Zero(t, backend.OpenSessions())
}

func TestSample_Clock(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, backend, WithClock(func() time.Time { return now }))

	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	ev := engine.Sample(context.Background())
	assert.Equal(t, now, ev.At)

	state := engine.State()
	assert.Equal(t, now, state.Since)
	assert.Equal(t, now, state.LastSample)
}

func TestSample_PrefersAndIgnores(t *testing.T) {
	t.Parallel()
	const sam = "Identiv uTrust 4701 F SAM 01"
	const picc = "Identiv uTrust 4701 F CL Reader 00"
	backend := NewMockBackend(sam, testReader, picc)
	backend.InsertCard(picc, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend, WithIgnoredReaders("*sam*"), WithReaderName("CL Reader"))

	labels, err := engine.EnumerateDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{picc, testReader}, labels)

	ev := engine.Sample(context.Background())
	assert.Equal(t, EventInserted, ev.Kind)
	assert.Equal(t, picc, ev.Reader)
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	engine := newTestEngine(t, backend)
	ctx := context.Background()

	require.Equal(t, EventInserted, engine.Sample(ctx).Kind)
	require.NoError(t, engine.Close())
	assert.False(t, engine.State().Present())
	assert.Equal(t, EventInserted, engine.Sample(ctx).Kind)
}
