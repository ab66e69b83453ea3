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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdata "github.com/ZaparooProject/go-cardwatch/internal/testing"
)

const testReader = "ACS ACR122U PICC Interface 00 00"

func TestResolve_DirectUID(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRUltralight, testdata.TestUID7))

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, testReader, id.Reader)
	assert.Equal(t, "04ABCDEF123456", id.UIDHex())
	assert.Equal(t, testdata.ATRUltralight, id.ATR)
	assert.Equal(t, FamilyUltralight, id.Type.Family)
	assert.Equal(t, SourceDirectUID, id.Source)
	assert.True(t, id.Confident())
	assert.Equal(t, 1, backend.Transmits())
}

func TestResolve_VendorCommand(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	card := NewVirtualCard(testdata.ATRJCOP3, nil)
	card.VendorData = testdata.BuildCPLC([2]byte{0x47, 0x90}, [4]byte{0x11, 0x22, 0x33, 0x44}, [2]byte{0x55, 0x66})
	backend.InsertCard(testReader, card)

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, SourceVendorCommand, id.Source)
	assert.Equal(t, "4790112233445566", id.UIDHex())
	assert.Equal(t, FamilyJCOP3, id.Type.Family)
	assert.Equal(t, 2, backend.Transmits())
}

func TestResolve_ATRFallback(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRDESFire, nil))

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, SourceATRFallback, id.Source)
	assert.Equal(t, testdata.ATRDESFire, id.UID)
	assert.False(t, id.Confident())
	assert.Equal(t, 1, backend.ATRCalls())
}

func TestResolve_StatusWordFallsThrough(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sw   uint16
	}{
		{name: "function not supported", sw: testdata.SWFunctionNotSupp},
		{name: "wrong parameters", sw: testdata.SWWrongParameters},
		{name: "conditions not met", sw: testdata.SWConditionsNotMet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend := NewMockBackend(testReader)
			card := NewVirtualCard(testdata.ATRJCOP241, testdata.TestUID4)
			card.DirectSW = tt.sw
			card.VendorData = []byte{0x01, 0x02, 0x03}
			backend.InsertCard(testReader, card)

			sess := openTestSession(t, backend, testReader)
			id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
			require.NoError(t, err)
			assert.Equal(t, SourceVendorCommand, id.Source)
			assert.Equal(t, []byte{0x01, 0x02, 0x03}, id.UID)
		})
	}
}

func TestResolve_EmptyUIDFallsThrough(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, nil))
	backend.TransmitFunc = func(_ string, cmd []byte) ([]byte, error) {
		if cmd[0] == 0xFF {
			return testdata.BuildResponse(nil, testdata.SWSuccess), nil
		}
		return testdata.BuildResponse(nil, testdata.SWInsNotSupported), nil
	}

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, SourceATRFallback, id.Source)
}

func TestResolve_MalformedReplyFallsThrough(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic4K, nil))
	backend.TransmitFunc = func(_ string, _ []byte) ([]byte, error) {
		return []byte{0x90}, nil
	}

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, SourceATRFallback, id.Source)
	assert.Equal(t, 2, backend.Transmits())
}

func TestResolve_ExhaustsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRJCOP3, testdata.TestUID4))
	linkLost := errors.New("link lost")
	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		return nil, NewTransmissionError("transmit", reader, linkLost, true)
	}

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.Error(t, err)
	assert.Nil(t, id)

	assert.ErrorIs(t, err, ErrCardReadExhausted)
	assert.ErrorIs(t, err, linkLost)
	var cwErr *Error
	require.ErrorAs(t, err, &cwErr)
	assert.Equal(t, DefaultMaxAttempts, cwErr.Attempts)

	assert.Equal(t, 3, backend.ATRCalls())
	assert.Equal(t, 3, backend.Transmits())
	assert.Equal(t, 2, backend.Reconnects())
	assert.Equal(t, 1, backend.Connects(), "retries must reuse the connection")
}

func TestResolve_UnknownBackendErrorIsFatal(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRJCOP3, testdata.TestUID4))
	backend.TransmitFunc = func(_ string, _ []byte) ([]byte, error) {
		return nil, errors.New("driver exploded")
	}

	sess := openTestSession(t, backend, testReader)
	_, err := newTestResolver(2).Resolve(context.Background(), sess)
	assert.ErrorIs(t, err, ErrCardReadExhausted)
	assert.Equal(t, 2, backend.ATRCalls())
	assert.Equal(t, 2, backend.Transmits())
}

func TestResolve_RecoversOnRetry(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	card := NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4)
	backend.InsertCard(testReader, card)

	calls := 0
	backend.TransmitFunc = func(reader string, cmd []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, NewTransmissionError("transmit", reader, errors.New("collision"), true)
		}
		return card.respond(cmd), nil
	}

	sess := openTestSession(t, backend, testReader)
	id, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDD", id.UIDHex())
	assert.Equal(t, 2, backend.ATRCalls())
	assert.Equal(t, 1, backend.Reconnects())
}

func TestResolve_NoCardOnFirstAttempt(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.ATRFunc = func(string) ([]byte, error) { return nil, nil }

	sess := openTestSession(t, backend, testReader)
	_, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)
	assert.ErrorIs(t, err, ErrNoCardPresent)
	assert.Equal(t, 1, backend.ATRCalls())
	assert.Zero(t, backend.Transmits())
}

func TestResolve_CardRemovedMidRead(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		backend.RemoveCard(reader)
		return nil, NewTransmissionError("transmit", reader, errors.New("card removed"), true)
	}

	sess := openTestSession(t, backend, testReader)
	_, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)

	// The card was seen on the first attempt, so later absence is a failed
	// read rather than an empty reader.
	assert.ErrorIs(t, err, ErrCardReadExhausted)
	assert.Equal(t, 3, backend.ATRCalls())
	assert.Equal(t, 1, backend.Transmits())
}

func TestResolve_CardLeavesAfterATR(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRClassic1K, testdata.TestUID4))
	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		return nil, NewError("transmit", reader, KindNoCardPresent, nil)
	}

	sess := openTestSession(t, backend, testReader)
	_, err := newTestResolver(DefaultMaxAttempts).Resolve(context.Background(), sess)

	// The ATR was captured, so absence reported by a transmit uses up the
	// attempts instead of meaning an empty reader.
	assert.ErrorIs(t, err, ErrCardReadExhausted)
	var cwErr *Error
	require.ErrorAs(t, err, &cwErr)
	assert.Equal(t, KindCardReadExhausted, cwErr.Kind)
	assert.Equal(t, DefaultMaxAttempts, cwErr.Attempts)
	assert.Equal(t, 3, backend.ATRCalls())
	assert.Equal(t, 3, backend.Transmits())
	assert.Equal(t, 2, backend.Reconnects())
}

func TestResolve_TimeoutFallsThrough(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	card := NewVirtualCard(testdata.ATRJCOP3, testdata.TestUID4)
	card.Delay = 200 * time.Millisecond
	backend.InsertCard(testReader, card)

	resolver := NewResolver(&ResolverConfig{
		Logger:      newTestLogger(),
		Timeouts:    Timeouts{Fast: 5 * time.Millisecond, Default: 5 * time.Millisecond, Slow: 5 * time.Millisecond},
		MaxAttempts: DefaultMaxAttempts,
	})

	sess := openTestSession(t, backend, testReader)
	id, err := resolver.Resolve(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, SourceATRFallback, id.Source)
	assert.Equal(t, testdata.ATRJCOP3, id.UID)
}

func TestResolve_SingleAttempt(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRJCOP3, testdata.TestUID4))
	backend.TransmitFunc = func(reader string, _ []byte) ([]byte, error) {
		return nil, NewTransmissionError("transmit", reader, errors.New("gone"), true)
	}

	sess := openTestSession(t, backend, testReader)
	_, err := newTestResolver(1).Resolve(context.Background(), sess)
	var cwErr *Error
	require.ErrorAs(t, err, &cwErr)
	assert.Equal(t, KindCardReadExhausted, cwErr.Kind)
	assert.Equal(t, 1, cwErr.Attempts)
	assert.Zero(t, backend.Reconnects())
}

func TestResolve_CancelledContext(t *testing.T) {
	t.Parallel()
	backend := NewMockBackend(testReader)
	backend.InsertCard(testReader, NewVirtualCard(testdata.ATRJCOP3, testdata.TestUID4))
	sess := openTestSession(t, backend, testReader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestResolver(DefaultMaxAttempts).Resolve(ctx, sess)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.ATRCalls())
}

func TestCardIdentity(t *testing.T) {
	t.Parallel()
	a := &CardIdentity{UID: []byte{0x01, 0x02}, Source: SourceDirectUID, Type: Classify(testdata.ATRClassic1K)}
	b := &CardIdentity{UID: []byte{0x01, 0x02}, Source: SourceVendorCommand}
	c := &CardIdentity{UID: []byte{0x03}}

	assert.True(t, a.SameCard(b))
	assert.False(t, a.SameCard(c))
	assert.False(t, a.SameCard(nil))
	assert.Equal(t, "0102 [MIFARE Classic 1K, direct_uid]", a.String())
}

func TestParseSource(t *testing.T) {
	t.Parallel()
	for _, s := range []Source{SourceDirectUID, SourceVendorCommand, SourceATRFallback, SourceUnknown} {
		assert.Equal(t, s, ParseSource(s.String()))
	}
	assert.Equal(t, SourceUnknown, ParseSource("bogus"))
}
