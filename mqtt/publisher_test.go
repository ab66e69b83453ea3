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

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
	testdata "github.com/ZaparooProject/go-cardwatch/internal/testing"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCard(uid []byte, atr []byte, source cardwatch.Source) *cardwatch.CardIdentity {
	return &cardwatch.CardIdentity{
		Reader: "Reader 0",
		UID:    uid,
		ATR:    atr,
		Type:   cardwatch.Classify(atr),
		Source: source,
	}
}

var at = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func TestNewPayload(t *testing.T) {
	t.Parallel()
	jcop := testCard(testdata.TestUID4, testdata.ATRJCOP3, cardwatch.SourceDirectUID)
	ntag := testCard(testdata.TestUID7, testdata.ATRUltralight, cardwatch.SourceVendorCommand)

	tests := []struct {
		name string
		ev   cardwatch.Event
		want Payload
	}{
		{
			name: "inserted",
			ev:   cardwatch.Event{Kind: cardwatch.EventInserted, Card: jcop, Reader: "Reader 0", At: at},
			want: Payload{
				Event: "inserted", Reader: "Reader 0", UID: "AABBCCDD",
				CardType: "JCOP 3 (J3R200)", Source: "direct_uid", At: "2024-05-01T09:30:00Z",
			},
		},
		{
			name: "removed",
			ev:   cardwatch.Event{Kind: cardwatch.EventRemoved, Previous: jcop, Reader: "Reader 0", At: at},
			want: Payload{
				Event: "removed", Reader: "Reader 0", UID: "AABBCCDD",
				CardType: "JCOP 3 (J3R200)", Source: "direct_uid", At: "2024-05-01T09:30:00Z",
			},
		},
		{
			name: "swapped",
			ev:   cardwatch.Event{Kind: cardwatch.EventSwapped, Card: ntag, Previous: jcop, Reader: "Reader 0", At: at},
			want: Payload{
				Event: "swapped", Reader: "Reader 0", UID: "04ABCDEF123456",
				CardType: "MIFARE Ultralight / NTAG", Source: "vendor_command",
				PreviousUID: "AABBCCDD", At: "2024-05-01T09:30:00Z",
			},
		},
		{
			name: "error",
			ev: cardwatch.Event{
				Kind: cardwatch.EventError,
				Err:  cardwatch.NewError("enumerate", "", cardwatch.KindDeviceUnavailable, nil),
				At:   at,
			},
			want: Payload{
				Event: "error", Error: "enumerate: device_unavailable", At: "2024-05-01T09:30:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewPayload(tt.ev))
		})
	}
}

func TestPayload_Encode(t *testing.T) {
	t.Parallel()
	data, err := NewPayload(cardwatch.Event{
		Kind: cardwatch.EventInserted,
		Card: testCard(testdata.TestUID4, testdata.ATRClassic1K, cardwatch.SourceDirectUID),
		At:   at,
	}).Encode()
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 8)
	for _, key := range []string{"event", "reader", "uid", "card_type", "source", "previous_uid", "error", "at"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "AABBCCDD", fields["uid"])
}

func TestNew_Disabled(t *testing.T) {
	t.Parallel()
	p, err := New(Config{}, quietLogger())
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Empty(t, p.Topic())

	require.NoError(t, p.Connect(context.Background()))
	require.NoError(t, p.HandleEvent(context.Background(), cardwatch.Event{Kind: cardwatch.EventInserted}))
	p.Close()
}

func TestNew_Enabled(t *testing.T) {
	t.Parallel()
	p, err := New(Config{Host: "broker.local", ClientID: "door-1"}, quietLogger())
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	assert.Equal(t, "tcp://broker.local:1883", p.broker)
	assert.Equal(t, "cardwatch/door-1/event", p.Topic())
	assert.Equal(t, DefaultTimeout, p.timeout)

	p, err = New(Config{Host: "broker.local", ClientID: "door-1", TopicPrefix: "site", Port: 1884}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker.local:1884", p.broker)
	assert.Equal(t, "site/door-1/event", p.Topic())
}

func TestNew_TLSErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := New(Config{Host: "broker.local", CACert: filepath.Join(dir, "missing.pem")}, quietLogger())
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a certificate"), 0o600))
	_, err = New(Config{Host: "broker.local", CACert: empty}, quietLogger())
	assert.ErrorIs(t, err, ErrNoCACerts)
}

func TestHandleEvent(t *testing.T) {
	t.Parallel()
	p, err := New(Config{Host: "broker.local", ClientID: "door-1"}, quietLogger())
	require.NoError(t, err)

	type published struct {
		topic   string
		payload []byte
	}
	var sent []published
	p.publish = func(topic string, payload []byte) error {
		sent = append(sent, published{topic: topic, payload: payload})
		return nil
	}

	card := testCard(testdata.TestUID4, testdata.ATRClassic1K, cardwatch.SourceDirectUID)
	ctx := context.Background()
	require.NoError(t, p.HandleEvent(ctx, cardwatch.Event{Kind: cardwatch.EventInserted, Card: card, At: at}))
	require.NoError(t, p.HandleEvent(ctx, cardwatch.Event{Kind: cardwatch.EventUnchanged, Card: card, At: at}))
	require.NoError(t, p.HandleEvent(ctx, cardwatch.Event{Kind: cardwatch.EventRemoved, Previous: card, At: at}))

	require.Len(t, sent, 2)
	assert.Equal(t, "cardwatch/door-1/event", sent[0].topic)

	var first Payload
	require.NoError(t, json.Unmarshal(sent[0].payload, &first))
	assert.Equal(t, "inserted", first.Event)

	p.publish = func(string, []byte) error { return errors.New("not connected") }
	err = p.HandleEvent(ctx, cardwatch.Event{Kind: cardwatch.EventInserted, Card: card})
	assert.ErrorContains(t, err, "not connected")
}
