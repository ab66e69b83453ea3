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
	"bytes"
	"context"
	"errors"
	"sync"
	"time"
)

// VirtualCard is a simulated card for MockBackend.
type VirtualCard struct {
	// VendorData is returned, followed by 90 00, for the vendor command.
	// Nil makes the card reject it.
	VendorData []byte
	ATR        []byte
	UID        []byte
	// Delay is applied to every exchange.
	Delay time.Duration
	// DirectSW overrides the status word for the direct UID command; zero
	// means 90 00 when UID is set.
	DirectSW uint16
}

// NewVirtualCard creates a card answering the direct UID command with uid
func NewVirtualCard(atr, uid []byte) *VirtualCard {
	return &VirtualCard{ATR: atr, UID: uid}
}

func (c *VirtualCard) respond(cmd []byte) []byte {
	switch {
	case bytes.Equal(cmd, DirectUIDCommand()):
		sw := c.DirectSW
		if sw == 0 && len(c.UID) > 0 {
			sw = 0x9000
		}
		if sw == 0 {
			sw = 0x6A81
		}
		if sw>>8 != sw1Success {
			return statusWord(nil, sw)
		}
		return statusWord(c.UID, sw)
	case bytes.Equal(cmd, VendorUIDCommand()):
		if c.VendorData == nil {
			return statusWord(nil, 0x6D00)
		}
		return statusWord(c.VendorData, 0x9000)
	default:
		return statusWord(nil, 0x6D00)
	}
}

func statusWord(data []byte, sw uint16) []byte {
	out := append([]byte(nil), data...)
	return append(out, byte(sw>>8), byte(sw))
}

// MockBackend is an in-memory Backend for tests and dry runs. Cards can be
// inserted and removed between samples; failures can be injected per call.
type MockBackend struct {
	cards        map[string]*VirtualCard
	ListErr      error
	ConnectErr   error
	ATRFunc      func(reader string) ([]byte, error)
	TransmitFunc func(reader string, cmd []byte) ([]byte, error)
	readers      []string
	mu           sync.Mutex
	connects     int
	disconnects  int
	reconnects   int
	transmits    int
	atrCalls     int
	open         int
	maxOpen      int
}

// NewMockBackend creates a backend with the given readers attached
func NewMockBackend(readers ...string) *MockBackend {
	return &MockBackend{
		readers: append([]string(nil), readers...),
		cards:   make(map[string]*VirtualCard),
	}
}

// AttachReader adds a reader
func (m *MockBackend) AttachReader(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers = append(m.readers, label)
}

// DetachReader removes a reader and any card on it
func (m *MockBackend) DetachReader(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.readers[:0]
	for _, r := range m.readers {
		if r != label {
			kept = append(kept, r)
		}
	}
	m.readers = kept
	delete(m.cards, label)
}

// InsertCard places a card on a reader, replacing any card already there
func (m *MockBackend) InsertCard(reader string, card *VirtualCard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[reader] = card
}

// RemoveCard takes the card off a reader
func (m *MockBackend) RemoveCard(reader string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cards, reader)
}

// ListReaders implements Backend
func (m *MockBackend) ListReaders(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]string{}, m.readers...), nil
}

// Connect implements Backend
func (m *MockBackend) Connect(_ context.Context, reader string) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	if !m.attached(reader) {
		return nil, NewError("connect", reader, KindDeviceUnavailable, errors.New("unknown reader"))
	}
	if _, ok := m.cards[reader]; !ok && m.ATRFunc == nil {
		return nil, NewError("connect", reader, KindNoCardPresent, nil)
	}

	m.connects++
	m.open++
	if m.open > m.maxOpen {
		m.maxOpen = m.open
	}
	return &mockConnection{backend: m, reader: reader}, nil
}

func (m *MockBackend) attached(reader string) bool {
	for _, r := range m.readers {
		if r == reader {
			return true
		}
	}
	return false
}

// Connects returns the number of successful Connect calls
func (m *MockBackend) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Disconnects returns the number of Disconnect calls
func (m *MockBackend) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// Reconnects returns the number of Reconnect calls
func (m *MockBackend) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Transmits returns the number of Transmit calls
func (m *MockBackend) Transmits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transmits
}

// ATRCalls returns the number of ATR calls
func (m *MockBackend) ATRCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atrCalls
}

// OpenSessions returns the number of connections not yet disconnected
func (m *MockBackend) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// MaxOpenSessions returns the highest number of simultaneous connections
func (m *MockBackend) MaxOpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

type mockConnection struct {
	backend *MockBackend
	reader  string
	closed  bool
}

func (c *mockConnection) ATR() ([]byte, error) {
	m := c.backend
	m.mu.Lock()
	m.atrCalls++
	fn := m.ATRFunc
	card := m.cards[c.reader]
	m.mu.Unlock()

	if fn != nil {
		return fn(c.reader)
	}
	if card == nil {
		return nil, NewError("atr", c.reader, KindNoCardPresent, nil)
	}
	return append([]byte(nil), card.ATR...), nil
}

func (c *mockConnection) Transmit(cmd []byte) ([]byte, error) {
	m := c.backend
	m.mu.Lock()
	m.transmits++
	fn := m.TransmitFunc
	card := m.cards[c.reader]
	m.mu.Unlock()

	if card != nil && card.Delay > 0 {
		time.Sleep(card.Delay)
	}
	if fn != nil {
		return fn(c.reader, cmd)
	}
	if card == nil {
		return nil, NewTransmissionError("transmit", c.reader, errors.New("card removed"), true)
	}
	return card.respond(cmd), nil
}

func (c *mockConnection) Reconnect() error {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	return nil
}

func (c *mockConnection) Disconnect() error {
	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	m.disconnects++
	m.open--
	return nil
}
