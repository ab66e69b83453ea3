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

// Package pcsc provides a cardwatch.Backend over the platform PC/SC stack
// (pcsclite on Linux and macOS, WinSCard on Windows).
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ebfe/scard"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Backend implements cardwatch.Backend on one PC/SC context.
type Backend struct {
	ctx *scard.Context
	mu  sync.Mutex
}

// New establishes a PC/SC context
func New() (*Backend, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, mapError("establish context", "", err)
	}
	return &Backend{ctx: ctx}, nil
}

// ListReaders implements cardwatch.Backend. PC/SC reports "no readers" as an
// error; it is translated to an empty list.
func (b *Backend) ListReaders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, cardwatch.NewError("list readers", "", cardwatch.KindDeviceUnavailable, errClosed)
	}

	readers, err := b.ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return []string{}, nil
	}
	if err != nil {
		return nil, mapError("list readers", "", err)
	}
	return readers, nil
}

// Connect implements cardwatch.Backend. The card is opened in exclusive
// mode so no other application can interleave commands with ours.
func (b *Backend) Connect(ctx context.Context, reader string) (cardwatch.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", reader, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, cardwatch.NewError("connect", reader, cardwatch.KindDeviceUnavailable, errClosed)
	}

	card, err := b.ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		return nil, mapError("connect", reader, err)
	}
	return &connection{card: card, reader: reader}, nil
}

// Close releases the PC/SC context. It is safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Release()
	b.ctx = nil
	if err != nil {
		return fmt.Errorf("release pcsc context: %w", err)
	}
	return nil
}

type connection struct {
	card   *scard.Card
	reader string
}

func (c *connection) ATR() ([]byte, error) {
	status, err := c.card.Status()
	if err != nil {
		return nil, mapError("status", c.reader, err)
	}
	return status.Atr, nil
}

func (c *connection) Transmit(cmd []byte) ([]byte, error) {
	resp, err := c.card.Transmit(cmd)
	if err != nil {
		return nil, mapError("transmit", c.reader, err)
	}
	return resp, nil
}

func (c *connection) Reconnect() error {
	if err := c.card.Reconnect(scard.ShareExclusive, scard.ProtocolAny, scard.LeaveCard); err != nil {
		return mapError("reconnect", c.reader, err)
	}
	return nil
}

func (c *connection) Disconnect() error {
	if err := c.card.Disconnect(scard.LeaveCard); err != nil {
		return mapError("disconnect", c.reader, err)
	}
	return nil
}
