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
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Backend is the device-access layer: a platform smart-card stack such as
// PC/SC. Implementations must return an empty slice and a nil error from
// ListReaders when nothing is attached.
type Backend interface {
	// ListReaders returns the labels of currently attached readers
	ListReaders(ctx context.Context) ([]string, error)

	// Connect acquires exclusive access to the named reader
	Connect(ctx context.Context, reader string) (Connection, error)
}

// Connection is one exclusive session with a card on a reader.
//
// Thread Safety: a Connection is used from one goroutine at a time. The
// engine never holds two connections to the same reader.
type Connection interface {
	// ATR returns the Answer-To-Reset of the card on the reader
	ATR() ([]byte, error)

	// Transmit performs a single request/response exchange and returns the
	// raw response including the trailing status word
	Transmit(cmd []byte) ([]byte, error)

	// Disconnect releases the connection
	Disconnect() error
}

// Reconnector is implemented by connections that can re-establish the card
// session without going back through Backend.Connect.
type Reconnector interface {
	Reconnect() error
}

// Handle is one physical reader slot. A Handle allows at most one open
// Session at a time.
type Handle struct {
	backend Backend
	label   string
	mu      sync.Mutex
	open    bool
}

// NewHandle creates a handle for the reader with the given label.
func NewHandle(backend Backend, label string) *Handle {
	return &Handle{backend: backend, label: label}
}

// Label returns the reader label reported by the backend
func (h *Handle) Label() string {
	return h.label
}

// IsOpen returns true while a session on this handle is active
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Open connects to the reader. The returned session must be closed on every
// path before the handle can be opened again.
func (h *Handle) Open(ctx context.Context) (*Session, error) {
	if h.backend == nil {
		return nil, ErrNoBackend
	}

	h.mu.Lock()
	if h.open {
		h.mu.Unlock()
		return nil, ErrSessionActive
	}
	h.open = true
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		h.release()
		return nil, fmt.Errorf("open %s: %w", h.label, err)
	}

	conn, err := h.backend.Connect(ctx, h.label)
	if err != nil {
		h.release()
		if KindOf(err) == KindUnknown {
			return nil, NewError("connect", h.label, KindDeviceUnavailable, err)
		}
		return nil, err
	}

	return newSession(h, conn), nil
}

func (h *Handle) release() {
	h.mu.Lock()
	h.open = false
	h.mu.Unlock()
}

// Enumerate lists the readers known to the backend, dropping labels in
// ignore and moving readers whose label contains preferred to the front.
func Enumerate(ctx context.Context, backend Backend, preferred string, ignore []string) ([]string, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}

	labels, err := backend.ListReaders(ctx)
	if err != nil {
		if KindOf(err) == KindUnknown {
			return nil, NewError("list readers", "", KindDeviceUnavailable, err)
		}
		return nil, err
	}

	result := make([]string, 0, len(labels))
	var front []string
	pref := strings.ToLower(strings.TrimSpace(preferred))
	for _, label := range labels {
		if IsReaderIgnored(label, ignore) {
			continue
		}
		if pref != "" && strings.Contains(strings.ToLower(label), pref) {
			front = append(front, label)
			continue
		}
		result = append(result, label)
	}

	return append(front, result...), nil
}

// IsReaderIgnored checks if a reader label matches an entry of the ignore
// list. Matching is case-insensitive and supports shell-style globs.
func IsReaderIgnored(label string, ignore []string) bool {
	if label == "" || len(ignore) == 0 {
		return false
	}

	normalized := normalizeLabel(label)
	for _, pattern := range ignore {
		pattern = normalizeLabel(pattern)
		if pattern == "" {
			continue
		}
		if normalized == pattern {
			return true
		}
		if ok, err := filepath.Match(pattern, normalized); err == nil && ok {
			return true
		}
	}
	return false
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}
