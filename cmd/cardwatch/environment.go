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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
	"github.com/ZaparooProject/go-cardwatch/config"
	"github.com/ZaparooProject/go-cardwatch/history"
	historybunt "github.com/ZaparooProject/go-cardwatch/history/buntdb"
	historysql "github.com/ZaparooProject/go-cardwatch/history/sqlite"
	"github.com/ZaparooProject/go-cardwatch/pcsc"
)

var errHistoryDisabled = errors.New("card history is disabled (history.driver: none)")

type flags struct {
	configPath string
	logLevel   string
	readerName string
	logJSON    bool
}

// environment holds what the commands share. The reader backend and the
// history store are opened on first use.
type environment struct {
	cfg     *config.Config
	log     *logrus.Logger
	out     *Output
	closers []func() error
}

func setup(f flags) (*environment, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logJSON {
		cfg.Log.JSON = true
	}
	if f.readerName != "" {
		cfg.Reader.Name = f.readerName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, log: logger, out: NewOutput(os.Stdout)}, nil
}

// Close releases everything opened by the commands, last opened first
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.WithError(err).Warn("shutdown")
		}
	}
	e.closers = nil
}

func (e *environment) backend() (*pcsc.Backend, error) {
	backend, err := pcsc.New()
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, backend.Close)
	return backend, nil
}

func (e *environment) engine() (*cardwatch.Engine, error) {
	backend, err := e.backend()
	if err != nil {
		return nil, err
	}
	opts := append(e.cfg.EngineOptions(), cardwatch.WithLogger(e.log))
	engine, err := cardwatch.New(backend, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	e.closers = append(e.closers, engine.Close)
	return engine, nil
}

func (e *environment) store(ctx context.Context) (history.Store, error) {
	store, err := openStore(ctx, e.cfg.History)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, store.Close)
	return store, nil
}

func openStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case config.DriverBuntDB:
		store, err := historybunt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		store, err := historysql.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errHistoryDisabled
	}
}
