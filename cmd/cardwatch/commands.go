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
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
	"github.com/ZaparooProject/go-cardwatch/history"
	"github.com/ZaparooProject/go-cardwatch/metrics"
	"github.com/ZaparooProject/go-cardwatch/mqtt"
	"github.com/ZaparooProject/go-cardwatch/polling"
	"github.com/ZaparooProject/go-cardwatch/tagops"
)

const shutdownTimeout = 5 * time.Second

func runReaders(ctx context.Context, env *environment) error {
	engine, err := env.engine()
	if err != nil {
		return err
	}
	readers, err := engine.EnumerateDevices(ctx)
	if err != nil {
		return err
	}
	env.out.Readers(readers)
	return nil
}

func runScan(ctx context.Context, env *environment, save bool, name string) error {
	engine, err := env.engine()
	if err != nil {
		return err
	}

	ev := engine.Sample(ctx)
	env.out.Event(ev)
	if ev.Kind == cardwatch.EventError {
		return ev.Err
	}
	if !save {
		return nil
	}
	if ev.Card == nil {
		return errors.New("no card on the reader, nothing saved")
	}

	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	if _, err := store.RecordSighting(ctx, history.ObservationFor(ev.Card, history.EventInserted, ev.At)); err != nil {
		return fmt.Errorf("save card: %w", err)
	}
	if name != "" {
		if err := store.SetCardName(ctx, ev.Card.UIDHex(), name); err != nil {
			return fmt.Errorf("name card: %w", err)
		}
	}
	env.out.Printf("saved %s\n", ev.Card.UIDHex())
	return nil
}

func runWatch(ctx context.Context, env *environment) error {
	engine, err := env.engine()
	if err != nil {
		return err
	}

	runnerConfig := polling.DefaultConfig()
	runnerConfig.Logger = env.log
	runnerConfig.PollInterval = env.cfg.Reader.PollInterval

	var registry *prometheus.Registry
	if env.cfg.Metrics.Listen != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		runnerConfig.Observer = metrics.New(registry)
	}

	runner, err := polling.NewRunner(engine, runnerConfig)
	if err != nil {
		return err
	}
	runner.AddSink("stdout", env.out)

	switch store, err := env.store(ctx); {
	case err == nil:
		runner.AddSink("history", history.NewRecorder(store, env.log))
	case errors.Is(err, errHistoryDisabled):
		env.log.Debug("card history disabled")
	default:
		return err
	}

	publisher, err := mqtt.New(env.cfg.MQTT, env.log)
	if err != nil {
		return err
	}
	if publisher.Enabled() {
		if err := publisher.Connect(ctx); err != nil {
			return err
		}
		defer publisher.Close()
		runner.AddSink("mqtt", publisher)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	if registry != nil {
		serveMetrics(gctx, g, env, registry)
	}

	// The stdin reader is not part of the group: a blocked read must not
	// hold up shutdown.
	go scanOnEnter(gctx, env, runner)

	return g.Wait()
}

func serveMetrics(ctx context.Context, g *errgroup.Group, env *environment, registry *prometheus.Registry) {
	srv := &http.Server{
		Addr:              env.cfg.Metrics.Listen,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		env.log.WithField("addr", srv.Addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func scanOnEnter(ctx context.Context, env *environment, runner *polling.Runner) {
	lines := bufio.NewScanner(os.Stdin)
	for lines.Scan() {
		if ctx.Err() != nil {
			return
		}
		if _, err := runner.ScanNow(ctx); err != nil {
			env.log.WithError(err).Debug("manual scan")
			return
		}
	}
}

func runNDEF(ctx context.Context, env *environment) error {
	backend, err := env.backend()
	if err != nil {
		return err
	}
	readers, err := cardwatch.Enumerate(ctx, backend, env.cfg.Reader.Name, env.cfg.Reader.Ignore)
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		return cardwatch.NewError("enumerate", "", cardwatch.KindDeviceUnavailable, nil)
	}

	sess, err := cardwatch.NewHandle(backend, readers[0]).Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := sess.Close(); cErr != nil {
			env.log.WithError(cErr).Debug("closing reader session")
		}
	}()

	content, err := tagops.ReadNDEF(ctx, sess, env.cfg.Reader.Timeouts.Fast)
	if err != nil {
		return err
	}
	env.out.NDEF(content)
	return nil
}

func runHistoryCards(ctx context.Context, env *environment) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	cards, err := store.Cards(ctx)
	if err != nil {
		return err
	}
	env.out.Cards(cards)
	return nil
}

func runHistorySightings(ctx context.Context, env *environment, uid string, limit int) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	if uid != "" {
		if uid, err = normalizeUID(uid); err != nil {
			return err
		}
	}
	sightings, err := store.Sightings(ctx, uid, limit)
	if err != nil {
		return err
	}
	env.out.Sightings(sightings)
	return nil
}

func runLocationsAdd(ctx context.Context, env *environment, name, description string) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	return store.PutLocation(ctx, history.Location{Name: name, Description: description})
}

func runLocationsList(ctx context.Context, env *environment) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	locations, err := store.Locations(ctx)
	if err != nil {
		return err
	}
	env.out.Locations(locations)
	return nil
}

func runLocationCards(ctx context.Context, env *environment, location string) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	assignments, err := store.CardsAt(ctx, location)
	if err != nil {
		return err
	}
	env.out.Assignments(assignments)
	return nil
}

func runAssign(ctx context.Context, env *environment, location, uid string, level int) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	if uid, err = normalizeUID(uid); err != nil {
		return err
	}
	return store.AssignCard(ctx, location, uid, level)
}

func runName(ctx context.Context, env *environment, uid, name string) error {
	store, err := env.store(ctx)
	if err != nil {
		return err
	}
	if uid, err = normalizeUID(uid); err != nil {
		return err
	}
	return store.SetCardName(ctx, uid, name)
}

// normalizeUID accepts "aa:bb:cc:dd" and similar spellings
func normalizeUID(s string) (string, error) {
	uid, err := cardwatch.DecodeUID(s)
	if err != nil {
		return "", err
	}
	return cardwatch.EncodeUID(uid), nil
}
