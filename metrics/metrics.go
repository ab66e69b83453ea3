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

// Package metrics exposes Prometheus collectors for the sampling loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Metrics implements polling.Observer.
type Metrics struct {
	Samples        prometheus.Counter
	Events         *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	CardPresent    prometheus.Gauge
	SampleDuration prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Samples: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardwatch_samples_total",
			Help: "Total reader samples taken",
		}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwatch_events_total",
			Help: "Sample outcomes by event kind",
		}, []string{"kind"}), // inserted, removed, swapped, unchanged, error
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwatch_errors_total",
			Help: "Error events by error kind",
		}, []string{"kind"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwatch_sink_errors_total",
			Help: "Failed event deliveries by sink",
		}, []string{"sink"}),
		CardPresent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardwatch_card_present",
			Help: "1 while a card is confirmed on the reader",
		}),
		SampleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardwatch_sample_duration_seconds",
			Help:    "Duration of one reader sample including identification retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// ObserveSample records one sample outcome
func (m *Metrics) ObserveSample(ev cardwatch.Event, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Samples.Inc()
	m.SampleDuration.Observe(elapsed.Seconds())
	m.Events.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case cardwatch.EventInserted, cardwatch.EventSwapped:
		m.CardPresent.Set(1)
	case cardwatch.EventRemoved:
		m.CardPresent.Set(0)
	case cardwatch.EventError:
		m.Errors.WithLabelValues(errorLabel(ev.Err)).Inc()
		if ev.ErrorKind() == cardwatch.KindDeviceUnavailable {
			m.CardPresent.Set(0)
		}
	case cardwatch.EventUnchanged:
	}
}

// ObserveSinkError records a failed delivery
func (m *Metrics) ObserveSinkError(sink string) {
	if m != nil {
		m.SinkErrors.WithLabelValues(sink).Inc()
	}
}

func errorLabel(err error) string {
	if kind := cardwatch.KindOf(err); kind != cardwatch.KindUnknown {
		return kind.String()
	}
	return "aborted"
}
