/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes prometheus instruments for protocol runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "basketiou"
	subsystem = "runs"

	roleLabel    = "role"
	outcomeLabel = "outcome"
)

// Metrics tracks protocol runs.
type Metrics struct {
	RunsStarted        *prometheus.CounterVec
	RunsFinished       *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	SignaturesRejected prometheus.Counter
}

// New creates the run metrics and registers them with registry, unless it is nil.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "started_total",
			Help:      "Total number of protocol runs started",
		}, []string{roleLabel}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "finished_total",
			Help:      "Total number of protocol runs finished, by outcome",
		}, []string{roleLabel, outcomeLabel}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Protocol run duration in seconds, from start to a terminal state",
			Buckets:   prometheus.DefBuckets,
		}, []string{roleLabel, outcomeLabel}),
		SignaturesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "signatures_rejected_total",
			Help:      "Total number of counterparty signatures that failed verification",
		}),
	}

	if registry != nil {
		registry.MustRegister(m.RunsStarted, m.RunsFinished, m.RunDuration, m.SignaturesRejected)
	}

	return m
}

// RecordStart records a run started by role.
func (m *Metrics) RecordStart(role string) {
	if m == nil {
		return
	}

	m.RunsStarted.WithLabelValues(role).Inc()
}

// RecordFinish records a run reaching a terminal state after d.
func (m *Metrics) RecordFinish(role, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.RunsFinished.WithLabelValues(role, outcome).Inc()
	m.RunDuration.WithLabelValues(role, outcome).Observe(d.Seconds())
}

// RecordRejectedSignature records a signature that failed verification.
func (m *Metrics) RecordRejectedSignature() {
	if m == nil {
		return
	}

	m.SignaturesRejected.Inc()
}
