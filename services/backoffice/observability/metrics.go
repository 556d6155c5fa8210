// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the back office.
//
// Metrics cover the storage layer (egress bytes, transaction outcomes)
// and the business operations built on it (sessions logged, contracts
// created, close-out runs). All operations are thread-safe via
// Prometheus's internal locking. Expose via the /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "smartalk"
	storageSubsystem = "storage"
	ledgerSubsystem  = "ledger"
	cycleSubsystem   = "report_cards"
)

// Metrics holds all Prometheus metrics for the back office. Initialize
// once at startup via NewMetrics.
//
// It implements storage.Metrics and ledger.Recorder.
type Metrics struct {
	// EgressBytesTotal accounts serialized bytes read out of the store.
	EgressBytesTotal prometheus.Counter

	// TransactionsTotal counts atomic batches by outcome.
	// Labels: outcome (committed, aborted, invalid, error)
	TransactionsTotal *prometheus.CounterVec

	// SessionsLoggedTotal counts committed session log entries.
	SessionsLoggedTotal prometheus.Counter

	// ContractsCreatedTotal counts contracts registered.
	ContractsCreatedTotal prometheus.Counter

	// CloseOutRunsTotal counts close-out passes by result.
	// Labels: result (ok, consistency_error, error)
	CloseOutRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry
// to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EgressBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: storageSubsystem,
			Name:      "egress_bytes_total",
			Help:      "Serialized bytes read out of the store",
		}),
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: storageSubsystem,
			Name:      "transactions_total",
			Help:      "Atomic batches by outcome",
		}, []string{"outcome"}),
		SessionsLoggedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: ledgerSubsystem,
			Name:      "sessions_logged_total",
			Help:      "Committed session ledger entries",
		}),
		ContractsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: ledgerSubsystem,
			Name:      "contracts_created_total",
			Help:      "Contracts registered",
		}),
		CloseOutRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: cycleSubsystem,
			Name:      "closeout_runs_total",
			Help:      "Close-out passes by result",
		}, []string{"result"}),
	}
}

// AddEgressBytes implements storage.Metrics.
func (m *Metrics) AddEgressBytes(n int) {
	m.EgressBytesTotal.Add(float64(n))
}

// ObserveTransaction implements storage.Metrics.
func (m *Metrics) ObserveTransaction(outcome string) {
	m.TransactionsTotal.WithLabelValues(outcome).Inc()
}

// SessionLogged implements ledger.Recorder.
func (m *Metrics) SessionLogged() {
	m.SessionsLoggedTotal.Inc()
}

// ContractCreated implements ledger.Recorder.
func (m *Metrics) ContractCreated() {
	m.ContractsCreatedTotal.Inc()
}

// CloseOutRun records one close-out pass.
func (m *Metrics) CloseOutRun(result string) {
	m.CloseOutRunsTotal.WithLabelValues(result).Inc()
}
