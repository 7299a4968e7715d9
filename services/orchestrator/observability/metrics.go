// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the architect
// orchestrator.
//
// # Description
//
// Metrics cover design turns end to end:
//   - Turn counters and latency histograms by endpoint and status
//   - Streamed chunks and time to first chunk
//   - Extraction problems and extracted mutations
//   - Active streams, keep-alives and push connections
//   - Store failures
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint next to the OpenTelemetry
// Prometheus exporter.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *ArchitectMetrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "aleutian"
	architectSubsystem = "architect"
)

// ArchitectMetrics holds every Prometheus metric of the orchestrator.
//
// # Fields
//
//   - TurnsTotal: Turns by endpoint and status
//   - TurnDurationSeconds: Turn duration by endpoint and status
//   - TimeToFirstChunkSeconds: Latency until the first model chunk
//   - ChunksTotal: Model chunks streamed to clients
//   - ActiveStreams: Streams currently open
//   - ErrorsTotal: Failed turns by endpoint and error code
//   - KeepAlivesTotal: Keep-alive events sent
//   - ClientDisconnectsTotal: Clients gone before the turn ended
//   - ExtractionIssuesTotal: Malformed elements by extractor
//   - MutationsTotal: Extracted mutations by type
//   - StoreFailuresTotal: Persistence failures that ended a turn
//   - PushConnections: Open WebSocket push connections
type ArchitectMetrics struct {
	TurnsTotal              *prometheus.CounterVec
	TurnDurationSeconds     *prometheus.HistogramVec
	TimeToFirstChunkSeconds *prometheus.HistogramVec
	ChunksTotal             *prometheus.CounterVec
	ActiveStreams           *prometheus.GaugeVec
	ErrorsTotal             *prometheus.CounterVec
	KeepAlivesTotal         *prometheus.CounterVec
	ClientDisconnectsTotal  *prometheus.CounterVec
	ExtractionIssuesTotal   *prometheus.CounterVec
	MutationsTotal          *prometheus.CounterVec
	StoreFailuresTotal      prometheus.Counter
	PushConnections         prometheus.Gauge
}

// DefaultMetrics is the instance registered by InitMetrics.
var DefaultMetrics *ArchitectMetrics

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *ArchitectMetrics {
	DefaultMetrics = NewArchitectMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewArchitectMetrics creates the metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry().
func NewArchitectMetrics(reg prometheus.Registerer) *ArchitectMetrics {
	f := promauto.With(reg)
	return &ArchitectMetrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "turns_total",
				Help:      "Total design turns by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TurnDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Design turn duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"endpoint", "status"},
		),
		TimeToFirstChunkSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first model chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		ChunksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "chunks_total",
				Help:      "Total model chunks streamed to clients",
			},
			[]string{"endpoint"},
		),
		ActiveStreams: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open design streams",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "errors_total",
				Help:      "Total failed turns by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		KeepAlivesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keep-alive events sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during a turn",
			},
			[]string{"endpoint"},
		),
		ExtractionIssuesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "extraction_issues_total",
				Help:      "Malformed or skipped elements by extractor",
			},
			[]string{"extractor"},
		),
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "mutations_total",
				Help:      "Extracted mutations by type",
			},
			[]string{"type"},
		),
		StoreFailuresTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "store_failures_total",
				Help:      "Persistence failures that ended a turn",
			},
		),
		PushConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: architectSubsystem,
				Name:      "push_connections",
				Help:      "Open WebSocket push connections",
			},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// ErrorCode classifies a failed turn.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeConflict         ErrorCode = "conflict"
	ErrorCodeLLMError         ErrorCode = "llm_error"
	ErrorCodeStoreFailure     ErrorCode = "store_failure"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
	ErrorCodeInternal         ErrorCode = "internal"
)

// Endpoint identifies a streaming endpoint.
type Endpoint string

const (
	EndpointDesignStream Endpoint = "design_stream"
	EndpointInitModules  Endpoint = "init_modules"
)

// Extractor identifies an answer extractor.
type Extractor string

const (
	ExtractorMutations Extractor = "mutations"
	ExtractorConfirm   Extractor = "confirm"
)

// =============================================================================
// Recording
// =============================================================================

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordTurn counts a finished turn and observes its duration.
func (m *ArchitectMetrics) RecordTurn(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

// RecordError counts a failed turn.
func (m *ArchitectMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
	if code == ErrorCodeStoreFailure {
		m.StoreFailuresTotal.Inc()
	}
	if code == ErrorCodeClientDisconnect {
		m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
	}
}

// RecordChunk counts one streamed chunk.
func (m *ArchitectMetrics) RecordChunk(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordTimeToFirstChunk observes the latency to the first chunk.
func (m *ArchitectMetrics) RecordTimeToFirstChunk(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

func (m *ArchitectMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *ArchitectMetrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *ArchitectMetrics) RecordKeepAlive(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordExtractionIssues adds n problems reported by an extractor.
func (m *ArchitectMetrics) RecordExtractionIssues(extractor Extractor, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExtractionIssuesTotal.WithLabelValues(string(extractor)).Add(float64(n))
}

// RecordMutations adds counts keyed by mutation type.
func (m *ArchitectMetrics) RecordMutations(byType map[string]int) {
	if m == nil {
		return
	}
	for t, n := range byType {
		m.MutationsTotal.WithLabelValues(t).Add(float64(n))
	}
}

func (m *ArchitectMetrics) PushConnected() {
	if m == nil {
		return
	}
	m.PushConnections.Inc()
}

func (m *ArchitectMetrics) PushDisconnected() {
	if m == nil {
		return
	}
	m.PushConnections.Dec()
}
