// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports review queue stage timings, client outcomes and
// HTTP request counts to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

const namespace = "trialbyte"

var latencyBuckets = []float64{
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5, 10,
}

// Recorder implements reviewq.StageMetricsRecorder and reviewlite.EventRecorder.
type Recorder struct {
	stageDuration *prometheus.HistogramVec
	stageItems    *prometheus.CounterVec
	clientEvents  *prometheus.CounterVec
	clientLatency *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

var (
	_ reviewq.StageMetricsRecorder = (*Recorder)(nil)
	_ reviewlite.EventRecorder     = (*Recorder)(nil)
)

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them through promhttp.Handler().
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reviewq",
			Name:      "stage_duration_seconds",
			Help:      "Latency of review queue operation stages.",
			Buckets:   latencyBuckets,
		}, []string{"op", "stage", "result"}),
		stageItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reviewq",
			Name:      "stage_items_total",
			Help:      "Items processed by review queue operation stages.",
		}, []string{"op", "stage"}),
		clientEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "events_total",
			Help:      "Client workflow outcomes (saved, saved_locally, fallback_failed, ...).",
		}, []string{"op", "entity", "outcome"}),
		clientLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "duration_seconds",
			Help:      "Latency of client workflow calls.",
			Buckets:   latencyBuckets,
		}, []string{"op"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status class.",
		}, []string{"route", "result"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   latencyBuckets,
		}, []string{"route"}),
	}
}

// ObserveStage records one review queue stage timing.
func (r *Recorder) ObserveStage(_ context.Context, t reviewq.StageTiming) {
	result := "ok"
	if t.Failed {
		result = "error"
	}
	r.stageDuration.WithLabelValues(t.Op, t.Stage, result).Observe(t.Took.Seconds())
	if t.Items > 0 {
		r.stageItems.WithLabelValues(t.Op, t.Stage).Add(float64(t.Items))
	}
}

// RecordEvent records one client workflow outcome.
func (r *Recorder) RecordEvent(_ context.Context, ev reviewlite.Event) {
	r.clientEvents.WithLabelValues(ev.Op, ev.Entity, ev.Outcome).Inc()
	r.clientLatency.WithLabelValues(ev.Op).Observe(ev.Duration.Seconds())
}

// Instrument wraps h and counts its responses under a stable route label.
func (r *Recorder) Instrument(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, req)
		r.httpRequests.WithLabelValues(route, statusClass(sw.status)).Inc()
		r.httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
