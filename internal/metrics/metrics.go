// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instrumentation for ticks, stage
// handlers, sends, webhook events and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadmailer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadmailer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadmailer_ticks_total",
			Help: "Total number of completed scheduler ticks",
		},
	)

	ticksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadmailer_ticks_skipped_total",
			Help: "Ticks skipped because another tick held the lock",
		},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadmailer_tick_duration_seconds",
			Help:    "Duration of a full tick",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120},
		},
	)

	tickJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadmailer_tick_jobs_total",
			Help: "Jobs processed by ticks, by result",
		},
		[]string{"result"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadmailer_stage_duration_seconds",
			Help:    "Duration of one stage handler run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "result"},
	)

	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadmailer_sends_total",
			Help: "Outreach send attempts, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadmailer_webhook_events_total",
			Help: "Provider delivery events received, by type and handling",
		},
		[]string{"event", "handling"},
	)
)

// Recorder adapts the package metrics to the observer interfaces used by
// the engine, sender, scheduler and webhook handler.
type Recorder struct{}

// ObserveStage records one stage handler run.
func (Recorder) ObserveStage(stage string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	stageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// ObserveTick records a finished tick.
func (Recorder) ObserveTick(attempted, failed, advanced int, d time.Duration) {
	ticksTotal.Inc()
	tickDuration.Observe(d.Seconds())
	tickJobs.WithLabelValues("attempted").Add(float64(attempted))
	tickJobs.WithLabelValues("failed").Add(float64(failed))
	tickJobs.WithLabelValues("advanced").Add(float64(advanced))
}

// ObserveTickSkipped records a tick that did not run because of the lock.
func (Recorder) ObserveTickSkipped() {
	ticksSkipped.Inc()
}

// ObserveSend records one send outcome.
func (Recorder) ObserveSend(provider, outcome string) {
	sendsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveWebhookEvent records one delivery event and how it was handled.
func (Recorder) ObserveWebhookEvent(event, handling string) {
	webhookEvents.WithLabelValues(event, handling).Inc()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
