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

// Package api exposes the HTTP surface: job management, the cron tick
// trigger, suppression management, the provider webhook, the unsubscribe
// link, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/engine"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/metrics"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// Store is the job and prospect persistence the API reads and writes.
type Store interface {
	CreateJob(ctx context.Context, j models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
	ListProspects(ctx context.Context, jobID string, status models.ProspectStatus, limit int) ([]models.Prospect, error)
}

// Runner triggers engine work under the tick lock.
type Runner interface {
	RunOnce(ctx context.Context) (engine.TickResult, error)
	SendNow(ctx context.Context, jobID string) (engine.SendNowResult, error)
}

// Suppressor manages manual suppression entries.
type Suppressor interface {
	Record(ctx context.Context, email, jobID string) error
	RecordDomain(ctx context.Context, domain, jobID string) error
}

// Webhooks serves provider callbacks and the unsubscribe link.
type Webhooks interface {
	ServeEvents(w http.ResponseWriter, r *http.Request)
	ServeUnsubscribe(w http.ResponseWriter, r *http.Request)
}

// EventLog returns recent job status events.
type EventLog interface {
	Recent(ctx context.Context, n int64) ([]models.JobEvent, error)
}

// Pinger is a health-checked dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the router.
type Config struct {
	Store      Store
	Runner     Runner
	Suppressor Suppressor
	Webhooks   Webhooks
	Events     EventLog          // optional
	Health     map[string]Pinger // checked by /health

	// CronSecret, when set, is required as a bearer token on the tick
	// endpoint.
	CronSecret  string
	CORSOrigins []string
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	s := &server{
		store:      cfg.Store,
		runner:     cfg.Runner,
		suppressor: cfg.Suppressor,
		events:     cfg.Events,
		health:     cfg.Health,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/unsubscribe", cfg.Webhooks.ServeUnsubscribe)
	r.Post("/unsubscribe", cfg.Webhooks.ServeUnsubscribe)
	r.Post("/webhooks/sendgrid", cfg.Webhooks.ServeEvents)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(cfg.CronSecret))
			r.Get("/cron/tick", s.handleTick)
			r.Post("/cron/tick", s.handleTick)
		})

		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/prospects", s.handleListProspects)
		r.Post("/jobs/{id}/send", s.handleSendNow)

		r.Post("/suppressions", s.handleCreateSuppression)

		if s.events != nil {
			r.Get("/events", s.handleRecentEvents)
		}
	})

	return r
}
