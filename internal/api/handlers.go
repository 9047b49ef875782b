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

package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/engine"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/sanitize"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/scheduler"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/suppression"
)

const (
	defaultProspectLimit = 50
	maxProspectLimit     = 500
	defaultEventLimit    = 50
	maxEventLimit        = 1000
	maxJSONBody          = 1 << 20
)

type server struct {
	store      Store
	runner     Runner
	suppressor Suppressor
	events     EventLog
	health     map[string]Pinger
}

type errorResponse struct {
	Error  string                     `json:"error"`
	Fields []sanitize.ValidationError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// bearerAuth requires "Authorization: Bearer <secret>" when secret is set.
func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		want := []byte("Bearer " + secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type tickResponse struct {
	engine.TickResult
	Skipped bool `json:"skipped"`
}

func (s *server) handleTick(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.RunOnce(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tickResponse{TickResult: res})
	case errors.Is(err, scheduler.ErrTickInProgress):
		writeJSON(w, http.StatusOK, tickResponse{Skipped: true})
	default:
		slog.Error("tick failed", "error", err)
		writeError(w, http.StatusInternalServerError, "tick failed")
	}
}

func (s *server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var in sanitize.JobInput
	if !decodeJSON(w, r, &in) {
		return
	}

	cfg, verrs := sanitize.Job(in)
	if len(verrs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verrs})
		return
	}

	job := models.NewJob(cfg)
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		slog.Error("failed to create job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	slog.Info("job created",
		"job_id", job.ID,
		"niche", cfg.Niche,
		"location", cfg.Location,
		"max_businesses", cfg.MaxBusinesses,
	)
	writeJSON(w, http.StatusCreated, job)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		slog.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// loadJob writes a 404 or 500 and returns nil when the job is unavailable.
func (s *server) loadJob(w http.ResponseWriter, r *http.Request) *models.Job {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		slog.Error("failed to load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return nil
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return job
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if job := s.loadJob(w, r); job != nil {
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *server) handleListProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := models.ProspectStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown prospect status "+strconv.Quote(string(status)))
		return
	}
	limit, ok := parseLimit(q.Get("limit"), defaultProspectLimit, maxProspectLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	job := s.loadJob(w, r)
	if job == nil {
		return
	}

	prospects, err := s.store.ListProspects(r.Context(), job.ID, status, limit)
	if err != nil {
		slog.Error("failed to list prospects", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list prospects")
		return
	}
	if prospects == nil {
		prospects = []models.Prospect{}
	}
	writeJSON(w, http.StatusOK, prospects)
}

func (s *server) handleSendNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.runner.SendNow(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, engine.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, scheduler.ErrTickInProgress):
		writeError(w, http.StatusConflict, "a tick is in progress, try again shortly")
	default:
		slog.Error("manual send failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "send failed")
	}
}

type suppressionRequest struct {
	Email  string `json:"email"`
	Domain string `json:"domain"`
	JobID  string `json:"jobId"`
}

func (s *server) handleCreateSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Domain = strings.TrimSpace(req.Domain)

	var err error
	switch {
	case req.Email != "" && req.Domain != "":
		writeError(w, http.StatusBadRequest, "set exactly one of email or domain")
		return
	case req.Email != "":
		err = s.suppressor.Record(r.Context(), req.Email, req.JobID)
	case req.Domain != "":
		err = s.suppressor.RecordDomain(r.Context(), req.Domain, req.JobID)
	default:
		writeError(w, http.StatusBadRequest, "email or domain is required")
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, req)
	case errors.Is(err, suppression.ErrInvalidEmail), errors.Is(err, suppression.ErrInvalidDomain):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("failed to record suppression", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record suppression")
	}
}

func (s *server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"), defaultEventLimit, maxEventLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	events, err := s.events.Recent(r.Context(), int64(limit))
	if err != nil {
		slog.Error("failed to read job events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.JobID == jobID {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []models.JobEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Dependencies: make(map[string]string, len(s.health))}
	status := http.StatusOK
	for name, p := range s.health {
		if err := p.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			resp.Dependencies[name] = "unhealthy"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Dependencies[name] = "healthy"
	}
	writeJSON(w, status, resp)
}

// parseLimit returns def for an empty value and caps at hi.
func parseLimit(raw string, def, hi int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, hi), true
}
