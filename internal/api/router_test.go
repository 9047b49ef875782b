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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/engine"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/scheduler"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/store"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/suppression"
)

type fakeRunner struct {
	tick    engine.TickResult
	tickErr error
	sendErr error
	sent    []string
}

func (f *fakeRunner) RunOnce(context.Context) (engine.TickResult, error) {
	return f.tick, f.tickErr
}

func (f *fakeRunner) SendNow(_ context.Context, id string) (engine.SendNowResult, error) {
	f.sent = append(f.sent, id)
	if f.sendErr != nil {
		return engine.SendNowResult{}, f.sendErr
	}
	return engine.SendNowResult{Status: models.JobSending, Ran: true}, nil
}

type stubWebhooks struct{}

func (stubWebhooks) ServeEvents(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "events")
}

func (stubWebhooks) ServeUnsubscribe(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "unsubscribe")
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeEvents []models.JobEvent

func (f fakeEvents) Recent(_ context.Context, n int64) ([]models.JobEvent, error) {
	if int64(len(f)) > n {
		return f[:n], nil
	}
	return f, nil
}

type testAPI struct {
	srv    *httptest.Server
	mem    *store.Memory
	runner *fakeRunner
}

func newTestAPI(t *testing.T, secret string) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	runner := &fakeRunner{}
	router := NewRouter(Config{
		Store:      mem,
		Runner:     runner,
		Suppressor: suppression.NewLedger(mem),
		Webhooks:   stubWebhooks{},
		Events: fakeEvents{
			{JobID: "a", From: models.JobDraft, To: models.JobProspecting},
			{JobID: "b", From: models.JobDraft, To: models.JobProspecting},
		},
		Health:      map[string]Pinger{"postgres": mem},
		CronSecret:  secret,
		CORSOrigins: []string{"*"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, mem: mem, runner: runner}
}

func (a *testAPI) do(t *testing.T, method, path, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestCreateJob(t *testing.T) {
	a := newTestAPI(t, "")

	resp, body := a.do(t, http.MethodPost, "/api/jobs", `{"niche":"bakery","location":"10001","radiusKm":5,"maxBusinesses":3}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var job models.Job
	require.NoError(t, json.Unmarshal(body, &job))
	assert.Equal(t, models.JobDraft, job.Status)
	assert.True(t, job.Stats.IsZero())
	assert.Equal(t, "US", job.Config.Country)
	assert.Equal(t, 3, job.Config.MaxBusinesses)

	stored, err := a.mem.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	a := newTestAPI(t, "")

	resp, body := a.do(t, http.MethodPost, "/api/jobs", `{"niche":"x","location":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var er errorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	require.Len(t, er.Fields, 2)
	assert.Equal(t, "niche", er.Fields[0].Field)
	assert.Equal(t, "location", er.Fields[1].Field)

	resp, _ = a.do(t, http.MethodPost, "/api/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAndGetJobs(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()

	older := models.NewJob(models.JobConfig{Niche: "florist", Location: "Austin"})
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := models.NewJob(models.JobConfig{Niche: "bakery", Location: "10001"})
	require.NoError(t, a.mem.CreateJob(ctx, older))
	require.NoError(t, a.mem.CreateJob(ctx, newer))

	resp, body := a.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(body, &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID, "newest first")

	resp, _ = a.do(t, http.MethodGet, "/api/jobs/"+older.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProspects(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()

	job := models.NewJob(models.JobConfig{Niche: "bakery", Location: "10001"})
	require.NoError(t, a.mem.CreateJob(ctx, job))
	var batch []models.Prospect
	for i := 0; i < 3; i++ {
		batch = append(batch, models.NewProspect(job.ID, models.Business{PlaceID: fmt.Sprintf("place-%d", i)}))
	}
	inserted, err := a.mem.InsertProspects(ctx, batch)
	require.NoError(t, err)
	_, err = a.mem.SetInferenceResult(ctx, inserted[0].ID, models.ProspectNoWebsite, "")
	require.NoError(t, err)

	var got []models.Prospect
	resp, body := a.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/prospects", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got, 3)

	resp, body = a.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/prospects?status=found&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, models.ProspectFound, got[0].Status)

	resp, _ = a.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/prospects?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = a.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/prospects?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = a.do(t, http.MethodGet, "/api/jobs/missing/prospects", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParseLimit(t *testing.T) {
	n, ok := parseLimit("", 50, 500)
	assert.True(t, ok)
	assert.Equal(t, 50, n)

	n, ok = parseLimit("9999", 50, 500)
	assert.True(t, ok)
	assert.Equal(t, 500, n)

	_, ok = parseLimit("-1", 50, 500)
	assert.False(t, ok)
	_, ok = parseLimit("ten", 50, 500)
	assert.False(t, ok)
}

func TestCronTick_Auth(t *testing.T) {
	a := newTestAPI(t, "s3cret")
	a.runner.tick = engine.TickResult{Attempted: 3, Failed: 1, Advanced: 2}

	resp, _ := a.do(t, http.MethodPost, "/api/cron/tick", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/api/cron/tick", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := a.do(t, http.MethodGet, "/api/cron/tick", "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"attempted":3,"failed":1,"advanced":2,"skipped":false}`, string(body))
}

func TestCronTick_SkippedAndFatal(t *testing.T) {
	a := newTestAPI(t, "")

	a.runner.tickErr = scheduler.ErrTickInProgress
	resp, body := a.do(t, http.MethodPost, "/api/cron/tick", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"skipped":true`)

	a.runner.tickErr = errors.New("list active jobs: db down")
	resp, _ = a.do(t, http.MethodPost, "/api/cron/tick", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSendNow(t *testing.T) {
	a := newTestAPI(t, "")

	resp, body := a.do(t, http.MethodPost, "/api/jobs/job-1/send", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ran":true`)
	assert.Equal(t, []string{"job-1"}, a.runner.sent)

	a.runner.sendErr = engine.ErrJobNotFound
	resp, _ = a.do(t, http.MethodPost, "/api/jobs/missing/send", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	a.runner.sendErr = fmt.Errorf("wrapped: %w", scheduler.ErrTickInProgress)
	resp, _ = a.do(t, http.MethodPost, "/api/jobs/job-1/send", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateSuppression(t *testing.T) {
	a := newTestAPI(t, "")

	resp, _ := a.do(t, http.MethodPost, "/api/suppressions", `{"email":"Owner@Shop.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = a.do(t, http.MethodPost, "/api/suppressions", `{"domain":"competitor.com"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	entries := a.mem.Unsubscribes()
	require.Len(t, entries, 2)
	assert.Equal(t, "owner@shop.com", entries[0].Email)
	assert.Equal(t, models.ScopeDomain, entries[1].Scope)

	for _, body := range []string{`{}`, `{"email":"a@b.com","domain":"b.com"}`, `{"email":"nope"}`, `{"domain":"a b"}`} {
		resp, _ = a.do(t, http.MethodPost, "/api/suppressions", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestRecentEvents(t *testing.T) {
	a := newTestAPI(t, "")

	resp, body := a.do(t, http.MethodGet, "/api/events?job_id=b", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []models.JobEvent
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].JobID)
}

func TestWebhookRoutes(t *testing.T) {
	a := newTestAPI(t, "")

	resp, body := a.do(t, http.MethodPost, "/webhooks/sendgrid", `[]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "events", string(body))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		resp, body = a.do(t, method, "/unsubscribe?token=x", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "unsubscribe", string(body))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t, "")

	resp, body := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy","dependencies":{"postgres":"healthy"}}`, string(body))

	resp, body = a.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "leadmailer_http_requests_total")
}

func TestHealth_Unhealthy(t *testing.T) {
	router := NewRouter(Config{
		Store:    store.NewMemory(),
		Runner:   &fakeRunner{},
		Webhooks: stubWebhooks{},
		Health: map[string]Pinger{
			"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		},
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"unhealthy"`)
}
