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

// Package engine advances outreach jobs through their pipeline:
//
//	draft → prospecting → discovering → sending → completed
//
// Each Tick loads every non-terminal job and runs one bounded unit of work
// for it. Jobs are processed concurrently and independently: an error or
// panic in one job marks that job failed and never affects the others.
// A failed job stays failed until an operator intervenes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/inference"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/places"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/sender"
)

const (
	DefaultDiscoverBatch    = 50
	DefaultSendBatch        = 10
	DefaultJobConcurrency   = 4
	DefaultInferConcurrency = 10
)

// ErrJobNotFound is returned by SendNow for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store is the persistence the engine needs.
type Store interface {
	ListActiveJobs(ctx context.Context) ([]models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	TransitionJob(ctx context.Context, id string, from, to models.JobStatus, reason string) (bool, error)
	IncrementStats(ctx context.Context, id string, delta models.Stats) error
	InsertProspects(ctx context.Context, prospects []models.Prospect) ([]models.Prospect, error)
	ListProspects(ctx context.Context, jobID string, status models.ProspectStatus, limit int) ([]models.Prospect, error)
	CountProspects(ctx context.Context, jobID string, status models.ProspectStatus) (int, error)
	SetInferenceResult(ctx context.Context, id string, status models.ProspectStatus, email string) (bool, error)
}

// Finder discovers businesses for a job.
type Finder interface {
	Find(ctx context.Context, q places.Query) ([]models.Business, error)
}

// Inferrer guesses a contact address for a website.
type Inferrer interface {
	Infer(ctx context.Context, website string) (inference.Result, error)
}

// BatchSender sends one batch of email_found prospects.
type BatchSender interface {
	SendBatch(ctx context.Context, prospects []models.Prospect, c sender.Campaign) sender.BatchResult
}

// Notifier receives job status changes.
type Notifier interface {
	PublishJobEvent(ctx context.Context, ev models.JobEvent) error
}

// Observer records stage and tick measurements.
type Observer interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveTick(attempted, failed, advanced int, d time.Duration)
}

// Config wires an Engine.
type Config struct {
	Store    Store
	Finder   Finder
	Inferrer Inferrer
	Sender   BatchSender
	Notifier Notifier // optional
	Observer Observer // optional

	DiscoverBatch    int
	SendBatch        int
	JobConcurrency   int
	InferConcurrency int
}

// Engine runs ticks and manual sends.
type Engine struct {
	store    Store
	finder   Finder
	inferrer Inferrer
	sender   BatchSender
	notifier Notifier
	observer Observer

	discoverBatch    int
	sendBatch        int
	jobConcurrency   int
	inferConcurrency int

	now func() time.Time
}

// New creates an Engine, filling unset limits with defaults.
func New(cfg Config) *Engine {
	e := &Engine{
		store:            cfg.Store,
		finder:           cfg.Finder,
		inferrer:         cfg.Inferrer,
		sender:           cfg.Sender,
		notifier:         cfg.Notifier,
		observer:         cfg.Observer,
		discoverBatch:    cfg.DiscoverBatch,
		sendBatch:        cfg.SendBatch,
		jobConcurrency:   cfg.JobConcurrency,
		inferConcurrency: cfg.InferConcurrency,
		now:              time.Now,
	}
	if e.discoverBatch <= 0 {
		e.discoverBatch = DefaultDiscoverBatch
	}
	if e.sendBatch <= 0 {
		e.sendBatch = DefaultSendBatch
	}
	if e.jobConcurrency <= 0 {
		e.jobConcurrency = DefaultJobConcurrency
	}
	if e.inferConcurrency <= 0 {
		e.inferConcurrency = DefaultInferConcurrency
	}
	return e
}

// TickResult summarises one sweep.
type TickResult struct {
	Attempted int `json:"attempted"`
	Failed    int `json:"failed"`
	// Advanced counts jobs whose status changed during the tick.
	Advanced int `json:"advanced"`
}

// Tick processes every non-terminal job once. The only error it returns is
// a failure to load the job list.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	start := e.now()
	jobs, err := e.store.ListActiveJobs(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("list active jobs: %w", err)
	}

	var (
		mu  sync.Mutex
		res = TickResult{Attempted: len(jobs)}
	)

	var g errgroup.Group
	g.SetLimit(e.jobConcurrency)
	for _, job := range jobs {
		g.Go(func() error {
			advanced, err := e.process(ctx, job)
			if err != nil && ctx.Err() != nil {
				// Interrupted by shutdown; the next tick resumes the job.
				slog.Warn("job interrupted", "job_id", job.ID, "error", err)
				return nil
			}
			if err != nil {
				e.markFailed(ctx, job.ID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
			} else if advanced {
				res.Advanced++
			}
			return nil
		})
	}
	_ = g.Wait()

	d := e.now().Sub(start)
	if e.observer != nil {
		e.observer.ObserveTick(res.Attempted, res.Failed, res.Advanced, d)
	}
	slog.Info("tick complete",
		"attempted", res.Attempted,
		"failed", res.Failed,
		"advanced", res.Advanced,
		"duration", d,
	)
	return res, nil
}

// process runs the stage handler for job's current status, converting a
// panic into an error.
func (e *Engine) process(ctx context.Context, job models.Job) (advanced bool, err error) {
	stage := string(job.Status)
	start := e.now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveStage(stage, e.now().Sub(start), err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", stage, r)
		}
	}()

	switch job.Status {
	case models.JobDraft, models.JobProspecting:
		return e.prospect(ctx, &job)
	case models.JobDiscovering:
		return e.discover(ctx, &job)
	case models.JobSending:
		advanced, _, err := e.send(ctx, &job)
		return advanced, err
	default:
		return false, fmt.Errorf("no stage handler for status %q", job.Status)
	}
}

// transition moves job from its current status to `to`. It returns false
// when the stored status no longer matches, in which case another worker
// owns the job and the caller should stop.
func (e *Engine) transition(ctx context.Context, job *models.Job, to models.JobStatus, reason string) (bool, error) {
	from := job.Status
	ok, err := e.store.TransitionJob(ctx, job.ID, from, to, reason)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if !ok {
		slog.Warn("job status changed concurrently, skipping",
			"job_id", job.ID,
			"expected", from,
			"target", to,
		)
		return false, nil
	}
	job.Status = to

	slog.Info("job transitioned", "job_id", job.ID, "from", from, "to", to)
	if e.notifier != nil {
		ev := models.JobEvent{JobID: job.ID, From: from, To: to, Reason: reason, At: e.now().UTC()}
		if err := e.notifier.PublishJobEvent(ctx, ev); err != nil {
			slog.Warn("failed to publish job event", "job_id", job.ID, "error", err)
		}
	}
	return true, nil
}

// markFailed moves a job to failed from whatever status it reached.
func (e *Engine) markFailed(ctx context.Context, jobID string, cause error) {
	slog.Error("job failed", "job_id", jobID, "error", cause)

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("failed to reload job for failure", "job_id", jobID, "error", err)
		return
	}
	if job == nil || job.Status.Terminal() {
		return
	}
	if _, err := e.transition(ctx, job, models.JobFailed, cause.Error()); err != nil {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// SendNowResult reports a manual send trigger.
type SendNowResult struct {
	Status models.JobStatus    `json:"status"`
	Ran    bool                `json:"ran"`
	Batch  *sender.BatchResult `json:"batch,omitempty"`
}

// SendNow runs one sending batch for a job in sending status. For any other
// status it only reports the status.
func (e *Engine) SendNow(ctx context.Context, jobID string) (SendNowResult, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return SendNowResult{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return SendNowResult{}, ErrJobNotFound
	}
	if job.Status != models.JobSending {
		return SendNowResult{Status: job.Status}, nil
	}

	_, batch, err := e.send(ctx, job)
	if err != nil {
		return SendNowResult{Status: job.Status}, err
	}
	return SendNowResult{Status: job.Status, Ran: true, Batch: batch}, nil
}
