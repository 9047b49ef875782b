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

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/places"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/sender"
)

// prospect runs the business finder once for the job's full cap and moves
// the job to discovering. A job left in prospecting by an interrupted tick
// is re-run; rows already stored for a place are skipped on insert.
func (e *Engine) prospect(ctx context.Context, job *models.Job) (bool, error) {
	if job.Status == models.JobDraft {
		ok, err := e.transition(ctx, job, models.JobProspecting, "")
		if err != nil || !ok {
			return false, err
		}
	}

	businesses, err := e.finder.Find(ctx, places.Query{
		Niche:      job.Config.Niche,
		Location:   job.Config.Location,
		Country:    job.Config.Country,
		RadiusKm:   job.Config.RadiusKm,
		MaxResults: job.Config.MaxBusinesses,
	})
	if err != nil {
		return false, fmt.Errorf("find businesses: %w", err)
	}

	prospects := make([]models.Prospect, 0, len(businesses))
	for _, b := range businesses {
		prospects = append(prospects, models.NewProspect(job.ID, b))
	}

	var inserted []models.Prospect
	if len(prospects) > 0 {
		inserted, err = e.store.InsertProspects(ctx, prospects)
		if err != nil {
			return false, fmt.Errorf("insert prospects: %w", err)
		}
	}

	delta := models.Stats{Found: len(inserted)}
	for _, p := range inserted {
		if p.Website != "" {
			delta.WithWebsite++
		}
	}
	if !delta.IsZero() {
		if err := e.store.IncrementStats(ctx, job.ID, delta); err != nil {
			return false, fmt.Errorf("increment prospecting stats: %w", err)
		}
	}

	slog.Info("prospecting complete",
		"job_id", job.ID,
		"returned", len(businesses),
		"inserted", len(inserted),
		"with_website", delta.WithWebsite,
	)

	ok, err := e.transition(ctx, job, models.JobDiscovering, "")
	return ok, err
}

// discover infers addresses for one batch of found prospects. The job moves
// to sending once no found prospects remain.
func (e *Engine) discover(ctx context.Context, job *models.Job) (bool, error) {
	batch, err := e.store.ListProspects(ctx, job.ID, models.ProspectFound, e.discoverBatch)
	if err != nil {
		return false, fmt.Errorf("list found prospects: %w", err)
	}
	if len(batch) == 0 {
		return e.transition(ctx, job, models.JobSending, "")
	}

	var withEmail atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.inferConcurrency)
	for _, p := range batch {
		g.Go(func() error {
			res, err := e.inferrer.Infer(gctx, p.Website)
			if err != nil {
				return fmt.Errorf("infer prospect %s: %w", p.ID, err)
			}
			ok, err := e.store.SetInferenceResult(gctx, p.ID, res.Status, res.Email)
			if err != nil {
				return fmt.Errorf("save inference for prospect %s: %w", p.ID, err)
			}
			if ok && res.Status == models.ProspectEmailFound {
				withEmail.Add(1)
			}
			return nil
		})
	}
	groupErr := g.Wait()

	// Count what was persisted even when part of the batch failed.
	if n := int(withEmail.Load()); n > 0 {
		if err := e.store.IncrementStats(ctx, job.ID, models.Stats{WithEmail: n}); err != nil {
			return false, fmt.Errorf("increment withEmail: %w", err)
		}
	}
	if groupErr != nil {
		return false, groupErr
	}

	slog.Info("discovery batch complete",
		"job_id", job.ID,
		"batch", len(batch),
		"with_email", withEmail.Load(),
	)

	if len(batch) < e.discoverBatch {
		remaining, err := e.store.CountProspects(ctx, job.ID, models.ProspectFound)
		if err != nil {
			return false, fmt.Errorf("count found prospects: %w", err)
		}
		if remaining == 0 {
			return e.transition(ctx, job, models.JobSending, "")
		}
	}
	return false, nil
}

// send runs one batch of email_found prospects through the sender. The job
// completes when a tick finds nothing left to send.
func (e *Engine) send(ctx context.Context, job *models.Job) (bool, *sender.BatchResult, error) {
	batch, err := e.store.ListProspects(ctx, job.ID, models.ProspectEmailFound, e.sendBatch)
	if err != nil {
		return false, nil, fmt.Errorf("list email_found prospects: %w", err)
	}
	if len(batch) == 0 {
		ok, err := e.transition(ctx, job, models.JobCompleted, "")
		return ok, &sender.BatchResult{}, err
	}

	res := e.sender.SendBatch(ctx, batch, sender.Campaign{
		JobID:    job.ID,
		Niche:    job.Config.Niche,
		Location: job.Config.Location,
	})

	delta := models.Stats{Sent: res.Sent, Bounced: res.Bounced, Unsubscribed: res.Skipped}
	if !delta.IsZero() {
		if err := e.store.IncrementStats(ctx, job.ID, delta); err != nil {
			return false, &res, fmt.Errorf("increment send stats: %w", err)
		}
	}
	return false, &res, nil
}
