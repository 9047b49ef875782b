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

// Package unsubscribe implements the one-click unsubscribe link: the
// reversible prospectId:email token and the action behind it.
package unsubscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// ErrEmailMismatch is returned when a token's address differs from the
// prospect's recorded address.
var ErrEmailMismatch = errors.New("unsubscribe token email does not match prospect")

// Store is the prospect persistence the service needs.
type Store interface {
	GetProspect(ctx context.Context, id string) (*models.Prospect, error)
	MarkUnsubscribed(ctx context.Context, id string, at time.Time) (bool, error)
	IncrementStats(ctx context.Context, jobID string, delta models.Stats) error
}

// Recorder appends to the suppression ledger.
type Recorder interface {
	Record(ctx context.Context, email, jobID string) error
}

// Result describes a completed unsubscribe.
type Result struct {
	Email string
	// Known is false when the token named a prospect that does not exist.
	Known bool
}

// Service handles unsubscribe requests.
type Service struct {
	store  Store
	ledger Recorder
	now    func() time.Time
}

// NewService creates an unsubscribe service.
func NewService(store Store, ledger Recorder) *Service {
	return &Service{store: store, ledger: ledger, now: time.Now}
}

// Unsubscribe honors a token. Unknown prospects still get a ledger entry so
// that stale links keep working.
func (s *Service) Unsubscribe(ctx context.Context, token string) (Result, error) {
	prospectID, email, err := DecodeToken(token)
	if err != nil {
		return Result{}, err
	}

	p, err := s.store.GetProspect(ctx, prospectID)
	if err != nil {
		return Result{}, fmt.Errorf("look up prospect %s: %w", prospectID, err)
	}

	if p == nil {
		if err := s.ledger.Record(ctx, email, ""); err != nil {
			return Result{}, err
		}
		slog.Info("unsubscribed unknown prospect", "prospect_id", prospectID)
		return Result{Email: strings.ToLower(email)}, nil
	}

	if !strings.EqualFold(strings.TrimSpace(p.DiscoveredEmail), strings.TrimSpace(email)) {
		slog.Warn("unsubscribe token email mismatch", "prospect_id", prospectID)
		return Result{}, ErrEmailMismatch
	}

	if err := s.ledger.Record(ctx, p.DiscoveredEmail, p.JobID); err != nil {
		return Result{}, err
	}

	changed, err := s.store.MarkUnsubscribed(ctx, p.ID, s.now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("mark prospect %s unsubscribed: %w", p.ID, err)
	}
	if changed {
		if err := s.store.IncrementStats(ctx, p.JobID, models.Stats{Unsubscribed: 1}); err != nil {
			return Result{}, fmt.Errorf("increment unsubscribed for job %s: %w", p.JobID, err)
		}
	}

	slog.Info("prospect unsubscribed",
		"prospect_id", p.ID,
		"job_id", p.JobID,
		"changed", changed,
	)
	return Result{Email: strings.ToLower(p.DiscoveredEmail), Known: true}, nil
}
