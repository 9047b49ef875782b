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

// Package sender composes outreach messages and dispatches them one at a
// time through an email provider.
//
// Sends within a batch are strictly sequential and each one first passes
// the Limiter. Every recipient is checked against the suppression ledger
// immediately before its send.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// MaxBounceReason is the longest bounce reason stored on a prospect.
const MaxBounceReason = 500

// Store is the prospect persistence the sender updates.
type Store interface {
	MarkSent(ctx context.Context, id, messageID string, at time.Time) (bool, error)
	MarkBounced(ctx context.Context, id, reason string, at time.Time) (bool, error)
	MarkUnsubscribed(ctx context.Context, id string, at time.Time) (bool, error)
}

// Checker reports whether an address is suppressed.
type Checker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Observer is notified of each send outcome. metrics.Recorder satisfies it.
type Observer interface {
	ObserveSend(provider, outcome string)
}

// Send outcomes passed to the Observer.
const (
	OutcomeSent       = "sent"
	OutcomeBounced    = "bounced"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
	// OutcomeUnrecorded is a message the provider accepted whose sent
	// status could not be stored. The prospect stays sendable.
	OutcomeUnrecorded = "sent_unrecorded"
)

// Config configures a Sender.
type Config struct {
	Provider Provider
	Store    Store
	Checker  Checker
	// Limiter defaults to one send per DefaultSendDelay.
	Limiter  Limiter
	Identity Identity
	// BaseURL is the public root used in unsubscribe links.
	BaseURL  string
	Observer Observer
}

// Sender runs send batches.
type Sender struct {
	provider Provider
	store    Store
	checker  Checker
	limiter  Limiter
	identity Identity
	baseURL  string
	observer Observer
	now      func() time.Time
}

// New creates a Sender.
func New(cfg Config) *Sender {
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(DefaultSendDelay)
	}
	return &Sender{
		provider: cfg.Provider,
		store:    cfg.Store,
		checker:  cfg.Checker,
		limiter:  cfg.Limiter,
		identity: cfg.Identity,
		baseURL:  cfg.BaseURL,
		observer: cfg.Observer,
		now:      time.Now,
	}
}

// BatchResult aggregates one SendBatch call.
type BatchResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Bounced int `json:"bounced"`
	// Skipped counts prospects found suppressed and moved to unsubscribed.
	Skipped int `json:"skipped"`
	// Unrecorded counts sends included in Sent whose MarkSent failed.
	Unrecorded int      `json:"unrecorded,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// SendBatch sends to every prospect in order. Per-prospect failures are
// recorded in the result and never abort the batch; only cancellation of
// ctx stops it early.
func (s *Sender) SendBatch(ctx context.Context, prospects []models.Prospect, c Campaign) BatchResult {
	var res BatchResult
	for i, p := range prospects {
		if err := s.limiter.Wait(ctx); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("batch stopped before %d of %d: %v", i+1, len(prospects), err))
			break
		}
		s.sendOne(ctx, p, c, &res)
	}

	slog.Info("send batch complete",
		"job_id", c.JobID,
		"provider", s.provider.Name(),
		"sent", res.Sent,
		"bounced", res.Bounced,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res
}

func (s *Sender) sendOne(ctx context.Context, p models.Prospect, c Campaign, res *BatchResult) {
	fail := func(format string, args ...any) {
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("prospect %s: ", p.ID)+fmt.Sprintf(format, args...))
		s.observe(OutcomeFailed)
	}

	if p.Status != models.ProspectEmailFound || p.DiscoveredEmail == "" {
		fail("not sendable in status %s", p.Status)
		return
	}

	suppressed, err := s.checker.IsSuppressed(ctx, p.DiscoveredEmail)
	if err != nil {
		fail("suppression check: %v", err)
		return
	}
	if suppressed {
		changed, err := s.store.MarkUnsubscribed(ctx, p.ID, s.now().UTC())
		if err != nil {
			fail("mark suppressed: %v", err)
			return
		}
		if changed {
			res.Skipped++
		}
		s.observe(OutcomeSuppressed)
		slog.Info("skipping suppressed recipient", "job_id", p.JobID, "prospect_id", p.ID)
		return
	}

	msg, err := Compose(s.identity, c, p, s.baseURL)
	if err != nil {
		fail("compose: %v", err)
		return
	}

	messageID, err := s.provider.Send(ctx, msg)
	if err != nil {
		if IsPermanent(err) {
			reason := BounceReason(err.Error())
			changed, serr := s.store.MarkBounced(ctx, p.ID, reason, s.now().UTC())
			if serr != nil {
				fail("mark bounced: %v", serr)
				return
			}
			if !changed {
				slog.Info("permanent rejection for prospect that already left sending",
					"job_id", p.JobID,
					"prospect_id", p.ID,
					"error", err,
				)
				return
			}
			res.Bounced++
			res.Errors = append(res.Errors, fmt.Sprintf("prospect %s: %s", p.ID, reason))
			s.observe(OutcomeBounced)
			slog.Warn("send rejected permanently", "job_id", p.JobID, "prospect_id", p.ID, "error", err)
			return
		}
		fail("send: %v", err)
		slog.Warn("send failed, will retry next tick", "job_id", p.JobID, "prospect_id", p.ID, "error", err)
		return
	}

	res.Sent++
	if _, err := s.store.MarkSent(ctx, p.ID, messageID, s.now().UTC()); err != nil {
		res.Unrecorded++
		s.observe(OutcomeUnrecorded)
		res.Errors = append(res.Errors, fmt.Sprintf("prospect %s: sent but not recorded: %v", p.ID, err))
		slog.Error("failed to record sent message",
			"job_id", p.JobID,
			"prospect_id", p.ID,
			"message_id", messageID,
			"error", err,
		)
		return
	}
	s.observe(OutcomeSent)
}

func (s *Sender) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveSend(s.provider.Name(), outcome)
	}
}

// BounceReason trims a provider error to the stored reason length.
func BounceReason(s string) string {
	return truncate(strings.TrimSpace(s), MaxBounceReason)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
