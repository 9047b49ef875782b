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

// Package webhook handles inbound callbacks: SendGrid delivery events and
// the unsubscribe link embedded in every outreach message.
//
// SendGrid POSTs a JSON array of events. Each event is correlated to a
// prospect by its message id, de-duplicated by sg_event_id and applied
// synchronously. If any event fails to apply the whole request answers
// 500 so SendGrid redelivers; already-applied events are idempotent.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/sender"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/suppression"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/unsubscribe"
)

// maxEventBody caps a single webhook POST.
const maxEventBody = 5 << 20

// Handling outcomes reported to the Observer.
const (
	HandlingApplied   = "applied"
	HandlingNoop      = "noop"
	HandlingIgnored   = "ignored"
	HandlingUnknown   = "unknown_message"
	HandlingDuplicate = "duplicate"
	HandlingFailed    = "failed"
)

// Event is a single SendGrid event webhook entry.
type Event struct {
	Email       string `json:"email"`
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	SGEventID   string `json:"sg_event_id"`
	Reason      string `json:"reason"`
	Timestamp   int64  `json:"timestamp"`
}

// Store is the prospect persistence the handler updates.
type Store interface {
	GetProspectByMessageID(ctx context.Context, messageID string) (*models.Prospect, error)
	MarkBounced(ctx context.Context, id, reason string, at time.Time) (bool, error)
	MarkUnsubscribed(ctx context.Context, id string, at time.Time) (bool, error)
	IncrementStats(ctx context.Context, jobID string, delta models.Stats) error
}

// Ledger records suppressions.
type Ledger interface {
	Record(ctx context.Context, email, jobID string) error
	RecordDomain(ctx context.Context, domain, jobID string) error
}

// Deduper remembers event ids. dedup.Filter satisfies it.
type Deduper interface {
	IsNew(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Unsubscriber honors unsubscribe tokens.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, token string) (unsubscribe.Result, error)
}

// Observer counts handled events.
type Observer interface {
	ObserveWebhookEvent(event, handling string)
}

// Config wires a Handler.
type Config struct {
	Store        Store
	Ledger       Ledger
	Unsubscriber Unsubscriber
	Dedup        Deduper  // optional
	Observer     Observer // optional
}

// Handler serves the webhook and unsubscribe endpoints.
type Handler struct {
	store        Store
	ledger       Ledger
	unsubscriber Unsubscriber
	dedup        Deduper
	observer     Observer
	now          func() time.Time
}

// NewHandler creates a webhook handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		unsubscriber: cfg.Unsubscriber,
		dedup:        cfg.Dedup,
		observer:     cfg.Observer,
		now:          time.Now,
	}
}

// ServeEvents handles POST /webhooks/sendgrid.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		slog.Warn("failed to read webhook body", "error", err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		slog.Warn("webhook body is not an event array", "body_len", len(body), "error", err)
		http.Error(w, "expected a JSON array of events", http.StatusBadRequest)
		return
	}

	failed := 0
	for _, ev := range events {
		handling, err := h.handle(r.Context(), ev)
		if err != nil {
			failed++
			handling = HandlingFailed
			slog.Error("failed to apply webhook event",
				"event", ev.Event,
				"sg_event_id", ev.SGEventID,
				"sg_message_id", ev.SGMessageID,
				"error", err,
			)
		}
		if h.observer != nil {
			h.observer.ObserveWebhookEvent(ev.Event, handling)
		}
	}

	if failed > 0 {
		http.Error(w, fmt.Sprintf("%d of %d events failed", failed, len(events)), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handle(ctx context.Context, ev Event) (string, error) {
	switch ev.Event {
	case "bounce", "dropped", "unsubscribe", "group_unsubscribe", "spamreport":
	default:
		return HandlingIgnored, nil
	}

	if h.dedup != nil && ev.SGEventID != "" {
		isNew, err := h.dedup.IsNew(ctx, ev.SGEventID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "sg_event_id", ev.SGEventID, "error", err)
		} else if !isNew {
			return HandlingDuplicate, nil
		}
	}

	handling, err := h.apply(ctx, ev)
	if err != nil && h.dedup != nil && ev.SGEventID != "" {
		// Let the redelivery through.
		if ferr := h.dedup.Forget(ctx, ev.SGEventID); ferr != nil {
			slog.Warn("failed to forget event id", "sg_event_id", ev.SGEventID, "error", ferr)
		}
	}
	return handling, err
}

func (h *Handler) apply(ctx context.Context, ev Event) (string, error) {
	p, err := h.lookup(ctx, ev.SGMessageID)
	if err != nil {
		return "", err
	}
	if p == nil {
		slog.Info("webhook event for unknown message", "event", ev.Event, "sg_message_id", ev.SGMessageID)
		return HandlingUnknown, nil
	}

	at := h.now().UTC()
	if ev.Timestamp > 0 {
		at = time.Unix(ev.Timestamp, 0).UTC()
	}

	var (
		changed bool
		delta   models.Stats
	)
	switch ev.Event {
	case "bounce", "dropped":
		reason := ev.Reason
		if reason == "" {
			reason = ev.Event
		}
		changed, err = h.store.MarkBounced(ctx, p.ID, sender.BounceReason(reason), at)
		if err != nil {
			return "", fmt.Errorf("mark prospect %s bounced: %w", p.ID, err)
		}
		delta.Bounced = 1

	case "unsubscribe", "group_unsubscribe", "spamreport":
		email := firstNonEmpty(p.DiscoveredEmail, ev.Email)
		if err := h.ledger.Record(ctx, email, p.JobID); err != nil {
			return "", err
		}
		if ev.Event == "spamreport" {
			if _, domain, err := suppression.Normalize(email); err == nil {
				if err := h.ledger.RecordDomain(ctx, domain, p.JobID); err != nil {
					return "", err
				}
			}
		}
		changed, err = h.store.MarkUnsubscribed(ctx, p.ID, at)
		if err != nil {
			return "", fmt.Errorf("mark prospect %s unsubscribed: %w", p.ID, err)
		}
		delta.Unsubscribed = 1
	}

	if !changed {
		return HandlingNoop, nil
	}
	if err := h.store.IncrementStats(ctx, p.JobID, delta); err != nil {
		return "", fmt.Errorf("increment stats for job %s: %w", p.JobID, err)
	}

	slog.Info("applied webhook event",
		"event", ev.Event,
		"job_id", p.JobID,
		"prospect_id", p.ID,
	)
	return HandlingApplied, nil
}

// lookup matches the stored provider message id. SendGrid appends
// ".filterNNNN..." to the X-Message-Id it returned at send time.
func (h *Handler) lookup(ctx context.Context, sgMessageID string) (*models.Prospect, error) {
	sgMessageID = strings.TrimSpace(sgMessageID)
	if sgMessageID == "" {
		return nil, nil
	}
	p, err := h.store.GetProspectByMessageID(ctx, sgMessageID)
	if err != nil || p != nil {
		return p, err
	}
	base, _, found := strings.Cut(sgMessageID, ".")
	if !found || base == "" {
		return nil, nil
	}
	return h.store.GetProspectByMessageID(ctx, base)
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; max-width: 32em; margin: 4em auto;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type page struct {
	Title   string
	Message string
}

// ServeUnsubscribe handles GET and POST /unsubscribe?token=. POST is the
// RFC 8058 one-click form.
func (h *Handler) ServeUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")

	res, err := h.unsubscriber.Unsubscribe(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, unsubscribe.ErrInvalidToken), errors.Is(err, unsubscribe.ErrEmailMismatch),
		errors.Is(err, suppression.ErrInvalidEmail):
		renderPage(w, http.StatusBadRequest, page{
			Title:   "Invalid unsubscribe link",
			Message: "This unsubscribe link is not valid. Reply to the message you received and we will remove you by hand.",
		})
		return
	default:
		slog.Error("unsubscribe failed", "error", err)
		renderPage(w, http.StatusInternalServerError, page{
			Title:   "Something went wrong",
			Message: "We could not process your request. Please try the link again in a few minutes.",
		})
		return
	}

	renderPage(w, http.StatusOK, page{
		Title:   "You have been unsubscribed",
		Message: fmt.Sprintf("%s will not receive any further messages from us.", res.Email),
	})
}

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, p); err != nil {
		slog.Warn("failed to render page", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
