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

// Package suppression maintains the ledger of addresses and domains that
// must never receive outreach again. Records are append-only.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// ErrInvalidEmail is returned for addresses without a usable local part and domain.
var ErrInvalidEmail = errors.New("invalid email address")

// ErrInvalidDomain is returned when a domain-scope record has no domain.
var ErrInvalidDomain = errors.New("invalid domain")

// Store is the persistence the ledger needs. store.Store and store.Memory
// both satisfy it.
type Store interface {
	InsertUnsubscribe(ctx context.Context, u models.Unsubscribe) error
	IsSuppressed(ctx context.Context, email, domain string) (bool, error)
}

// Ledger answers suppression queries and appends new entries.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Normalize lowercases an address and splits out its domain.
func Normalize(email string) (normalized, domain string, err error) {
	normalized = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(normalized, "@")
	if at <= 0 || at == len(normalized)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return normalized, normalized[at+1:], nil
}

// IsSuppressed reports whether email, or the domain it belongs to, has been
// recorded.
func (l *Ledger) IsSuppressed(ctx context.Context, email string) (bool, error) {
	normalized, domain, err := Normalize(email)
	if err != nil {
		return false, err
	}
	suppressed, err := l.store.IsSuppressed(ctx, normalized, domain)
	if err != nil {
		return false, fmt.Errorf("check suppression for %s: %w", normalized, err)
	}
	return suppressed, nil
}

// Record appends an email-scope entry. Recording the same address twice is
// harmless.
func (l *Ledger) Record(ctx context.Context, email, jobID string) error {
	normalized, domain, err := Normalize(email)
	if err != nil {
		return err
	}
	u := models.Unsubscribe{
		ID:        uuid.NewString(),
		Email:     normalized,
		Domain:    domain,
		Scope:     models.ScopeEmail,
		JobID:     jobID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.InsertUnsubscribe(ctx, u); err != nil {
		return fmt.Errorf("record unsubscribe %s: %w", normalized, err)
	}
	slog.Info("suppression recorded", "email", normalized, "job_id", jobID)
	return nil
}

// RecordDomain appends a domain-scope entry that suppresses every address
// at domain.
func (l *Ledger) RecordDomain(ctx context.Context, domain, jobID string) error {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
	if domain == "" || strings.ContainsAny(domain, "@ /") {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	u := models.Unsubscribe{
		ID:        uuid.NewString(),
		Domain:    domain,
		Scope:     models.ScopeDomain,
		JobID:     jobID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.InsertUnsubscribe(ctx, u); err != nil {
		return fmt.Errorf("record domain suppression %s: %w", domain, err)
	}
	slog.Info("domain suppression recorded", "domain", domain, "job_id", jobID)
	return nil
}
