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

// Package store provides the persistence layer for jobs, prospects and the
// suppression ledger. Store is backed by Postgres; Memory implements the
// same method set in process for tests and local runs.
//
// Every mutation is scoped to a single record and guarded by the record's
// current status, so concurrent jobs never contend on shared rows.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// Store is the Postgres-backed document store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given Postgres pool.
// It ensures the tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure store schema: %w", err)
	}
	slog.Info("store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			niche          TEXT NOT NULL,
			location       TEXT NOT NULL,
			country        TEXT NOT NULL,
			radius_km      INTEGER NOT NULL,
			max_businesses INTEGER NOT NULL,
			status         TEXT NOT NULL DEFAULT 'draft',
			found          INTEGER NOT NULL DEFAULT 0,
			with_website   INTEGER NOT NULL DEFAULT 0,
			with_email     INTEGER NOT NULL DEFAULT 0,
			sent           INTEGER NOT NULL DEFAULT 0,
			bounced        INTEGER NOT NULL DEFAULT 0,
			unsubscribed   INTEGER NOT NULL DEFAULT 0,
			last_error     TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);

		CREATE TABLE IF NOT EXISTS prospects (
			id               TEXT PRIMARY KEY,
			job_id           TEXT NOT NULL REFERENCES jobs(id),
			place_id         TEXT NOT NULL DEFAULT '',
			name             TEXT NOT NULL,
			address          TEXT NOT NULL DEFAULT '',
			website          TEXT NOT NULL DEFAULT '',
			phone            TEXT NOT NULL DEFAULT '',
			rating           DOUBLE PRECISION,
			review_count     INTEGER,
			status           TEXT NOT NULL DEFAULT 'found',
			discovered_email TEXT NOT NULL DEFAULT '',
			email_source     TEXT NOT NULL DEFAULT '',
			message_id       TEXT NOT NULL DEFAULT '',
			sent_at          TIMESTAMPTZ,
			bounced_at       TIMESTAMPTZ,
			bounce_reason    TEXT NOT NULL DEFAULT '',
			unsubscribed_at  TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_prospects_job_status ON prospects(job_id, status);
		CREATE INDEX IF NOT EXISTS idx_prospects_message ON prospects(message_id) WHERE message_id <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_prospects_job_place ON prospects(job_id, place_id) WHERE place_id <> '';

		CREATE TABLE IF NOT EXISTS unsubscribes (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL DEFAULT '',
			domain     TEXT NOT NULL,
			scope      TEXT NOT NULL DEFAULT 'email',
			job_id     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_unsubscribes_email ON unsubscribes(email);
		CREATE INDEX IF NOT EXISTS idx_unsubscribes_domain ON unsubscribes(domain);
	`)
	return err
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

const jobColumns = `id, niche, location, country, radius_km, max_businesses, status,
	found, with_website, with_email, sent, bounced, unsubscribed,
	last_error, created_at, updated_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, j models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, niche, location, country, radius_km, max_businesses, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, j.ID, j.Config.Niche, j.Config.Location, j.Config.Country, j.Config.RadiusKm,
		j.Config.MaxBusinesses, j.Status, j.CreatedAt, j.UpdatedAt)
	return err
}

// GetJob retrieves a job by id. It returns nil, nil when no job matches.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListActiveJobs returns every job that is not in a terminal status.
func (s *Store) ListActiveJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ANY($1)
		ORDER BY created_at
	`, statusStrings(models.ActiveJobStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// TransitionJob moves a job from one status to another. The update only
// applies when the job is still in from; it reports whether it applied.
func (s *Store) TransitionJob(ctx context.Context, id string, from, to models.JobStatus, reason string) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("invalid job transition %s -> %s", from, to)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementStats atomically adds delta to the job's counters.
func (s *Store) IncrementStats(ctx context.Context, id string, delta models.Stats) error {
	d := models.Stats{}.Add(delta)
	if d.IsZero() {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			found        = found + $2,
			with_website = with_website + $3,
			with_email   = with_email + $4,
			sent         = sent + $5,
			bounced      = bounced + $6,
			unsubscribed = unsubscribed + $7,
			updated_at   = NOW()
		WHERE id = $1
	`, id, d.Found, d.WithWebsite, d.WithEmail, d.Sent, d.Bounced, d.Unsubscribed)
	return err
}

const prospectColumns = `id, job_id, place_id, name, address, website, phone, rating,
	review_count, status, discovered_email, email_source, message_id, sent_at,
	bounced_at, bounce_reason, unsubscribed_at, created_at, updated_at`

// InsertProspects writes a batch of prospects in one transaction. Rows
// whose place id already exists for the job are skipped; the returned
// slice holds only the prospects actually inserted.
func (s *Store) InsertProspects(ctx context.Context, prospects []models.Prospect) ([]models.Prospect, error) {
	if len(prospects) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin prospect batch: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range prospects {
		batch.Queue(`
			INSERT INTO prospects
				(id, job_id, place_id, name, address, website, phone, rating, review_count, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (job_id, place_id) WHERE place_id <> '' DO NOTHING
		`, p.ID, p.JobID, p.PlaceID, p.Name, p.Address, p.Website, p.Phone,
			p.Rating, p.ReviewCount, p.Status, p.CreatedAt, p.UpdatedAt)
	}

	br := tx.SendBatch(ctx, batch)
	var inserted []models.Prospect
	for _, p := range prospects {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("insert prospect %s: %w", p.PlaceID, err)
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, p)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close prospect batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit prospect batch: %w", err)
	}
	return inserted, nil
}

// GetProspect retrieves a prospect by id. It returns nil, nil when absent.
func (s *Store) GetProspect(ctx context.Context, id string) (*models.Prospect, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = $1`, id)
	return scanProspect(row)
}

// GetProspectByMessageID retrieves the prospect a provider message was sent to.
func (s *Store) GetProspectByMessageID(ctx context.Context, messageID string) (*models.Prospect, error) {
	if messageID == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+prospectColumns+` FROM prospects
		WHERE message_id = $1
		LIMIT 1
	`, messageID)
	return scanProspect(row)
}

// ListProspects returns up to limit prospects of a job, oldest first. An
// empty status matches every status.
func (s *Store) ListProspects(ctx context.Context, jobID string, status models.ProspectStatus, limit int) ([]models.Prospect, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+prospectColumns+` FROM prospects
		WHERE job_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
		LIMIT $3
	`, jobID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProspects(rows)
}

// CountProspects counts a job's prospects in the given status.
func (s *Store) CountProspects(ctx context.Context, jobID string, status models.ProspectStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM prospects WHERE job_id = $1 AND status = $2
	`, jobID, status).Scan(&n)
	return n, err
}

// SetInferenceResult records the outcome of email inference for a found prospect.
func (s *Store) SetInferenceResult(ctx context.Context, id string, status models.ProspectStatus, email string) (bool, error) {
	if !models.ProspectFound.CanTransition(status) {
		return false, fmt.Errorf("invalid inference status %q", status)
	}
	source := ""
	if email != "" {
		source = models.EmailSourceInferred
	}
	return s.updateProspect(ctx, id, status, `
		UPDATE prospects
		SET status = $2, discovered_email = $4, email_source = $5, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, email, source)
}

// MarkSent records a successful send.
func (s *Store) MarkSent(ctx context.Context, id, messageID string, at time.Time) (bool, error) {
	return s.updateProspect(ctx, id, models.ProspectSent, `
		UPDATE prospects
		SET status = $2, message_id = $4, sent_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, messageID, at)
}

// MarkBounced records a permanent delivery failure.
func (s *Store) MarkBounced(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return s.updateProspect(ctx, id, models.ProspectBounced, `
		UPDATE prospects
		SET status = $2, bounce_reason = $4, bounced_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, reason, at)
}

// MarkUnsubscribed records that the prospect opted out.
func (s *Store) MarkUnsubscribed(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.updateProspect(ctx, id, models.ProspectUnsubscribed, `
		UPDATE prospects
		SET status = $2, unsubscribed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, at)
}

// updateProspect runs a status-guarded update. The query receives the id,
// the target status and the allowed predecessor statuses as $1..$3, then args.
func (s *Store) updateProspect(ctx context.Context, id string, to models.ProspectStatus, query string, args ...any) (bool, error) {
	params := append([]any{id, to, statusStrings(models.PredecessorsOf(to))}, args...)
	tag, err := s.pool.Exec(ctx, query, params...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertUnsubscribe appends a suppression record. Duplicates are tolerated.
func (s *Store) InsertUnsubscribe(ctx context.Context, u models.Unsubscribe) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unsubscribes (id, email, domain, scope, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.Domain, u.Scope, u.JobID, u.CreatedAt)
	return err
}

// IsSuppressed reports whether an email-scope record for email or a
// domain-scope record for domain exists.
func (s *Store) IsSuppressed(ctx context.Context, email, domain string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM unsubscribes
			WHERE (scope = 'email' AND email = $1)
			   OR (scope = 'domain' AND domain = $2)
		)
	`, email, domain).Scan(&exists)
	return exists, err
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.ID, &j.Config.Niche, &j.Config.Location, &j.Config.Country, &j.Config.RadiusKm,
		&j.Config.MaxBusinesses, &j.Status, &j.Stats.Found, &j.Stats.WithWebsite,
		&j.Stats.WithEmail, &j.Stats.Sent, &j.Stats.Bounced, &j.Stats.Unsubscribed,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// scanProspect scans a single row into a Prospect.
func scanProspect(row pgx.Row) (*models.Prospect, error) {
	var p models.Prospect
	err := row.Scan(
		&p.ID, &p.JobID, &p.PlaceID, &p.Name, &p.Address, &p.Website, &p.Phone,
		&p.Rating, &p.ReviewCount, &p.Status, &p.DiscoveredEmail, &p.EmailSource,
		&p.MessageID, &p.SentAt, &p.BouncedAt, &p.BounceReason, &p.UnsubscribedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProspects(rows pgx.Rows) ([]models.Prospect, error) {
	var prospects []models.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, *p)
	}
	return prospects, rows.Err()
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = strings.ToLower(string(s))
	}
	return out
}
