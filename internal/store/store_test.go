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

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// testStore connects to TEST_DATABASE_URL or skips the test.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	s, err := NewStore(ctx, pool)
	require.NoError(t, err)
	return s
}

// createJob inserts a job and removes it and its prospects after the test.
func createJob(t *testing.T, s *Store) models.Job {
	t.Helper()
	ctx := context.Background()
	j := models.NewJob(models.JobConfig{Niche: "bakery", Location: "10001", Country: "US", RadiusKm: 5, MaxBusinesses: 10})
	require.NoError(t, s.CreateJob(ctx, j))
	t.Cleanup(func() {
		s.pool.Exec(ctx, `DELETE FROM prospects WHERE job_id = $1`, j.ID)
		s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, j.ID)
	})
	return j
}

func insertOne(t *testing.T, s *Store, jobID, placeID string) models.Prospect {
	t.Helper()
	inserted, err := s.InsertProspects(context.Background(), []models.Prospect{
		models.NewProspect(jobID, models.Business{PlaceID: placeID, Name: "Shop " + placeID, Website: "https://shop.example"}),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	return inserted[0]
}

func TestStore_InsertProspectsSkipsDuplicatePlaces(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	j := createJob(t, s)
	other := createJob(t, s)

	first, err := s.InsertProspects(ctx, []models.Prospect{
		models.NewProspect(j.ID, models.Business{PlaceID: "a", Name: "A"}),
		models.NewProspect(j.ID, models.Business{PlaceID: "a", Name: "A again"}),
		models.NewProspect(j.ID, models.Business{PlaceID: "b", Name: "B"}),
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "A", first[0].Name)
	assert.Equal(t, "b", first[1].PlaceID)

	second, err := s.InsertProspects(ctx, []models.Prospect{
		models.NewProspect(j.ID, models.Business{PlaceID: "b", Name: "B"}),
		models.NewProspect(other.ID, models.Business{PlaceID: "b", Name: "B"}),
	})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, other.ID, second[0].JobID)

	n, err := s.CountProspects(ctx, j.ID, models.ProspectFound)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetProspect(ctx, first[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ProspectFound, got.Status)

	missing, err := s.GetProspect(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_TransitionJobCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	j := createJob(t, s)

	ok, err := s.TransitionJob(ctx, j.ID, models.JobDraft, models.JobProspecting, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionJob(ctx, j.ID, models.JobDraft, models.JobProspecting, "")
	require.NoError(t, err)
	assert.False(t, ok, "a stale from status must not apply")

	_, err = s.TransitionJob(ctx, j.ID, models.JobProspecting, models.JobCompleted, "")
	assert.Error(t, err, "edges outside the pipeline are rejected")

	ok, err = s.TransitionJob(ctx, j.ID, models.JobProspecting, models.JobFailed, "places quota exceeded")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "places quota exceeded", got.LastError)

	missing, err := s.GetJob(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_IncrementStats(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	j := createJob(t, s)

	require.NoError(t, s.IncrementStats(ctx, j.ID, models.Stats{Found: 3, WithWebsite: 2}))
	require.NoError(t, s.IncrementStats(ctx, j.ID, models.Stats{Found: 1, Sent: 2, Bounced: 1}))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Found: 4, WithWebsite: 2, Sent: 2, Bounced: 1}, got.Stats)
}

func TestStore_ProspectStatusGuards(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	j := createJob(t, s)
	p := insertOne(t, s, j.ID, "a")
	now := time.Now().UTC()

	ok, err := s.MarkSent(ctx, p.ID, "msg-1", now)
	require.NoError(t, err)
	assert.False(t, ok, "found prospects cannot be sent")

	ok, err = s.SetInferenceResult(ctx, p.ID, models.ProspectEmailFound, "info@shop.example")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetInferenceResult(ctx, p.ID, models.ProspectNoEmail, "")
	require.NoError(t, err)
	assert.False(t, ok, "inference only applies to found prospects")

	ok, err = s.MarkUnsubscribed(ctx, p.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkSent(ctx, p.ID, "msg-1", now)
	require.NoError(t, err)
	assert.False(t, ok, "an unsubscribed prospect is never marked sent")

	ok, err = s.MarkBounced(ctx, p.ID, "550 no such user", now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProspectUnsubscribed, got.Status)
	assert.Equal(t, "info@shop.example", got.DiscoveredEmail)
	assert.Equal(t, models.EmailSourceInferred, got.EmailSource)
	assert.Empty(t, got.MessageID)
	assert.NotNil(t, got.UnsubscribedAt)
}

func TestStore_MarkSentAndLookupByMessageID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	j := createJob(t, s)
	p := insertOne(t, s, j.ID, "a")
	msgID := "sg-" + uuid.NewString()

	_, err := s.SetInferenceResult(ctx, p.ID, models.ProspectEmailFound, "info@shop.example")
	require.NoError(t, err)
	ok, err := s.MarkSent(ctx, p.ID, msgID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetProspectByMessageID(ctx, msgID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, models.ProspectSent, got.Status)

	ok, err = s.MarkBounced(ctx, p.ID, "mailbox full", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok, "sent prospects can still bounce")

	none, err := s.GetProspectByMessageID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_ListProspects(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	j := createJob(t, s)
	a := insertOne(t, s, j.ID, "a")
	insertOne(t, s, j.ID, "b")
	insertOne(t, s, j.ID, "c")

	_, err := s.SetInferenceResult(ctx, a.ID, models.ProspectNoEmail, "")
	require.NoError(t, err)

	all, err := s.ListProspects(ctx, j.ID, "", 50)
	require.NoError(t, err)
	assert.Len(t, all, 3, "an empty status matches every status")

	found, err := s.ListProspects(ctx, j.ID, models.ProspectFound, 50)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	limited, err := s.ListProspects(ctx, j.ID, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_IsSuppressedScopes(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	tag := uuid.NewString()[:8]
	emailDomain := "shop-" + tag + ".example"
	blockedDomain := "spam-" + tag + ".example"
	t.Cleanup(func() {
		s.pool.Exec(ctx, `DELETE FROM unsubscribes WHERE domain = ANY($1)`, []string{emailDomain, blockedDomain})
	})

	now := time.Now().UTC()
	require.NoError(t, s.InsertUnsubscribe(ctx, models.Unsubscribe{
		ID: uuid.NewString(), Email: "info@" + emailDomain, Domain: emailDomain, Scope: models.ScopeEmail, CreatedAt: now,
	}))
	require.NoError(t, s.InsertUnsubscribe(ctx, models.Unsubscribe{
		ID: uuid.NewString(), Email: "owner@" + blockedDomain, Domain: blockedDomain, Scope: models.ScopeDomain, CreatedAt: now,
	}))

	cases := []struct {
		email, domain string
		want          bool
	}{
		{"info@" + emailDomain, emailDomain, true},
		{"sales@" + emailDomain, emailDomain, false},
		{"anyone@" + blockedDomain, blockedDomain, true},
		{"info@other-" + tag + ".example", "other-" + tag + ".example", false},
	}
	for _, tc := range cases {
		got, err := s.IsSuppressed(ctx, tc.email, tc.domain)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, got, "IsSuppressed(%s)", tc.email)
	}
}
