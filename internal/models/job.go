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

// Package models defines the data structures shared across the outreach
// service: campaigns (jobs), the prospects discovered for them and the
// suppression records that protect recipients.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is a campaign's position in the progression pipeline.
type JobStatus string

const (
	JobDraft       JobStatus = "draft"
	JobProspecting JobStatus = "prospecting"
	JobDiscovering JobStatus = "discovering"
	JobSending     JobStatus = "sending"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
)

// jobEdges lists the forward edges of the pipeline. Failed is reachable
// from every non-terminal state and is handled in CanTransition.
var jobEdges = map[JobStatus]JobStatus{
	JobDraft:       JobProspecting,
	JobProspecting: JobDiscovering,
	JobDiscovering: JobSending,
	JobSending:     JobCompleted,
}

// Terminal reports whether no transition can leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobDraft, JobProspecting, JobDiscovering, JobSending, JobCompleted, JobFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows the pipeline.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() || !s.Valid() {
		return false
	}
	if next == JobFailed {
		return true
	}
	return jobEdges[s] == next
}

// ActiveJobStatuses are the statuses the scheduler tick processes.
var ActiveJobStatuses = []JobStatus{JobDraft, JobProspecting, JobDiscovering, JobSending}

// JobConfig is the immutable campaign configuration captured at creation.
type JobConfig struct {
	Niche         string `json:"niche"`
	Location      string `json:"location"`
	Country       string `json:"country"`
	RadiusKm      int    `json:"radiusKm"`
	MaxBusinesses int    `json:"maxBusinesses"`
}

// Stats holds the per-job progress counters. Counters only grow; a Stats
// value is also used as the delta for an atomic increment.
type Stats struct {
	Found        int `json:"found"`
	WithWebsite  int `json:"withWebsite"`
	WithEmail    int `json:"withEmail"`
	Sent         int `json:"sent"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
}

// Add returns the counter-wise sum of s and d. Negative deltas are ignored.
func (s Stats) Add(d Stats) Stats {
	return Stats{
		Found:        s.Found + nonNegative(d.Found),
		WithWebsite:  s.WithWebsite + nonNegative(d.WithWebsite),
		WithEmail:    s.WithEmail + nonNegative(d.WithEmail),
		Sent:         s.Sent + nonNegative(d.Sent),
		Bounced:      s.Bounced + nonNegative(d.Bounced),
		Unsubscribed: s.Unsubscribed + nonNegative(d.Unsubscribed),
	}
}

// IsZero reports whether every counter is zero.
func (s Stats) IsZero() bool {
	return s == Stats{}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Job is one outreach campaign.
type Job struct {
	ID        string    `json:"id"`
	Config    JobConfig `json:"config"`
	Status    JobStatus `json:"status"`
	Stats     Stats     `json:"stats"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewJob creates a draft job with zeroed stats.
func NewJob(cfg JobConfig) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    JobDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobEvent describes a status change, published for dashboard consumers.
type JobEvent struct {
	JobID  string    `json:"job_id"`
	From   JobStatus `json:"from"`
	To     JobStatus `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
