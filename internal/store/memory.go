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
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// Memory is an in-process store with the same semantics as Store.
type Memory struct {
	mu           sync.Mutex
	jobs         map[string]models.Job
	prospects    map[string]models.Prospect
	order        []string // prospect ids in insertion order
	unsubscribes []models.Unsubscribe
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]models.Job),
		prospects: make(map[string]models.Prospect),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateJob(_ context.Context, j models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *Memory) ListJobs(_ context.Context) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, nil
}

func (m *Memory) ListActiveJobs(_ context.Context) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []models.Job
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			jobs = append(jobs, j)
		}
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs, nil
}

func (m *Memory) TransitionJob(_ context.Context, id string, from, to models.JobStatus, reason string) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("invalid job transition %s -> %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	j.LastError = reason
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return true, nil
}

func (m *Memory) IncrementStats(_ context.Context, id string, delta models.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	j.Stats = j.Stats.Add(delta)
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return nil
}

func (m *Memory) InsertProspects(_ context.Context, prospects []models.Prospect) ([]models.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, id := range m.order {
		p := m.prospects[id]
		if p.PlaceID != "" {
			seen[p.JobID+"\x00"+p.PlaceID] = true
		}
	}

	var inserted []models.Prospect
	for _, p := range prospects {
		key := p.JobID + "\x00" + p.PlaceID
		if p.PlaceID != "" && seen[key] {
			continue
		}
		if _, ok := m.prospects[p.ID]; ok {
			return nil, fmt.Errorf("prospect %s already exists", p.ID)
		}
		seen[key] = true
		inserted = append(inserted, p)
	}
	for _, p := range inserted {
		m.prospects[p.ID] = p
		m.order = append(m.order, p.ID)
	}
	return inserted, nil
}

func (m *Memory) GetProspect(_ context.Context, id string) (*models.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetProspectByMessageID(_ context.Context, messageID string) (*models.Prospect, error) {
	if messageID == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if p := m.prospects[id]; p.MessageID == messageID {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListProspects(_ context.Context, jobID string, status models.ProspectStatus, limit int) ([]models.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Prospect
	for _, id := range m.order {
		if len(out) >= limit {
			break
		}
		p := m.prospects[id]
		if p.JobID == jobID && (status == "" || p.Status == status) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) CountProspects(_ context.Context, jobID string, status models.ProspectStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prospects {
		if p.JobID == jobID && p.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SetInferenceResult(_ context.Context, id string, status models.ProspectStatus, email string) (bool, error) {
	if !models.ProspectFound.CanTransition(status) {
		return false, fmt.Errorf("invalid inference status %q", status)
	}
	return m.update(id, status, func(p *models.Prospect) {
		p.DiscoveredEmail = email
		if email != "" {
			p.EmailSource = models.EmailSourceInferred
		}
	})
}

func (m *Memory) MarkSent(_ context.Context, id, messageID string, at time.Time) (bool, error) {
	return m.update(id, models.ProspectSent, func(p *models.Prospect) {
		p.MessageID = messageID
		p.SentAt = &at
	})
}

func (m *Memory) MarkBounced(_ context.Context, id, reason string, at time.Time) (bool, error) {
	return m.update(id, models.ProspectBounced, func(p *models.Prospect) {
		p.BounceReason = reason
		p.BouncedAt = &at
	})
}

func (m *Memory) MarkUnsubscribed(_ context.Context, id string, at time.Time) (bool, error) {
	return m.update(id, models.ProspectUnsubscribed, func(p *models.Prospect) {
		p.UnsubscribedAt = &at
	})
}

func (m *Memory) update(id string, to models.ProspectStatus, apply func(*models.Prospect)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[id]
	if !ok || !slices.Contains(models.PredecessorsOf(to), p.Status) {
		return false, nil
	}
	p.Status = to
	apply(&p)
	p.UpdatedAt = time.Now().UTC()
	m.prospects[id] = p
	return true, nil
}

func (m *Memory) InsertUnsubscribe(_ context.Context, u models.Unsubscribe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribes = append(m.unsubscribes, u)
	return nil
}

func (m *Memory) IsSuppressed(_ context.Context, email, domain string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.unsubscribes {
		if u.Scope == models.ScopeEmail && u.Email == email {
			return true, nil
		}
		if u.Scope == models.ScopeDomain && u.Domain == domain {
			return true, nil
		}
	}
	return false, nil
}

// Unsubscribes returns a copy of every recorded suppression entry.
func (m *Memory) Unsubscribes() []models.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.unsubscribes)
}
