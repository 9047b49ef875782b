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

package models

import (
	"time"

	"github.com/google/uuid"
)

// ProspectStatus is a discovered business's position in its own lifecycle.
type ProspectStatus string

const (
	ProspectFound        ProspectStatus = "found"
	ProspectNoWebsite    ProspectStatus = "no_website"
	ProspectNoEmail      ProspectStatus = "no_email"
	ProspectEmailFound   ProspectStatus = "email_found"
	ProspectSent         ProspectStatus = "sent"
	ProspectBounced      ProspectStatus = "bounced"
	ProspectUnsubscribed ProspectStatus = "unsubscribed"
)

// EmailSourceInferred marks an address produced by pattern inference.
const EmailSourceInferred = "inferred"

var prospectEdges = map[ProspectStatus][]ProspectStatus{
	ProspectFound:      {ProspectNoWebsite, ProspectNoEmail, ProspectEmailFound},
	ProspectEmailFound: {ProspectSent, ProspectBounced, ProspectUnsubscribed},
	ProspectSent:       {ProspectBounced, ProspectUnsubscribed},
}

// Valid reports whether s is a known prospect status.
func (s ProspectStatus) Valid() bool {
	switch s {
	case ProspectFound, ProspectNoWebsite, ProspectNoEmail, ProspectEmailFound,
		ProspectSent, ProspectBounced, ProspectUnsubscribed:
		return true
	}
	return false
}

// CanTransition reports whether a prospect may move from s to next.
func (s ProspectStatus) CanTransition(next ProspectStatus) bool {
	for _, allowed := range prospectEdges[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PredecessorsOf returns every status that may transition into next.
func PredecessorsOf(next ProspectStatus) []ProspectStatus {
	var out []ProspectStatus
	for _, from := range []ProspectStatus{ProspectFound, ProspectEmailFound, ProspectSent} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

// HasEmail reports whether a prospect in status s carries a discovered address.
func (s ProspectStatus) HasEmail() bool {
	switch s {
	case ProspectEmailFound, ProspectSent, ProspectBounced, ProspectUnsubscribed:
		return true
	}
	return false
}

// Business is a candidate returned by the places provider.
type Business struct {
	PlaceID     string
	Name        string
	Address     string
	Website     string
	Phone       string
	Rating      *float64
	ReviewCount *int
}

// Prospect is one discovered business belonging to a job.
type Prospect struct {
	ID              string         `json:"id"`
	JobID           string         `json:"jobId"`
	PlaceID         string         `json:"placeId"`
	Name            string         `json:"name"`
	Address         string         `json:"address"`
	Website         string         `json:"website,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	Rating          *float64       `json:"rating,omitempty"`
	ReviewCount     *int           `json:"reviewCount,omitempty"`
	Status          ProspectStatus `json:"status"`
	DiscoveredEmail string         `json:"discoveredEmail,omitempty"`
	EmailSource     string         `json:"emailSource,omitempty"`
	MessageID       string         `json:"sendGridMessageId,omitempty"`
	SentAt          *time.Time     `json:"sentAt,omitempty"`
	BouncedAt       *time.Time     `json:"bouncedAt,omitempty"`
	BounceReason    string         `json:"bounceReason,omitempty"`
	UnsubscribedAt  *time.Time     `json:"unsubscribedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewProspect builds a found-status prospect for a job from a business.
func NewProspect(jobID string, b Business) Prospect {
	now := time.Now().UTC()
	return Prospect{
		ID:          uuid.NewString(),
		JobID:       jobID,
		PlaceID:     b.PlaceID,
		Name:        b.Name,
		Address:     b.Address,
		Website:     b.Website,
		Phone:       b.Phone,
		Rating:      b.Rating,
		ReviewCount: b.ReviewCount,
		Status:      ProspectFound,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SuppressionScope decides whether a record covers one address or a domain.
type SuppressionScope string

const (
	ScopeEmail  SuppressionScope = "email"
	ScopeDomain SuppressionScope = "domain"
)

// Unsubscribe is one suppression ledger entry.
type Unsubscribe struct {
	ID        string           `json:"id"`
	Email     string           `json:"email,omitempty"`
	Domain    string           `json:"domain"`
	Scope     SuppressionScope `json:"scope"`
	JobID     string           `json:"jobId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
