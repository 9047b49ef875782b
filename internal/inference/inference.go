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

// Package inference guesses a business contact address from its website
// domain. Candidates are generated from a fixed pattern list and filtered
// against the suppression ledger. Nothing is verified as deliverable.
package inference

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// Patterns are the local parts tried, highest priority first.
var Patterns = []string{"info", "contact", "hello", "admin", "support", "business"}

// Checker reports whether an address is suppressed.
type Checker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Result is the outcome for one prospect. Email and Rank are set only when
// Status is email_found.
type Result struct {
	Status models.ProspectStatus
	Email  string
	Rank   int
}

// Inferrer walks the pattern list for a website.
type Inferrer struct {
	checker  Checker
	patterns []string
}

// NewInferrer creates an inferrer that filters candidates through checker.
func NewInferrer(checker Checker) *Inferrer {
	return &Inferrer{checker: checker, patterns: Patterns}
}

// ExtractDomain returns the lowercased hostname of website without a
// leading "www.". It fails for inputs that do not carry a registrable
// domain, such as bare words, IP addresses or public suffixes.
func ExtractDomain(website string) (string, bool) {
	raw := strings.TrimSpace(website)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") || net.ParseIP(host) != nil {
		return "", false
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
		return "", false
	}
	return host, true
}

// Infer picks the first unsuppressed candidate for website.
func (inf *Inferrer) Infer(ctx context.Context, website string) (Result, error) {
	if strings.TrimSpace(website) == "" {
		return Result{Status: models.ProspectNoWebsite}, nil
	}
	domain, ok := ExtractDomain(website)
	if !ok {
		return Result{Status: models.ProspectNoEmail}, nil
	}

	for rank, local := range inf.patterns {
		candidate := local + "@" + domain
		suppressed, err := inf.checker.IsSuppressed(ctx, candidate)
		if err != nil {
			return Result{}, fmt.Errorf("infer %s: %w", domain, err)
		}
		if !suppressed {
			return Result{Status: models.ProspectEmailFound, Email: candidate, Rank: rank}, nil
		}
	}
	return Result{Status: models.ProspectNoEmail}, nil
}
