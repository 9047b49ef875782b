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

// Package sanitize validates and normalises campaign input before a job is
// created.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

const (
	DefaultCountry       = "US"
	DefaultRadiusKm      = 10
	DefaultMaxBusinesses = 100

	minRadiusKm      = 1
	maxRadiusKm      = 50
	minMaxBusinesses = 1
	maxMaxBusinesses = 1000
)

var (
	zipRe     = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	countryRe = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// JobInput is the raw job-creation payload.
type JobInput struct {
	Niche         string `json:"niche"`
	Location      string `json:"location"`
	Country       string `json:"country"`
	RadiusKm      int    `json:"radiusKm"`
	MaxBusinesses int    `json:"maxBusinesses"`
}

// ValidationError is a single rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Job validates in and returns the normalised configuration. Text fields
// are rejected when invalid; numeric fields and the country fall back to
// defaults or are clamped into range.
func Job(in JobInput) (models.JobConfig, []ValidationError) {
	var errs []ValidationError

	niche := strings.Join(strings.Fields(in.Niche), " ")
	switch n := utf8.RuneCountInString(niche); {
	case n == 0:
		errs = append(errs, ValidationError{"niche", "is required"})
	case n < 2:
		errs = append(errs, ValidationError{"niche", "must have at least 2 characters"})
	case n > 50:
		errs = append(errs, ValidationError{"niche", "must not exceed 50 characters"})
	}

	location := strings.Join(strings.Fields(in.Location), " ")
	if !zipRe.MatchString(location) {
		switch n := utf8.RuneCountInString(location); {
		case n == 0:
			errs = append(errs, ValidationError{"location", "is required"})
		case n < 2:
			errs = append(errs, ValidationError{"location", "must be a ZIP code or at least 2 characters"})
		case n > 100:
			errs = append(errs, ValidationError{"location", "must not exceed 100 characters"})
		}
	}

	if len(errs) > 0 {
		return models.JobConfig{}, errs
	}

	return models.JobConfig{
		Niche:         niche,
		Location:      location,
		Country:       Country(in.Country),
		RadiusKm:      clamp(in.RadiusKm, DefaultRadiusKm, minRadiusKm, maxRadiusKm),
		MaxBusinesses: clamp(in.MaxBusinesses, DefaultMaxBusinesses, minMaxBusinesses, maxMaxBusinesses),
	}, nil
}

// Country upper-cases a two-letter code, or returns DefaultCountry.
func Country(code string) string {
	code = strings.TrimSpace(code)
	if !countryRe.MatchString(code) {
		return DefaultCountry
	}
	return strings.ToUpper(code)
}

// clamp treats zero as unset.
func clamp(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	return max(lo, min(v, hi))
}
