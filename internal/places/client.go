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

// Package places finds local businesses through the Google Geocoding and
// Places (searchText) APIs.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

const (
	DefaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
	DefaultSearchURL  = "https://places.googleapis.com/v1/places:searchText"

	// maxPageSize is the provider's hard per-request cap.
	maxPageSize = 20
	// maxRadiusMeters is the largest location bias the provider accepts.
	maxRadiusMeters = 50000

	fieldMask = "places.id,places.displayName,places.formattedAddress,places.websiteUri," +
		"places.nationalPhoneNumber,places.rating,places.userRatingCount,nextPageToken"
)

// ErrNoGeocodeResult is returned when the location cannot be resolved.
var ErrNoGeocodeResult = errors.New("geocoding returned no result")

// APIError is a non-success response from either API.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: HTTP %d, status %s: %s", e.Op, e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	APIKey     string
	GeocodeURL string
	SearchURL  string
	HTTPClient *http.Client
	// RequestsPerSecond paces calls to both APIs. Zero means 5.
	RequestsPerSecond float64
}

// Client is the business finder.
type Client struct {
	apiKey     string
	geocodeURL string
	searchURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a places client.
func NewClient(cfg Config) *Client {
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = DefaultGeocodeURL
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	return &Client{
		apiKey:     cfg.APIKey,
		geocodeURL: cfg.GeocodeURL,
		searchURL:  cfg.SearchURL,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Query describes one search.
type Query struct {
	Niche      string
	Location   string
	Country    string
	RadiusKm   int
	MaxResults int
}

// LatLng is a resolved coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Find returns up to q.MaxResults businesses matching the niche near the
// location. Errors on the first page fail the call; errors on later pages
// end pagination with what has been collected.
func (c *Client) Find(ctx context.Context, q Query) ([]models.Business, error) {
	if q.MaxResults <= 0 {
		return nil, nil
	}

	center, err := c.Geocode(ctx, q.Location, q.Country)
	if err != nil {
		return nil, err
	}

	radius := q.RadiusKm * 1000
	if radius > maxRadiusMeters {
		radius = maxRadiusMeters
	}
	textQuery := fmt.Sprintf("%s in %s", q.Niche, q.Location)

	var (
		out       []models.Business
		seen      = make(map[string]bool)
		pageToken string
	)
	for page := 0; len(out) < q.MaxResults; page++ {
		size := min(maxPageSize, q.MaxResults-len(out))
		resp, err := c.searchPage(ctx, textQuery, center, radius, size, pageToken)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			slog.Warn("places continuation page failed, keeping partial results",
				"page", page,
				"collected", len(out),
				"error", err,
			)
			break
		}

		for _, p := range resp.Places {
			if p.ID != "" && seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p.business())
		}

		if resp.NextPageToken == "" || len(resp.Places) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	slog.Info("places search complete",
		"query", textQuery,
		"radius_m", radius,
		"results", len(out),
	)
	return out, nil
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location LatLng `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves a location string, restricted to country when set.
func (c *Client) Geocode(ctx context.Context, location, country string) (LatLng, error) {
	params := url.Values{}
	params.Set("address", location)
	params.Set("key", c.apiKey)
	if country != "" {
		params.Set("components", "country:"+country)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return LatLng{}, fmt.Errorf("geocode rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.geocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return LatLng{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LatLng{}, fmt.Errorf("geocode %q: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return LatLng{}, &APIError{Op: "geocode", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var gr geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return LatLng{}, fmt.Errorf("decode geocode response: %w", err)
	}

	switch gr.Status {
	case "OK":
	case "ZERO_RESULTS":
		return LatLng{}, fmt.Errorf("%w for %q", ErrNoGeocodeResult, location)
	default:
		return LatLng{}, &APIError{Op: "geocode", StatusCode: resp.StatusCode, Status: gr.Status, Body: gr.ErrorMessage}
	}
	if len(gr.Results) == 0 {
		return LatLng{}, fmt.Errorf("%w for %q", ErrNoGeocodeResult, location)
	}
	return gr.Results[0].Geometry.Location, nil
}

type searchRequest struct {
	TextQuery    string       `json:"textQuery"`
	PageSize     int          `json:"pageSize"`
	PageToken    string       `json:"pageToken,omitempty"`
	LocationBias locationBias `json:"locationBias"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"center"`
	Radius float64 `json:"radius"`
}

type searchResponse struct {
	Places        []place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

type place struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress    string   `json:"formattedAddress"`
	WebsiteURI          string   `json:"websiteUri"`
	NationalPhoneNumber string   `json:"nationalPhoneNumber"`
	Rating              *float64 `json:"rating"`
	UserRatingCount     *int     `json:"userRatingCount"`
}

func (p place) business() models.Business {
	return models.Business{
		PlaceID:     p.ID,
		Name:        p.DisplayName.Text,
		Address:     p.FormattedAddress,
		Website:     NormalizeWebsite(p.WebsiteURI),
		Phone:       p.NationalPhoneNumber,
		Rating:      p.Rating,
		ReviewCount: p.UserRatingCount,
	}
}

func (c *Client) searchPage(ctx context.Context, textQuery string, center LatLng, radius, size int, pageToken string) (*searchResponse, error) {
	body := searchRequest{TextQuery: textQuery, PageSize: size, PageToken: pageToken}
	body.LocationBias.Circle.Center.Latitude = center.Lat
	body.LocationBias.Circle.Center.Longitude = center.Lng
	body.LocationBias.Circle.Radius = float64(radius)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search places: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{Op: "searchText", StatusCode: resp.StatusCode, Body: string(b)}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &sr, nil
}

// NormalizeWebsite reduces a URL to scheme://hostname. Values that do not
// parse as an absolute URL are returned trimmed but otherwise unchanged.
func NormalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return raw
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Hostname())
}
