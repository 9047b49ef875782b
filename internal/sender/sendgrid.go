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

package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultSendGridURL is the v3 API root.
const DefaultSendGridURL = "https://api.sendgrid.com"

// SendGridConfig configures the SendGrid provider.
type SendGridConfig struct {
	APIKey  string
	BaseURL string
	// HTTPClient is the base client; the bearer token is layered on top.
	HTTPClient *http.Client
}

// SendGrid sends through the SendGrid v3 mail/send endpoint.
type SendGrid struct {
	client  *http.Client
	baseURL string
}

// NewSendGrid creates a SendGrid provider authenticated with the API key.
func NewSendGrid(cfg SendGridConfig) *SendGrid {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSendGridURL
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.APIKey,
		TokenType:   "Bearer",
	}))
	client.Timeout = base.Timeout

	return &SendGrid{client: client, baseURL: strings.TrimRight(cfg.BaseURL, "/")}
}

func (s *SendGrid) Name() string { return "sendgrid" }

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Headers          map[string]string   `json:"headers,omitempty"`
	CustomArgs       map[string]string   `json:"custom_args,omitempty"`
}

// Send posts msg and returns the X-Message-Id header.
func (s *SendGrid) Send(ctx context.Context, msg Message) (string, error) {
	body := sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.To}}}},
		From:             sgAddress{Email: msg.FromEmail, Name: msg.FromName},
		Subject:          msg.Subject,
		Headers:          msg.Headers,
		CustomArgs:       msg.CustomArgs,
	}
	if msg.ReplyTo != "" {
		body.ReplyTo = &sgAddress{Email: msg.ReplyTo}
	}
	if msg.Text != "" {
		body.Content = append(body.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		body.Content = append(body.Content, sgContent{Type: "text/html", Value: msg.HTML})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal sendgrid mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build sendgrid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &ProviderError{
			Provider:   s.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(b)),
			Permanent:  resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests,
		}
	}

	return resp.Header.Get("X-Message-Id"), nil
}
