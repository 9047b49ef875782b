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
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/unsubscribe"
)

// Identity is who the outreach comes from.
type Identity struct {
	FromEmail string
	FromName  string
	Company   string
	ReplyTo   string
	// PostalAddress is printed in the footer when set.
	PostalAddress string
}

// Campaign is the per-job context used when composing.
type Campaign struct {
	JobID    string
	Niche    string
	Location string
}

type bodyData struct {
	BusinessName   string
	SenderName     string
	Company        string
	Blurb          string
	PostalAddress  string
	UnsubscribeURL string
}

var textBody = template.Must(template.New("text").Parse(`Hi {{.BusinessName}} team,

{{.Blurb}}

Would you be open to a quick 15-minute call this week?

Best,
{{.SenderName}}
{{.Company}}

--
You are receiving this because your business is publicly listed.
Unsubscribe with one click: {{.UnsubscribeURL}}
{{- if .PostalAddress}}
{{.PostalAddress}}
{{- end}}
`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;font-size:14px;color:#222">
<p>Hi {{.BusinessName}} team,</p>
<p>{{.Blurb}}</p>
<p>Would you be open to a quick 15-minute call this week?</p>
<p>Best,<br>{{.SenderName}}<br>{{.Company}}</p>
<hr>
<p style="font-size:12px;color:#777">You are receiving this because your business is publicly listed.
<a href="{{.UnsubscribeURL}}">Unsubscribe</a>{{if .PostalAddress}}<br>{{.PostalAddress}}{{end}}</p>
</body></html>
`))

// Blurb returns the service pitch for a niche.
func Blurb(company, niche, location string) string {
	niche = strings.TrimSpace(niche)
	if niche == "" {
		niche = "local"
	}
	pitch := fmt.Sprintf("At %s we help %s businesses", company, strings.ToLower(niche))
	if loc := strings.TrimSpace(location); loc != "" {
		pitch += " around " + loc
	}
	return pitch + " win more customers through targeted online marketing and review management."
}

// Compose builds the outreach message for one prospect.
func Compose(id Identity, c Campaign, p models.Prospect, baseURL string) (Message, error) {
	link := unsubscribe.Link(baseURL, p.ID, p.DiscoveredEmail)
	data := bodyData{
		BusinessName:   p.Name,
		SenderName:     id.FromName,
		Company:        id.Company,
		Blurb:          Blurb(id.Company, c.Niche, c.Location),
		PostalAddress:  id.PostalAddress,
		UnsubscribeURL: link,
	}

	var text, html bytes.Buffer
	if err := textBody.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlBody.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}

	return Message{
		FromEmail: id.FromEmail,
		FromName:  id.FromName,
		ReplyTo:   id.ReplyTo,
		To:        p.DiscoveredEmail,
		Subject:   fmt.Sprintf("Quick question for %s", p.Name),
		Text:      text.String(),
		HTML:      html.String(),
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + link + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
		CustomArgs: map[string]string{
			"prospect_id": p.ID,
			"job_id":      p.JobID,
		},
	}, nil
}
