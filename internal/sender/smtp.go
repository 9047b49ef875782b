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
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPConfig configures the SMTP provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTP sends through a relay using gomail.
type SMTP struct {
	dial func() (gomail.SendCloser, error)
}

// NewSMTP creates an SMTP provider.
func NewSMTP(cfg SMTPConfig) *SMTP {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTP{dial: d.Dial}
}

func (s *SMTP) Name() string { return "smtp" }

// Send delivers msg over a fresh connection and returns the generated
// Message-ID without angle brackets.
func (s *SMTP) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := uuid.NewString() + "@" + senderDomain(msg.FromEmail)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", "<"+messageID+">")
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	sc, err := s.dial()
	if err != nil {
		return "", fmt.Errorf("smtp dial: %w", err)
	}
	defer sc.Close()

	if err := sc.Send(msg.FromEmail, []string{msg.To}, m); err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) {
			return "", &ProviderError{
				Provider:   s.Name(),
				StatusCode: tpErr.Code,
				Message:    tpErr.Msg,
				Permanent:  tpErr.Code >= 500 && tpErr.Code < 600,
			}
		}
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return messageID, nil
}

func senderDomain(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		return email[at+1:]
	}
	return "localhost"
}
