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
)

// Message is a fully composed outbound email.
type Message struct {
	FromEmail string
	FromName  string
	ReplyTo   string
	To        string
	Subject   string
	Text      string
	HTML      string
	Headers   map[string]string
	// CustomArgs are echoed back by providers that support them in
	// delivery events.
	CustomArgs map[string]string
}

// Provider dispatches one message and returns the provider's message id.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// ProviderError is a rejection reported by a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	// Permanent is true when retrying the same message cannot succeed.
	Permanent bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s rejected message (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsPermanent reports whether err is a permanent provider rejection.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}
