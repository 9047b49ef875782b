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
	"time"

	"golang.org/x/time/rate"
)

// DefaultSendDelay keeps sends under the provider's ~10 req/s ceiling.
const DefaultSendDelay = 100 * time.Millisecond

// Limiter gates each send. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter returns a limiter that admits one send per delay with no burst,
// so no two sends start within the same window.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// NoDelay admits every send immediately.
type NoDelay struct{}

// Wait returns ctx's error if it is already done.
func (NoDelay) Wait(ctx context.Context) error { return ctx.Err() }
