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

// Package dedup drops delivery events the provider has already posted.
// SendGrid retries webhook batches it believes failed, so the same
// sg_event_id can arrive more than once.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL covers SendGrid's 72 hour webhook retry window.
	DefaultTTL = 72 * time.Hour

	keyPrefix = "leadmailer:seen:"
)

// Filter remembers SendGrid sg_event_ids for DefaultTTL.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultTTL}
}

// IsNew claims an sg_event_id. It reports false when an earlier delivery
// of the same event already claimed it, so the caller skips the event.
// Events without an id cannot be deduplicated and are always new.
func (f *Filter) IsNew(ctx context.Context, sgEventID string) (bool, error) {
	if sgEventID == "" {
		return true, nil
	}
	claimed, err := f.rdb.SetNX(ctx, keyPrefix+sgEventID, time.Now().Unix(), f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", sgEventID, err)
	}
	return claimed, nil
}

// Forget clears an event ID so a provider retry is processed again. It is
// used when handling an event failed after IsNew marked it.
func (f *Filter) Forget(ctx context.Context, sgEventID string) error {
	if sgEventID == "" {
		return nil
	}
	if err := f.rdb.Del(ctx, keyPrefix+sgEventID).Err(); err != nil {
		return fmt.Errorf("release event %s: %w", sgEventID, err)
	}
	return nil
}
