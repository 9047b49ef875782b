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

// Package queue publishes job lifecycle events to Redis. Each event is
// sent on a pub/sub channel for live dashboards and pushed onto a capped
// list so late consumers can read recent history.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

// DefaultHistory is how many events the history list keeps.
const DefaultHistory = 1000

// Publisher sends job events to Redis.
type Publisher struct {
	rdb     *redis.Client
	channel string
	history int64
}

// NewPublisher creates a publisher for channel. The history list is stored
// under "<channel>:history".
func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{
		rdb:     rdb,
		channel: channel,
		history: DefaultHistory,
	}
}

// envelope is the wire format consumers decode.
type envelope struct {
	Type  string          `json:"type"`
	Event models.JobEvent `json:"event"`
}

// PublishJobEvent serialises ev and publishes it in one pipeline.
func (p *Publisher) PublishJobEvent(ctx context.Context, ev models.JobEvent) error {
	payload, err := json.Marshal(envelope{Type: "job.status_changed", Event: ev})
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	historyKey := p.channel + ":history"
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.LPush(ctx, historyKey, payload)
		pipe.LTrim(ctx, historyKey, 0, p.history-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish job event: %w", err)
	}

	slog.Debug("published job event",
		"job_id", ev.JobID,
		"from", ev.From,
		"to", ev.To,
		"channel", p.channel,
	)
	return nil
}

// Recent returns up to n of the newest events, newest first.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]models.JobEvent, error) {
	raw, err := p.rdb.LRange(ctx, p.channel+":history", 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE: %w", err)
	}
	events := make([]models.JobEvent, 0, len(raw))
	for _, r := range raw {
		var env envelope
		if err := json.Unmarshal([]byte(r), &env); err != nil {
			slog.Warn("skipping undecodable job event", "error", err)
			continue
		}
		events = append(events, env.Event)
	}
	return events, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
