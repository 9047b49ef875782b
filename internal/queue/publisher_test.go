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

package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

func TestEnvelope_WireFormat(t *testing.T) {
	ev := models.JobEvent{JobID: "j-1", From: models.JobDraft, To: models.JobProspecting, At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	b, err := json.Marshal(envelope{Type: "job.status_changed", Event: ev})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"job.status_changed","event":{"job_id":"j-1","from":"draft","to":"prospecting","at":"2026-01-02T03:04:05Z"}}`, string(b))
}

func TestPublisher_PublishAndRecent(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	channel := "test:jobs:" + uuid.NewString()
	defer rdb.Del(ctx, channel+":history")

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	p := NewPublisher(rdb, channel)
	p.history = 2
	for _, to := range []models.JobStatus{models.JobProspecting, models.JobDiscovering, models.JobSending} {
		require.NoError(t, p.PublishJobEvent(ctx, models.JobEvent{JobID: "j-1", To: to, At: time.Now().UTC()}))
	}

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"to":"prospecting"`)

	recent, err := p.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "history is capped")
	assert.Equal(t, models.JobSending, recent[0].To)
}
