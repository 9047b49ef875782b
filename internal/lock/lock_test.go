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

package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedis connects to TEST_REDIS_URL or skips the test.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	key := "test:lock:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, key) })

	a := New(rdb, key, time.Minute)
	b := New(rdb, key, time.Minute)

	unlock, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	require.NoError(t, unlock(ctx))

	unlockB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlockB(ctx))
}

func TestLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	rdb := testRedis(t)
	key := "test:lock:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, key) })

	l := New(rdb, key, time.Minute)
	staleUnlock, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry followed by a new holder.
	require.NoError(t, rdb.Del(ctx, key).Err())
	freshUnlock, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleUnlock(ctx))
	exists, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "stale token must not delete the new lease")

	require.NoError(t, freshUnlock(ctx))
}

func TestNew_Defaults(t *testing.T) {
	l := New(nil, "", 0)
	assert.Equal(t, DefaultKey, l.key)
	assert.Equal(t, DefaultTTL, l.ttl)
}
