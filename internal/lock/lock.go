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

// Package lock provides a Redis-backed mutual exclusion lock so that only
// one tick runs at a time across every server and CLI instance.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block other ticks.
	DefaultTTL = 10 * time.Minute

	// DefaultKey is the lock key used for scheduler ticks.
	DefaultKey = "leadmailer:lock:tick"
)

// releaseScript deletes the key only if it still holds our token, so a
// holder whose lease expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker acquires a single named lock.
type Locker struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// New creates a locker for key. A zero ttl uses DefaultTTL.
func New(rdb *redis.Client, key string, ttl time.Duration) *Locker {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{rdb: rdb, key: key, ttl: ttl}
}

// TryLock attempts to take the lock without waiting. When acquired is true
// the caller must invoke unlock when done.
func (l *Locker) TryLock(ctx context.Context) (unlock func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock SETNX %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", l.key, err)
		}
		return nil
	}
	return unlock, true, nil
}
