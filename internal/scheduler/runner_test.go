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

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/engine"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Tick(ctx context.Context) (engine.TickResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(engine.TickResult), args.Error(1)
}

func (m *mockEngine) SendNow(ctx context.Context, jobID string) (engine.SendNowResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(engine.SendNowResult), args.Error(1)
}

// memLocker is an in-process stand-in for the Redis lock.
type memLocker struct {
	mu       sync.Mutex
	held     bool
	releases int
	err      error
}

func (l *memLocker) TryLock(context.Context) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.releases++
		return nil
	}, true, nil
}

type skipCounter struct{ n atomic.Int32 }

func (s *skipCounter) ObserveTickSkipped() { s.n.Add(1) }

func TestRunOnce_ReleasesLock(t *testing.T) {
	eng := &mockEngine{}
	eng.On("Tick", mock.Anything).Return(engine.TickResult{Attempted: 2, Advanced: 1}, nil).Twice()
	locker := &memLocker{}
	r := NewRunner(Config{Engine: eng, Locker: locker})

	for i := 0; i < 2; i++ {
		res, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempted)
	}
	assert.Equal(t, 2, locker.releases)
	eng.AssertExpectations(t)
}

func TestRunOnce_SkipsWhileLocked(t *testing.T) {
	eng := &mockEngine{}
	locker := &memLocker{held: true}
	skips := &skipCounter{}
	r := NewRunner(Config{Engine: eng, Locker: locker, Observer: skips})

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	_, err = r.SendNow(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrTickInProgress)

	assert.Equal(t, int32(2), skips.n.Load())
	eng.AssertNotCalled(t, "Tick", mock.Anything)
}

func TestRunOnce_PropagatesErrors(t *testing.T) {
	eng := &mockEngine{}
	eng.On("Tick", mock.Anything).Return(engine.TickResult{}, errors.New("list active jobs: db down"))
	locker := &memLocker{}
	r := NewRunner(Config{Engine: eng, Locker: locker})

	_, err := r.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 1, locker.releases, "lock released after failure")

	r = NewRunner(Config{Engine: eng, Locker: &memLocker{err: errors.New("redis down")}})
	_, err = r.RunOnce(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestSendNow_UnderLock(t *testing.T) {
	eng := &mockEngine{}
	eng.On("SendNow", mock.Anything, "job-1").Return(engine.SendNowResult{Status: models.JobSending, Ran: true}, nil)
	locker := &memLocker{}
	r := NewRunner(Config{Engine: eng, Locker: locker})

	res, err := r.SendNow(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, 1, locker.releases)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	eng := &mockEngine{}
	var ticks atomic.Int32
	eng.On("Tick", mock.Anything).Run(func(mock.Arguments) { ticks.Add(1) }).Return(engine.TickResult{}, nil)
	r := NewRunner(Config{Engine: eng, Locker: &memLocker{}, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
