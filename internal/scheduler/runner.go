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

// Package scheduler triggers engine ticks, either periodically in-process
// or on demand from the cron endpoint and CLI. Every trigger goes through
// the same distributed lock so ticks never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/engine"
)

// DefaultInterval is the recommended time between ticks.
const DefaultInterval = 2 * time.Minute

// ErrTickInProgress is returned when another tick holds the lock.
var ErrTickInProgress = errors.New("tick already in progress")

// Engine is the work the runner triggers.
type Engine interface {
	Tick(ctx context.Context) (engine.TickResult, error)
	SendNow(ctx context.Context, jobID string) (engine.SendNowResult, error)
}

// Locker takes a non-blocking lock. lock.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, acquired bool, err error)
}

// Observer is told about ticks skipped because of the lock.
type Observer interface {
	ObserveTickSkipped()
}

// Config configures a Runner.
type Config struct {
	Engine   Engine
	Locker   Locker
	Interval time.Duration
	Observer Observer // optional
}

// Runner serialises tick and manual-send triggers.
type Runner struct {
	engine   Engine
	locker   Locker
	interval time.Duration
	observer Observer
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Runner{
		engine:   cfg.Engine,
		locker:   cfg.Locker,
		interval: cfg.Interval,
		observer: cfg.Observer,
	}
}

// RunOnce runs a single tick under the lock.
func (r *Runner) RunOnce(ctx context.Context) (engine.TickResult, error) {
	var res engine.TickResult
	err := r.locked(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.engine.Tick(ctx)
		return err
	})
	return res, err
}

// SendNow runs a manual send for one job under the tick lock.
func (r *Runner) SendNow(ctx context.Context, jobID string) (engine.SendNowResult, error) {
	var res engine.SendNowResult
	err := r.locked(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.engine.SendNow(ctx, jobID)
		return err
	})
	return res, err
}

func (r *Runner) locked(ctx context.Context, fn func(context.Context) error) error {
	unlock, ok, err := r.locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		if r.observer != nil {
			r.observer.ObserveTickSkipped()
		}
		return ErrTickInProgress
	}
	defer func() {
		// Release even if ctx was cancelled mid-tick.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			slog.Warn("failed to release tick lock", "error", err)
		}
	}()
	return fn(ctx)
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("scheduler starting", "interval", r.interval)

	r.runLogged(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping")
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	_, err := r.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrTickInProgress):
		slog.Info("tick skipped, another instance is running")
	default:
		slog.Error("tick failed", "error", err)
	}
}
