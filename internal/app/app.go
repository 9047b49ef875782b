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

// Package app connects to Postgres and Redis and wires the engine, its
// collaborators and the HTTP surface. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/api"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/config"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/dedup"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/engine"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/inference"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/lock"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/metrics"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/places"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/queue"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/scheduler"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/sender"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/store"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/suppression"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/unsubscribe"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/webhook"
)

// App holds the wired service.
type App struct {
	Runner *scheduler.Runner
	Router http.Handler

	pool *pgxpool.Pool
	rdb  *redis.Client
}

// New connects to the backing services and wires every component.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// --- Connect to PostgreSQL ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialise store: %w", err)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.EventsChannel)
	if err := publisher.Ping(ctx); err != nil {
		rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	slog.Info("connected to Redis")

	provider, err := newProvider(cfg)
	if err != nil {
		rdb.Close()
		pool.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	rec := metrics.Recorder{}
	ledger := suppression.NewLedger(st)

	eng := engine.New(engine.Config{
		Store: st,
		Finder: places.NewClient(places.Config{
			APIKey:            cfg.PlacesAPIKey,
			HTTPClient:        httpClient,
			RequestsPerSecond: cfg.PlacesRPS,
		}),
		Inferrer: inference.NewInferrer(ledger),
		Sender: sender.New(sender.Config{
			Provider: provider,
			Store:    st,
			Checker:  ledger,
			Limiter:  sender.NewLimiter(cfg.SendDelay),
			Identity: sender.Identity{
				FromEmail:     cfg.FromEmail,
				FromName:      cfg.FromName,
				Company:       cfg.Company,
				ReplyTo:       cfg.ReplyTo,
				PostalAddress: cfg.PostalAddress,
			},
			BaseURL:  cfg.BaseURL,
			Observer: rec,
		}),
		Notifier:       publisher,
		Observer:       rec,
		DiscoverBatch:  cfg.DiscoverBatch,
		SendBatch:      cfg.SendBatch,
		JobConcurrency: cfg.JobConcurrency,
	})

	runner := scheduler.NewRunner(scheduler.Config{
		Engine:   eng,
		Locker:   lock.New(rdb, lock.DefaultKey, cfg.LockTTL),
		Interval: cfg.TickInterval,
		Observer: rec,
	})

	hooks := webhook.NewHandler(webhook.Config{
		Store:        st,
		Ledger:       ledger,
		Unsubscriber: unsubscribe.NewService(st, ledger),
		Dedup:        dedup.NewFilter(rdb),
		Observer:     rec,
	})

	router := api.NewRouter(api.Config{
		Store:      st,
		Runner:     runner,
		Suppressor: ledger,
		Webhooks:   hooks,
		Events:     publisher,
		Health: map[string]api.Pinger{
			"postgres": st,
			"redis":    publisher,
		},
		CronSecret:  cfg.CronSecret,
		CORSOrigins: cfg.CORSOrigins,
	})

	slog.Info("service wired",
		"email_provider", provider.Name(),
		"job_concurrency", cfg.JobConcurrency,
		"send_delay", cfg.SendDelay,
	)

	return &App{Runner: runner, Router: router, pool: pool, rdb: rdb}, nil
}

func newProvider(cfg *config.Config) (sender.Provider, error) {
	switch cfg.EmailProvider {
	case config.ProviderSendGrid:
		return sender.NewSendGrid(sender.SendGridConfig{
			APIKey:     cfg.SendGridAPIKey,
			HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		}), nil
	case config.ProviderSMTP:
		return sender.NewSMTP(sender.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}

// Close releases the Redis and Postgres connections.
func (a *App) Close() {
	if err := a.rdb.Close(); err != nil {
		slog.Warn("failed to close Redis client", "error", err)
	}
	a.pool.Close()
}
