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

// Package config loads configuration from built-in defaults, an optional
// config.yaml, a .env file and environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderSendGrid = "sendgrid"
	ProviderSMTP     = "smtp"

	defaultConfigPath = "config.yaml"
)

// Config holds all configuration for the service and the tick CLI.
type Config struct {
	// Storage
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`

	// HTTP
	Port        int           `yaml:"port" env:"PORT"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"` // public root for unsubscribe links, or "auto"
	CORSOrigins []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	CronSecret  string        `yaml:"cron_secret" env:"CRON_SECRET"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`

	// Places
	PlacesAPIKey string  `yaml:"places_api_key" env:"GOOGLE_PLACES_API_KEY"`
	PlacesRPS    float64 `yaml:"places_rps" env:"PLACES_RPS"`

	// Email
	EmailProvider  string        `yaml:"email_provider" env:"EMAIL_PROVIDER"`
	SendGridAPIKey string        `yaml:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	SMTPHost       string        `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort       int           `yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUsername   string        `yaml:"smtp_username" env:"SMTP_USERNAME"`
	SMTPPassword   string        `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	SendDelay      time.Duration `yaml:"send_delay" env:"SEND_DELAY"`

	// Sender identity
	FromEmail     string `yaml:"from_email" env:"FROM_EMAIL"`
	FromName      string `yaml:"from_name" env:"FROM_NAME"`
	Company       string `yaml:"company" env:"COMPANY_NAME"`
	ReplyTo       string `yaml:"reply_to" env:"REPLY_TO"`
	PostalAddress string `yaml:"postal_address" env:"POSTAL_ADDRESS"`

	// Engine
	SchedulerEnabled bool          `yaml:"scheduler_enabled" env:"SCHEDULER_ENABLED"`
	TickInterval     time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	LockTTL          time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	JobConcurrency   int           `yaml:"job_concurrency" env:"JOB_CONCURRENCY"`
	DiscoverBatch    int           `yaml:"discover_batch" env:"DISCOVER_BATCH"`
	SendBatch        int           `yaml:"send_batch" env:"SEND_BATCH"`

	// EventsChannel is the Redis pub/sub channel for job status events.
	EventsChannel string `yaml:"events_channel" env:"EVENTS_CHANNEL"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RedisURL:       "redis://localhost:6379/0",
		Port:           8080,
		CORSOrigins:    []string{"*"},
		HTTPTimeout:    30 * time.Second,
		PlacesRPS:      5,
		EmailProvider:  ProviderSendGrid,
		SMTPPort:       587,
		SendDelay:      100 * time.Millisecond,
		TickInterval:   2 * time.Minute,
		LockTTL:        10 * time.Minute,
		JobConcurrency: 4,
		DiscoverBatch:  50,
		SendBatch:      10,
		EventsChannel:  "leadmailer:jobs",
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()

	configPath := os.Getenv("CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = defaultConfigPath
	}
	if err := loadFile(configPath, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.EmailProvider = strings.ToLower(strings.TrimSpace(cfg.EmailProvider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	require(c.DatabaseURL, "DATABASE_URL")
	require(c.PlacesAPIKey, "GOOGLE_PLACES_API_KEY")
	require(c.BaseURL, "BASE_URL")
	require(c.FromEmail, "FROM_EMAIL")

	switch c.EmailProvider {
	case ProviderSendGrid:
		require(c.SendGridAPIKey, "SENDGRID_API_KEY")
	case ProviderSMTP:
		require(c.SMTPHost, "SMTP_HOST")
		if c.SMTPPort <= 0 {
			errs = append(errs, errors.New("SMTP_PORT must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER %q is not one of %s, %s", c.EmailProvider, ProviderSendGrid, ProviderSMTP))
	}

	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.JobConcurrency <= 0 {
		errs = append(errs, errors.New("JOB_CONCURRENCY must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
