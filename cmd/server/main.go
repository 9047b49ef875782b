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

// Smart LeadMailer Pro: outreach service
//
// Entry point for the HTTP service. It:
//  1. Loads configuration from defaults, config.yaml, .env and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Wires the campaign engine, webhook handlers and API router
//  4. Optionally runs the in-process tick scheduler
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/app"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/config"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting leadmailer service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// --- Resolve public base URL ---
	cfg.BaseURL = resolveBaseURL(cfg.BaseURL)
	if cfg.BaseURL == "" {
		slog.Error("BASE_URL could not be resolved; unsubscribe links need a public endpoint")
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"base_url", cfg.BaseURL,
		"email_provider", cfg.EmailProvider,
		"scheduler_enabled", cfg.SchedulerEnabled,
		"tick_interval", cfg.TickInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start service", "error", err)
		os.Exit(1)
	}

	if cfg.SchedulerEnabled {
		go svc.Runner.Run(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      svc.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // cron ticks run inside the request
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the scheduler

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("leadmailer service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		svc.Close()
		os.Exit(1)
	}

	svc.Close()
	slog.Info("leadmailer service stopped")
}

// resolveBaseURL resolves the public base URL from config.
//
//   - "auto" → discover the public URL from a local ngrok container
//   - Any other string → use as-is, without a trailing slash
func resolveBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.ToLower(raw) != "auto" {
		return strings.TrimRight(raw, "/")
	}

	// Auto-discover from ngrok's local API.
	ngrokAPI := os.Getenv("NGROK_API_URL")
	if ngrokAPI == "" {
		ngrokAPI = "http://ngrok:4040"
	}

	slog.Info("discovering base URL from ngrok", "api", ngrokAPI)

	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		url, err := ngrokTunnel(client, ngrokAPI)
		if err == nil {
			slog.Info("ngrok tunnel discovered", "url", url)
			return url
		}
		lastErr = err
		slog.Debug("ngrok not ready, retrying",
			"attempt", attempt+1,
			"error", err,
		)
		time.Sleep(2 * time.Second)
	}

	slog.Error("failed to discover ngrok tunnel", "error", lastErr)
	return ""
}

// ngrokTunnel returns the https tunnel if there is one, else the first.
func ngrokTunnel(client *http.Client, ngrokAPI string) (string, error) {
	resp, err := client.Get(ngrokAPI + "/api/tunnels")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Tunnels []struct {
			PublicURL string `json:"public_url"`
			Proto     string `json:"proto"`
		} `json:"tunnels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	for _, t := range result.Tunnels {
		if t.Proto == "https" {
			return t.PublicURL, nil
		}
	}
	if len(result.Tunnels) > 0 {
		return result.Tunnels[0].PublicURL, nil
	}
	return "", fmt.Errorf("no tunnels found")
}
