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

// Smart LeadMailer Pro: tick command
//
// Standalone CLI that runs the campaign engine outside the HTTP service,
// for system cron or one-off manual sends. It takes the same tick lock as
// the service, so it is safe to run alongside it.
//
// Usage:
//
//	go run ./cmd/tick/                 # one tick over every active job
//	go run ./cmd/tick/ --job <id>      # one sending batch for a single job
//	go run ./cmd/tick/ --loop          # tick every TICK_INTERVAL until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/app"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/config"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/scheduler"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	jobFlag := flag.String("job", "", "Run one sending batch for this job id instead of a full tick")
	loopFlag := flag.Bool("loop", false, "Keep ticking every TICK_INTERVAL until interrupted")
	flag.Parse()

	if *jobFlag != "" && *loopFlag {
		fmt.Fprintf(os.Stderr, "Error: --job and --loop are mutually exclusive\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.EqualFold(cfg.BaseURL, "auto") {
		slog.Error("BASE_URL=auto is only supported by the server")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	svc, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	code := run(ctx, svc.Runner, *jobFlag, *loopFlag)
	svc.Close()
	stop()
	os.Exit(code)
}

func run(ctx context.Context, runner *scheduler.Runner, jobID string, loop bool) int {
	switch {
	case loop:
		runner.Run(ctx)
		return 0

	case jobID != "":
		res, err := runner.SendNow(ctx, jobID)
		if err != nil {
			slog.Error("manual send failed", "job_id", jobID, "error", err)
			return 1
		}
		if !res.Ran {
			slog.Info("job is not sending, nothing to do", "job_id", jobID, "status", res.Status)
			return 0
		}
		slog.Info("manual send complete",
			"job_id", jobID,
			"sent", res.Batch.Sent,
			"failed", res.Batch.Failed,
			"bounced", res.Batch.Bounced,
			"skipped", res.Batch.Skipped,
		)
		return 0

	default:
		res, err := runner.RunOnce(ctx)
		if errors.Is(err, scheduler.ErrTickInProgress) {
			slog.Info("tick skipped, another instance is running")
			return 0
		}
		if err != nil {
			slog.Error("tick failed", "error", err)
			return 1
		}
		slog.Info("tick complete",
			"attempted", res.Attempted,
			"failed", res.Failed,
			"advanced", res.Advanced,
		)
		return 0
	}
}
