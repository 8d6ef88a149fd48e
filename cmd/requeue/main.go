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

// MailShield — Requeue Command
//
// Standalone CLI tool that re-enqueues a stored email for analysis. Useful
// after an outage or when a record finished FAILED: the job snapshot is
// rebuilt from the stored attachment metadata.
//
// Usage:
//
//	go run ./cmd/requeue/ --email <uuid> [--urls http://a,http://b]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/analysis/internal/config"
	"github.com/bcem/analysis/internal/models"
	"github.com/bcem/analysis/internal/queue"
	"github.com/bcem/analysis/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	emailFlag := flag.String("email", "", "EmailEvent id to requeue (required)")
	urlsFlag := flag.String("urls", "", "Comma-separated extracted URLs to include in the job snapshot")
	flag.Parse()

	if *emailFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --email is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	emailID, err := uuid.Parse(*emailFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --email %q: %v\n", *emailFlag, err)
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	emailStore, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise email event store", "error", err)
		os.Exit(1)
	}

	email, err := emailStore.GetByID(ctx, emailID)
	if err != nil {
		slog.Error("failed to load email event", "email_id", emailID, "error", err)
		os.Exit(1)
	}
	if email == nil {
		slog.Error("email event not found", "email_id", emailID)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.AnalysisStream)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	job := &models.AnalysisJob{
		EmailID:     email.ID,
		MessageID:   email.MessageID,
		Attachments: email.AttachmentInfo,
	}
	if *urlsFlag != "" {
		for _, u := range strings.Split(*urlsFlag, ",") {
			if u = strings.TrimSpace(u); u != "" {
				job.ExtractedURLs = append(job.ExtractedURLs, u)
			}
		}
	}

	if err := publisher.Enqueue(ctx, job); err != nil {
		slog.Error("failed to enqueue job", "email_id", email.ID, "error", err)
		os.Exit(1)
	}

	slog.Info("email requeued for analysis",
		"email_id", email.ID,
		"attachments", len(job.Attachments),
		"urls", len(job.ExtractedURLs),
	)
}
