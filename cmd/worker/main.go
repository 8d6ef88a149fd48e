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

// MailShield — Analysis Worker
//
// Entry point for the asynchronous analysis worker. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Selects the real sandbox client or the simulator
//  4. Joins the analysis consumer group and processes jobs sequentially
//  5. Serves a health check endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/google"

	"github.com/bcem/analysis/internal/analysis"
	"github.com/bcem/analysis/internal/config"
	"github.com/bcem/analysis/internal/gmail"
	"github.com/bcem/analysis/internal/queue"
	"github.com/bcem/analysis/internal/sandbox"
	"github.com/bcem/analysis/internal/store"
)

const gmailReadScope = "https://www.googleapis.com/auth/gmail.readonly"

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting MailShield analysis worker")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"stream", cfg.AnalysisStream,
		"group", cfg.ConsumerGroup,
		"real_sandbox", cfg.UseRealSandbox,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	emailStore, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise email event store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Mail Provider Client ---
	// Attachment fetching needs application default credentials. Without
	// them the worker still runs; attachments are just unavailable.
	var fetcher analysis.AttachmentFetcher
	if gmailClient, err := google.DefaultClient(ctx, gmailReadScope); err != nil {
		slog.Warn("gmail credentials unavailable, attachment fetching disabled", "error", err)
	} else {
		fetcher = gmail.NewFetcher(gmailClient, "")
	}

	// --- Sandbox Scanner ---
	// The simulator is strictly a dev-mode toggle. In real mode a missing
	// API key means sandboxing is unavailable: the client skips every
	// submission and affected emails complete with the unknown fallback.
	var scanner sandbox.Scanner
	if !cfg.UseRealSandbox {
		slog.Info("real sandboxing disabled, using simulator")
		scanner = sandbox.NewSimulator()
	} else {
		if cfg.SandboxAPIKey == "" {
			slog.Warn("HYBRID_ANALYSIS_API_KEY is not set, sandbox submissions will be skipped")
		}
		scanner = sandbox.NewClient(cfg.SandboxAPIKey)
	}

	// --- Orchestrator + Consumer ---
	orchestrator := analysis.NewOrchestrator(emailStore, fetcher, scanner)
	consumer := queue.NewConsumer(rdb, cfg.AnalysisStream, cfg.ConsumerGroup, emailStore, orchestrator)
	consumer.SetReclaim(cfg.ReclaimInterval, cfg.ReclaimMinIdle)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := emailStore.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // unblocks the consumer loop

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	// --- Run the consumer loop (blocks until shutdown) ---
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "error", err)
		rdb.Close()
		os.Exit(1)
	}

	rdb.Close()
	slog.Info("analysis worker stopped")
}
