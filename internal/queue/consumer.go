// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/analysis/internal/models"
)

// Analyzer runs one email through the analysis pipeline. Returns true only
// if the terminal write succeeded.
type Analyzer interface {
	Process(ctx context.Context, email *models.EmailEvent, job *models.AnalysisJob) bool
}

// EmailLoader loads the mutable EmailEvent row for a job.
// A (nil, nil) return means the row is gone.
type EmailLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EmailEvent, error)
}

// streamClient is the slice of Redis commands the consumer uses.
// *redis.Client satisfies it.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

// Consumer is one member of the analysis consumer group. Each instance
// processes jobs strictly sequentially; horizontal scale comes from running
// more instances against the same group.
type Consumer struct {
	rdb      streamClient
	stream   string
	group    string
	consumer string

	store    EmailLoader
	analyzer Analyzer

	// blockWait bounds each group read so shutdown is noticed promptly.
	blockWait time.Duration
	// errPause is the breather after a top-level loop error.
	errPause time.Duration

	// Stale pending entries left by crashed consumers are claimed back
	// every reclaimInterval once idle longer than reclaimMinIdle.
	reclaimInterval time.Duration
	reclaimMinIdle  time.Duration
}

// NewConsumer creates a consumer with a unique instance identity.
func NewConsumer(rdb *redis.Client, stream, group string, store EmailLoader, analyzer Analyzer) *Consumer {
	return &Consumer{
		rdb:             rdb,
		stream:          stream,
		group:           group,
		consumer:        "worker-" + uuid.New().String()[:8],
		store:           store,
		analyzer:        analyzer,
		blockWait:       5 * time.Second,
		errPause:        time.Second,
		reclaimInterval: time.Minute,
		reclaimMinIdle:  15 * time.Minute,
	}
}

// SetReclaim overrides the pending-entry reclaim schedule. minIdle should
// stay above the sandbox poll budget so a live consumer is never robbed of
// its in-flight job.
func (c *Consumer) SetReclaim(interval, minIdle time.Duration) {
	c.reclaimInterval = interval
	c.reclaimMinIdle = minIdle
}

// Run blocks, consuming jobs until the context is cancelled. The loop never
// terminates on a single failure: errors are logged and followed by a short
// pause.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	slog.Info("analysis worker started",
		"consumer", c.consumer,
		"stream", c.stream,
		"group", c.group,
	)

	lastReclaim := time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(lastReclaim) >= c.reclaimInterval {
			c.reclaimStale(ctx)
			lastReclaim = time.Now()
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    c.blockWait,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // nothing delivered within the block window
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("worker loop error", "error", err)
			sleep(ctx, c.errPause)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.deliver(ctx, msg)
			}
		}
	}
}

// deliver processes one stream entry and acknowledges it when appropriate.
func (c *Consumer) deliver(ctx context.Context, msg redis.XMessage) {
	if c.handle(ctx, msg) {
		c.ack(ctx, msg.ID)
	}
}

// handle processes one entry and reports whether it should be acknowledged.
// Poison entries and references to missing rows are acknowledged so they
// never block the stream; processing failures are not, leaving the entry
// pending for redelivery.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) bool {
	job, err := parseJob(msg.Values)
	if err != nil {
		slog.Warn("discarding malformed job", "message_id", msg.ID, "error", err)
		return true
	}

	slog.Info("processing job", "message_id", msg.ID, "email_id", job.EmailID)

	email, err := c.store.GetByID(ctx, job.EmailID)
	if err != nil {
		slog.Error("failed to load email event", "email_id", job.EmailID, "error", err)
		return false
	}
	if email == nil {
		slog.Warn("email event not found, discarding job", "email_id", job.EmailID)
		return true
	}

	return c.analyzer.Process(ctx, email, job)
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		slog.Error("failed to acknowledge message", "message_id", messageID, "error", err)
		return
	}
	slog.Info("acknowledged message", "message_id", messageID)
}

// ensureGroup creates the stream and consumer group if needed.
// BUSYGROUP means another instance got there first — not an error.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	if err == nil {
		slog.Info("consumer group created", "stream", c.stream, "group", c.group)
	}
	return nil
}

// reclaimStale claims pending entries whose consumer has gone quiet for
// longer than the idle threshold, and runs them through the normal
// processing path. This is what makes a crashed-mid-job worker's entry
// eventually land on a live instance.
func (c *Consumer) reclaimStale(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.reclaimMinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("pending-entry reclaim failed", "error", err)
			}
			return
		}

		for _, msg := range msgs {
			slog.Info("reclaimed stale job", "message_id", msg.ID, "consumer", c.consumer)
			c.deliver(ctx, msg)
		}

		if len(msgs) == 0 || next == "0-0" {
			return
		}
		start = next
	}
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
