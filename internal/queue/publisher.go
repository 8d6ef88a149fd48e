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
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/analysis/internal/models"
)

// Publisher appends analysis jobs to the stream. The ingestion service is
// the usual producer; the worker ships this half for the requeue tool and
// for integration testing against a local stack.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

// NewPublisher creates a publisher targeting the given stream.
func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	return &Publisher{
		rdb:    rdb,
		stream: stream,
	}
}

// Enqueue appends one job to the analysis stream.
func (p *Publisher) Enqueue(ctx context.Context, job *models.AnalysisJob) error {
	values, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis XADD: %w", err)
	}

	slog.Info("enqueued analysis job",
		"message_id", id,
		"email_id", job.EmailID,
		"stream", p.stream,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
