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

// Package store provides the Postgres-backed EmailEvent store. The worker
// only ever loads one row by id and writes its terminal analysis state.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/analysis/internal/models"
)

// Store provides EmailEvent persistence in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an EmailEvent store backed by the given Postgres pool.
// It ensures the email_events table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure email_events schema: %w", err)
	}
	slog.Info("email event store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_events (
			id             UUID PRIMARY KEY,
			sender         TEXT NOT NULL,
			recipient      TEXT NOT NULL,
			subject        TEXT NOT NULL DEFAULT '',
			body_preview   TEXT DEFAULT '',
			message_id     TEXT DEFAULT '',
			spf_status     TEXT DEFAULT '',
			dkim_status    TEXT DEFAULT '',
			dmarc_status   TEXT DEFAULT '',
			sender_ip      TEXT DEFAULT '',
			attachment_info JSONB,
			status         TEXT NOT NULL DEFAULT 'PENDING',
			risk_score     INT,
			risk_tier      TEXT,
			sandbox_result JSONB,
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			updated_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_email_events_status ON email_events(status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_email_events_message_id
			ON email_events(message_id) WHERE message_id <> '';
	`)
	return err
}

// GetByID loads one email event. Returns (nil, nil) if the row is gone.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.EmailEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sender, recipient, subject, body_preview, message_id,
		       spf_status, dkim_status, dmarc_status, sender_ip,
		       attachment_info, status, risk_score, risk_tier,
		       sandbox_result, created_at, updated_at
		FROM email_events
		WHERE id = $1
	`, id)
	return scanEmail(row)
}

// SaveAnalysis writes a terminal analysis in one statement: sandbox result,
// risk score and tier, status, and the updated_at bump. The sandbox result
// is replaced wholesale.
func (s *Store) SaveAnalysis(ctx context.Context, email *models.EmailEvent) error {
	var resultJSON []byte
	if email.SandboxResult != nil {
		var err error
		resultJSON, err = json.Marshal(email.SandboxResult)
		if err != nil {
			return fmt.Errorf("marshal sandbox result: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE email_events
		SET status = $1, risk_score = $2, risk_tier = $3,
		    sandbox_result = $4, updated_at = NOW()
		WHERE id = $5
	`, email.Status, email.RiskScore, email.RiskTier, resultJSON, email.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email event %s no longer exists", email.ID)
	}
	return nil
}

// MarkFailed records a terminal FAILED status without touching the rest of
// the row.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_events
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, models.StatusFailed, id)
	return err
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// scanEmail scans a single row into an EmailEvent.
func scanEmail(row pgx.Row) (*models.EmailEvent, error) {
	var (
		e              models.EmailEvent
		attachmentJSON []byte
		resultJSON     []byte
	)
	err := row.Scan(
		&e.ID, &e.Sender, &e.Recipient, &e.Subject, &e.BodyPreview, &e.MessageID,
		&e.SPFStatus, &e.DKIMStatus, &e.DMARCStatus, &e.SenderIP,
		&attachmentJSON, &e.Status, &e.RiskScore, &e.RiskTier,
		&resultJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(attachmentJSON) > 0 {
		if err := json.Unmarshal(attachmentJSON, &e.AttachmentInfo); err != nil {
			return nil, fmt.Errorf("decode attachment_info: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		e.SandboxResult = &models.SandboxResult{}
		if err := json.Unmarshal(resultJSON, e.SandboxResult); err != nil {
			return nil, fmt.Errorf("decode sandbox_result: %w", err)
		}
	}
	return &e, nil
}
