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

package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bcem/analysis/internal/models"
)

// fakeRow feeds scripted column values through the pgx.Row interface.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan targets = %d, row has %d columns", len(dest), len(r.vals))
	}
	for i, v := range r.vals {
		if v == nil {
			continue // NULL column, leave the zero value
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

// rowFor lays out an EmailEvent in the column order scanEmail reads.
func rowFor(e *models.EmailEvent, attachmentJSON, resultJSON []byte) fakeRow {
	return fakeRow{vals: []any{
		e.ID, e.Sender, e.Recipient, e.Subject, e.BodyPreview, e.MessageID,
		e.SPFStatus, e.DKIMStatus, e.DMARCStatus, e.SenderIP,
		attachmentJSON, e.Status, e.RiskScore, e.RiskTier,
		resultJSON, e.CreatedAt, e.UpdatedAt,
	}}
}

// TestScanEmailRoundTrip verifies the sandbox result and attachment JSON
// written by SaveAnalysis decode back into the same structures — the
// schema-level round trip of the two JSONB columns.
func TestScanEmailRoundTrip(t *testing.T) {
	score := 70
	tier := models.TierThreat
	now := time.Now().UTC().Truncate(time.Microsecond)

	want := &models.EmailEvent{
		ID:          uuid.New(),
		Sender:      "attacker@evil.example",
		Recipient:   "victim@corp.example",
		Subject:     "Invoice",
		BodyPreview: "please open",
		MessageID:   "provider-msg-1",
		SPFStatus:   "fail",
		DKIMStatus:  "none",
		DMARCStatus: "fail",
		SenderIP:    "203.0.113.9",
		AttachmentInfo: []models.AttachmentMetadata{
			{Filename: "invoice.exe", MimeType: "application/octet-stream", Size: 4096, AttachmentID: "att-1"},
		},
		Status:    models.StatusCompleted,
		RiskScore: &score,
		RiskTier:  &tier,
		SandboxResult: &models.SandboxResult{
			Verdict:   models.VerdictMalicious,
			Score:     88,
			Details:   "Hybrid Analysis verdict: malicious",
			RawReport: json.RawMessage(`{"state":"SUCCESS","verdict":"malicious"}`),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Marshal the JSONB columns exactly the way SaveAnalysis and the
	// ingestion side do.
	attachmentJSON, err := json.Marshal(want.AttachmentInfo)
	if err != nil {
		t.Fatal(err)
	}
	resultJSON, err := json.Marshal(want.SandboxResult)
	if err != nil {
		t.Fatal(err)
	}

	got, err := scanEmail(rowFor(want, attachmentJSON, resultJSON))
	if err != nil {
		t.Fatalf("scanEmail: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

// TestScanEmailNullColumns verifies a freshly ingested row: NULL JSONB
// columns and unset risk fields stay nil.
func TestScanEmailNullColumns(t *testing.T) {
	pending := &models.EmailEvent{
		ID:        uuid.New(),
		Sender:    "a@example.com",
		Recipient: "b@example.com",
		Status:    models.StatusPending,
	}

	got, err := scanEmail(rowFor(pending, nil, nil))
	if err != nil {
		t.Fatalf("scanEmail: %v", err)
	}
	if got.AttachmentInfo != nil || got.SandboxResult != nil {
		t.Errorf("JSONB fields not nil: %+v", got)
	}
	if got.RiskScore != nil || got.RiskTier != nil {
		t.Errorf("risk fields not nil: %+v", got)
	}
}

// TestScanEmailNoRows verifies a missing row yields (nil, nil).
func TestScanEmailNoRows(t *testing.T) {
	got, err := scanEmail(fakeRow{err: pgx.ErrNoRows})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

// TestScanEmailCorruptJSON verifies decode failures surface as errors
// rather than half-populated events.
func TestScanEmailCorruptJSON(t *testing.T) {
	e := &models.EmailEvent{ID: uuid.New(), Status: models.StatusCompleted}

	if _, err := scanEmail(rowFor(e, []byte("{broken"), nil)); err == nil {
		t.Error("expected error for corrupt attachment_info")
	}
	if _, err := scanEmail(rowFor(e, nil, []byte("{broken"))); err == nil {
		t.Error("expected error for corrupt sandbox_result")
	}
}
