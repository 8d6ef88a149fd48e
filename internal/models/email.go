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

// Package models defines the data structures shared across the analysis worker.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the processing lifecycle state of an EmailEvent.
// It only moves forward: PENDING → PROCESSING → COMPLETED or FAILED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// RiskTier is the coarse display bucket derived from the static risk score.
type RiskTier string

const (
	TierSafe     RiskTier = "SAFE"
	TierCautious RiskTier = "CAUTIOUS"
	TierThreat   RiskTier = "THREAT"
)

// Verdict is the final classification of scanned content. Vendor report
// strings are mapped onto this set once, in VerdictFromVendor — nothing
// downstream compares raw vendor strings.
type Verdict string

const (
	VerdictClean      Verdict = "clean"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
	VerdictUnknown    Verdict = "unknown"
)

// VerdictFromVendor maps a Hybrid Analysis verdict string to the internal
// verdict set. Anything unrecognised falls back to unknown.
func VerdictFromVendor(raw string) Verdict {
	switch raw {
	case "malicious":
		return VerdictMalicious
	case "suspicious":
		return VerdictSuspicious
	case "no_specific_threat", "whitelisted":
		return VerdictClean
	default:
		return VerdictUnknown
	}
}

// AttachmentMetadata describes one attachment as captured at ingestion time.
// AttachmentID is the mail provider's opaque handle used to fetch the bytes.
type AttachmentMetadata struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// SandboxResult is the normalized outcome of one analysis attempt. It is
// written wholesale to the email_events.sandbox_result column — never merged.
type SandboxResult struct {
	Verdict   Verdict         `json:"verdict"`
	Score     int             `json:"score"`
	Details   string          `json:"details"`
	RawReport json.RawMessage `json:"raw_report,omitempty"`
	TimedOut  bool            `json:"timed_out"`
}

// EmailEvent is the durable record of one ingested email and its analysis
// state. Storage owns the row across attempts; during one processing pass
// the orchestrator is the sole writer.
type EmailEvent struct {
	ID          uuid.UUID
	Sender      string
	Recipient   string
	Subject     string
	BodyPreview string
	MessageID   string // provider message id, used for dedup at ingestion

	// Header authentication results captured at ingestion, if any.
	SPFStatus   string
	DKIMStatus  string
	DMARCStatus string
	SenderIP    string

	AttachmentInfo []AttachmentMetadata

	Status        Status
	RiskScore     *int
	RiskTier      *RiskTier
	SandboxResult *SandboxResult

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnalysisJob is one queued unit of work. It carries the ingestion-time
// snapshot of attachment metadata and extracted URLs so the worker never
// re-reads those fields from storage — only the mutable EmailEvent row.
type AnalysisJob struct {
	EmailID       uuid.UUID
	MessageID     string
	Attachments   []AttachmentMetadata
	ExtractedURLs []string
}
