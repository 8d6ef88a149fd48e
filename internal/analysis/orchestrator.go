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

// Package analysis runs one email through the scanning pipeline: static
// risk gate, attachment retrieval, sandbox detonation, and the terminal
// write back to storage.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/analysis/internal/models"
	"github.com/bcem/analysis/internal/riskgate"
	"github.com/bcem/analysis/internal/sandbox"
)

// AttachmentFetcher retrieves raw attachment bytes from the mail provider.
// A (nil, nil) return means the attachment is gone.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// EmailStore persists terminal analysis state.
type EmailStore interface {
	SaveAnalysis(ctx context.Context, email *models.EmailEvent) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// OutcomeKind classifies how a detonation pass ended.
type OutcomeKind int

const (
	// OutcomeScanned: the vendor produced a report.
	OutcomeScanned OutcomeKind = iota
	// OutcomeNoContent: nothing scannable, vendor never called.
	OutcomeNoContent
	// OutcomeSubmissionFailed: the vendor did not accept the submission.
	OutcomeSubmissionFailed
	// OutcomeTimedOut: the poll schedule was exhausted.
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeScanned:
		return "scanned"
	case OutcomeNoContent:
		return "no_content"
	case OutcomeSubmissionFailed:
		return "submission_failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one detonation pass. Result always carries the
// sandbox verdict to persist, whatever the kind.
type Outcome struct {
	Kind   OutcomeKind
	Result models.SandboxResult
}

// Orchestrator owns the in-flight EmailEvent row during a single processing
// attempt. One pass, no internal retries — redelivery happens at the queue.
type Orchestrator struct {
	store   EmailStore
	fetcher AttachmentFetcher
	scanner sandbox.Scanner
}

// NewOrchestrator wires the analysis pipeline. fetcher may be nil when no
// mail provider credentials are available; attachment targets are then
// skipped in favour of URLs.
func NewOrchestrator(store EmailStore, fetcher AttachmentFetcher, scanner sandbox.Scanner) *Orchestrator {
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		scanner: scanner,
	}
}

// Process runs one email through the pipeline and persists the terminal
// state. Returns true only if the terminal write succeeded; on any failure
// the record is marked FAILED (best effort) and false is returned so the
// job stays pending for redelivery.
func (o *Orchestrator) Process(ctx context.Context, email *models.EmailEvent, job *models.AnalysisJob) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis pass panicked", "email_id", email.ID, "panic", r)
			o.markFailed(ctx, email.ID)
			ok = false
		}
	}()

	slog.Info("starting sandbox analysis", "email_id", email.ID)

	shouldSandbox, reason, score := riskgate.Evaluate(riskgate.Input{
		Attachments: job.Attachments,
		URLCount:    len(job.ExtractedURLs),
	})
	tier := riskgate.TierForScore(score)
	slog.Info("static risk evaluated",
		"email_id", email.ID,
		"score", score,
		"tier", tier,
		"should_sandbox", shouldSandbox,
		"reason", reason,
	)

	outcome := o.detonate(ctx, email.ID, job)
	if outcome.Kind != OutcomeScanned {
		slog.Warn("analysis completed without a vendor report",
			"email_id", email.ID,
			"outcome", outcome.Kind,
		)
	}

	result := outcome.Result
	email.Status = models.StatusCompleted
	email.RiskScore = &score
	email.RiskTier = &tier
	email.SandboxResult = &result
	email.UpdatedAt = time.Now().UTC()

	if err := o.store.SaveAnalysis(ctx, email); err != nil {
		slog.Error("failed to persist analysis result", "email_id", email.ID, "error", err)
		o.markFailed(ctx, email.ID)
		return false
	}

	slog.Info("sandbox analysis completed",
		"email_id", email.ID,
		"verdict", result.Verdict,
		"score", result.Score,
	)
	return true
}

// detonate selects a scan target and runs it through the sandbox.
func (o *Orchestrator) detonate(ctx context.Context, emailID uuid.UUID, job *models.AnalysisJob) Outcome {
	target, found := o.selectTarget(ctx, job)
	if !found {
		slog.Warn("no scannable content found", "email_id", emailID)
		return Outcome{
			Kind: OutcomeNoContent,
			Result: models.SandboxResult{
				Verdict: models.VerdictClean,
				Score:   0,
				Details: "No scannable content",
			},
		}
	}

	jobID, err := o.scanner.Submit(ctx, target)
	if err != nil {
		slog.Error("sandbox submission aborted", "email_id", emailID, "error", err)
	}
	if err != nil || jobID == "" {
		return Outcome{
			Kind: OutcomeSubmissionFailed,
			Result: models.SandboxResult{
				Verdict: models.VerdictUnknown,
				Score:   50,
				Details: "Failed to submit for analysis",
			},
		}
	}

	report, err := o.scanner.Poll(ctx, jobID)
	if err != nil {
		// Timeout or cancellation — the conservative fallback, never clean.
		return Outcome{Kind: OutcomeTimedOut, Result: sandbox.Normalize(nil)}
	}

	return Outcome{Kind: OutcomeScanned, Result: sandbox.Normalize(report)}
}

// selectTarget prefers attachments over URLs: attachments are tried in
// order and the first one that fetches wins, without fetching the rest.
// A single unreachable attachment never aborts the pass.
func (o *Orchestrator) selectTarget(ctx context.Context, job *models.AnalysisJob) (sandbox.Target, bool) {
	if job.MessageID != "" && o.fetcher != nil {
		for _, att := range job.Attachments {
			if att.AttachmentID == "" {
				continue
			}
			content, err := o.fetcher.FetchAttachment(ctx, job.MessageID, att.AttachmentID)
			if err != nil {
				slog.Error("failed to fetch attachment",
					"filename", att.Filename,
					"message_id", job.MessageID,
					"error", err,
				)
				continue
			}
			if len(content) == 0 {
				slog.Warn("attachment unavailable", "filename", att.Filename, "message_id", job.MessageID)
				continue
			}
			slog.Info("prioritizing attachment for scanning", "filename", att.Filename)
			return sandbox.Target{Content: content, Filename: att.Filename}, true
		}
	}

	if len(job.ExtractedURLs) > 0 {
		url := job.ExtractedURLs[0]
		slog.Info("no suitable attachment, scanning first URL", "url", url)
		return sandbox.Target{URL: url}, true
	}

	return sandbox.Target{}, false
}

func (o *Orchestrator) markFailed(ctx context.Context, id uuid.UUID) {
	if err := o.store.MarkFailed(ctx, id); err != nil {
		slog.Error("failed to persist FAILED status", "email_id", id, "error", err)
	}
}
