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

// Package sandbox submits suspicious content to the Hybrid Analysis
// detonation service, polls for the report, and normalizes the vendor's
// verdict into the internal shape.
package sandbox

import (
	"context"
	"errors"

	"github.com/bcem/analysis/internal/models"
)

// ErrReportTimeout is returned by Poll when the delay schedule is exhausted
// without the vendor reaching a SUCCESS state.
var ErrReportTimeout = errors.New("sandbox report polling timed out")

// Target is the one artifact chosen for detonation: either raw attachment
// bytes (with the original filename) or a URL, never both.
type Target struct {
	Content  []byte
	Filename string
	URL      string
}

// Report is the decoded vendor report for a completed job.
type Report struct {
	State       string `json:"state"`
	Verdict     string `json:"verdict"`
	ThreatScore int    `json:"threat_score"`

	// Raw is the full vendor payload, kept for the stored result.
	Raw []byte `json:"-"`
}

// Scanner is the detonation interface the orchestrator depends on.
// Client talks to the real vendor; Simulator fabricates clean reports.
//
// Submit returns an empty job id when the vendor did not accept the
// submission (rate limit, request failure) — that is a normal outcome,
// not an error. The error return is reserved for context cancellation.
type Scanner interface {
	Submit(ctx context.Context, target Target) (string, error)
	Poll(ctx context.Context, jobID string) (*Report, error)
}

// Normalize maps a vendor report into the stable internal verdict. A nil
// report means polling timed out: the conservative fallback is an unknown
// verdict at mid-range score, never clean.
func Normalize(report *Report) models.SandboxResult {
	if report == nil {
		return models.SandboxResult{
			Verdict:  models.VerdictUnknown,
			Score:    50,
			Details:  "Sandbox analysis timed out or failed to retrieve report.",
			TimedOut: true,
		}
	}

	return models.SandboxResult{
		Verdict:   models.VerdictFromVendor(report.Verdict),
		Score:     report.ThreatScore,
		Details:   "Hybrid Analysis verdict: " + report.Verdict,
		RawReport: report.Raw,
		TimedOut:  false,
	}
}
