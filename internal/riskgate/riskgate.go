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

// Package riskgate scores an email's static indicators to decide whether
// sandbox detonation is warranted. Pure and deterministic — no I/O.
package riskgate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bcem/analysis/internal/models"
)

// riskyExtensions are file extensions that always trigger sandboxing.
var riskyExtensions = map[string]bool{
	".exe": true,
	".scr": true,
	".vbs": true,
	".js":  true,
	".bat": true,
	".iso": true,
	".dll": true,
	".ps1": true,
}

// lowRiskReason is the sentinel reason when no rule fired.
const lowRiskReason = "Low static risk"

// Input is the structured view of an email the gate evaluates.
type Input struct {
	Attachments []models.AttachmentMetadata
	URLCount    int
}

// Evaluate applies the static risk heuristic.
// Returns (shouldSandbox, reason, score) with score clamped to [0, 100].
func Evaluate(in Input) (bool, string, int) {
	score := 0
	var reasons []string
	shouldSandbox := false

	for _, att := range in.Attachments {
		ext := strings.ToLower(filepath.Ext(att.Filename))
		if riskyExtensions[ext] {
			score += 70
			reasons = append(reasons, fmt.Sprintf("Risky extension %s", ext))
			shouldSandbox = true
		} else if att.MimeType == "application/zip" {
			score += 30
			reasons = append(reasons, "Archive attachment")
			shouldSandbox = true // inspecting zips is standard
		}
	}

	if in.URLCount > 0 {
		score += 10 // presence of URLs
		if in.URLCount > 3 {
			score += 20
			reasons = append(reasons, "Many URLs")
			shouldSandbox = true
		}
	}

	if score > 100 {
		score = 100
	}

	reason := lowRiskReason
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	// Fail-safe: a high aggregate score sandboxes even if no single rule did.
	if score > 50 {
		shouldSandbox = true
	}

	return shouldSandbox, reason, score
}

// TierForScore buckets a risk score for display.
func TierForScore(score int) models.RiskTier {
	switch {
	case score >= 70:
		return models.TierThreat
	case score >= 30:
		return models.TierCautious
	default:
		return models.TierSafe
	}
}
