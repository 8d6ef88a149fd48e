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

package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Simulator stands in for the vendor when no API key is configured or
// USE_REAL_SANDBOX is off. It accepts every submission and reports a
// benign verdict after a short dwell, exercising the same normalize path
// as the real client.
type Simulator struct {
	dwell time.Duration
}

// NewSimulator creates a simulator with a two second dwell time.
func NewSimulator() *Simulator {
	return &Simulator{dwell: 2 * time.Second}
}

// Submit fabricates a job id for any target.
func (s *Simulator) Submit(ctx context.Context, target Target) (string, error) {
	jobID := "simulated-" + uuid.New().String()
	slog.Info("simulated sandbox submission", "job_id", jobID, "filename", target.Filename, "url", target.URL)
	return jobID, nil
}

// Poll waits out the dwell and returns a clean SUCCESS report.
func (s *Simulator) Poll(ctx context.Context, jobID string) (*Report, error) {
	if err := sleep(ctx, s.dwell); err != nil {
		return nil, err
	}

	report := &Report{
		State:       "SUCCESS",
		Verdict:     "no_specific_threat",
		ThreatScore: 10,
	}
	report.Raw, _ = json.Marshal(map[string]any{
		"state":        report.State,
		"verdict":      report.Verdict,
		"threat_score": report.ThreatScore,
		"simulated":    true,
		"job_id":       jobID,
	})
	return report, nil
}
