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

// Package queue consumes analysis jobs from a Redis Stream consumer group
// and drives the orchestrator. This is the bridge between ingestion and
// the analysis worker fleet.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bcem/analysis/internal/models"
)

// Stream entry fields. Attachment descriptors travel as a JSON array of
// individually serialized descriptor strings, matching what ingestion
// captured at enqueue time.
const (
	fieldEmailID     = "email_id"
	fieldMessageID   = "message_id"
	fieldAttachments = "attachment_metadata"
	fieldURLs        = "extracted_urls"
)

// parseJob decodes one stream entry into an AnalysisJob. Any malformed
// field is an error — the caller treats the entry as poison and discards it.
func parseJob(values map[string]interface{}) (*models.AnalysisJob, error) {
	rawID, ok := values[fieldEmailID].(string)
	if !ok || rawID == "" {
		return nil, fmt.Errorf("missing %s field", fieldEmailID)
	}
	emailID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("malformed email id %q: %w", rawID, err)
	}

	job := &models.AnalysisJob{EmailID: emailID}

	if s, ok := values[fieldMessageID].(string); ok {
		job.MessageID = s
	}

	if s, ok := values[fieldAttachments].(string); ok && s != "" {
		var encoded []string
		if err := json.Unmarshal([]byte(s), &encoded); err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldAttachments, err)
		}
		for _, raw := range encoded {
			var att models.AttachmentMetadata
			if err := json.Unmarshal([]byte(raw), &att); err != nil {
				return nil, fmt.Errorf("parse attachment descriptor: %w", err)
			}
			job.Attachments = append(job.Attachments, att)
		}
	}

	if s, ok := values[fieldURLs].(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &job.ExtractedURLs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldURLs, err)
		}
	}

	return job, nil
}

// encodeJob is the inverse of parseJob, used when publishing.
func encodeJob(job *models.AnalysisJob) (map[string]interface{}, error) {
	values := map[string]interface{}{
		fieldEmailID: job.EmailID.String(),
	}
	if job.MessageID != "" {
		values[fieldMessageID] = job.MessageID
	}

	if len(job.Attachments) > 0 {
		encoded := make([]string, 0, len(job.Attachments))
		for _, att := range job.Attachments {
			raw, err := json.Marshal(att)
			if err != nil {
				return nil, fmt.Errorf("marshal attachment descriptor: %w", err)
			}
			encoded = append(encoded, string(raw))
		}
		list, err := json.Marshal(encoded)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", fieldAttachments, err)
		}
		values[fieldAttachments] = string(list)
	}

	if len(job.ExtractedURLs) > 0 {
		urls, err := json.Marshal(job.ExtractedURLs)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", fieldURLs, err)
		}
		values[fieldURLs] = string(urls)
	}

	return values, nil
}
