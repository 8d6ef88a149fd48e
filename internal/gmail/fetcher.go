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

// Package gmail retrieves attachment content from the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultBaseURL is the Gmail API endpoint for the authenticated mailbox.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// Fetcher retrieves raw attachment bytes given provider identifiers.
// The http.Client must carry OAuth credentials (gmail.readonly scope).
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
}

// NewFetcher creates a Gmail attachment fetcher. An empty baseURL selects
// the production endpoint.
func NewFetcher(httpClient *http.Client, baseURL string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// FetchAttachment retrieves and decodes one attachment body.
// Returns (nil, nil) when the provider no longer has the attachment.
func (f *Fetcher) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	url := fmt.Sprintf("%s/users/me/messages/%s/attachments/%s", f.baseURL, messageID, attachmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("attachment not found (may have been deleted)",
			"message_id", messageID,
			"attachment_id", attachmentID,
		)
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gmail API returned HTTP %d for attachment %s", resp.StatusCode, attachmentID)
	}

	var body struct {
		Size int    `json:"size"`
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode attachment response: %w", err)
	}
	if body.Data == "" {
		return nil, fmt.Errorf("no data in attachment response for %s", attachmentID)
	}

	// Gmail returns web-safe base64, with or without padding.
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(body.Data, "="))
	if err != nil {
		return nil, fmt.Errorf("decode attachment data: %w", err)
	}

	slog.Info("fetched attachment",
		"message_id", messageID,
		"attachment_id", attachmentID,
		"bytes", len(data),
	)
	return data, nil
}
