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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://hybrid-analysis.com/api/v2"
	userAgent      = "MailShieldAI/1.0"

	// rateLimitCooldown is how long to back off after a vendor 429 before
	// giving up on the submission.
	rateLimitCooldown = 60 * time.Second
)

// defaultPollDelays gives the vendor roughly ten minutes to finish a job.
// The worker sleeps the full delay before each report request.
var defaultPollDelays = []time.Duration{
	30 * time.Second,
	60 * time.Second, 60 * time.Second, 60 * time.Second,
	60 * time.Second, 60 * time.Second, 60 * time.Second,
	60 * time.Second, 60 * time.Second, 60 * time.Second,
}

// Client talks to the Hybrid Analysis v2 HTTP API.
type Client struct {
	baseURL string
	apiKey  string

	// Submissions upload attachment content; report polls are small GETs.
	submitClient *http.Client
	pollClient   *http.Client

	pollDelays []time.Duration
	cooldown   time.Duration
}

// NewClient creates a sandbox client. An empty API key means sandboxing is
// unavailable: every submission is skipped and reported as "no job", so the
// caller falls through to the conservative unknown verdict.
func NewClient(apiKey string) *Client {
	return &Client{
		baseURL:      defaultBaseURL,
		apiKey:       apiKey,
		submitClient: &http.Client{Timeout: 30 * time.Second},
		pollClient:   &http.Client{Timeout: 10 * time.Second},
		pollDelays:   defaultPollDelays,
		cooldown:     rateLimitCooldown,
	}
}

// Submit sends the target to the vendor and returns the job id, or an empty
// id if the vendor did not accept the submission. A 429 response triggers
// the fixed cool-down before returning "no job".
func (c *Client) Submit(ctx context.Context, target Target) (string, error) {
	if c.apiKey == "" {
		slog.Warn("sandbox API key is not set, skipping submission")
		return "", nil
	}

	var (
		req *http.Request
		err error
	)

	switch {
	case len(target.Content) > 0:
		req, err = c.fileRequest(ctx, target)
	case target.URL != "":
		req, err = c.urlRequest(ctx, target.URL)
	default:
		return "", nil
	}
	if err != nil {
		slog.Error("failed to build sandbox submission", "error", err)
		return "", nil
	}

	resp, err := c.submitClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Error("sandbox submission failed", "error", err)
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("sandbox rate limit hit, backing off", "cooldown", c.cooldown)
		if err := sleep(ctx, c.cooldown); err != nil {
			return "", err
		}
		return "", nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("sandbox submission rejected",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return "", nil
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Error("failed to decode sandbox submission response", "error", err)
		return "", nil
	}

	slog.Info("submitted to sandbox", "job_id", result.JobID)
	return result.JobID, nil
}

func (c *Client) fileRequest(ctx context.Context, target Target) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", target.Filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(target.Content); err != nil {
		return nil, fmt.Errorf("write file content: %w", err)
	}
	if err := w.WriteField("environment_id", "100"); err != nil {
		return nil, err
	}
	if err := w.WriteField("allow_community_access", "true"); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit/file", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setAuthHeaders(req)
	return req, nil
}

func (c *Client) urlRequest(ctx context.Context, submitURL string) (*http.Request, error) {
	form := url.Values{
		"url":                    {submitURL},
		"environment_id":         {"100"},
		"allow_community_access": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit/url", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setAuthHeaders(req)
	return req, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("User-Agent", userAgent)
}

// Poll waits for the report on a fixed delay schedule. A 404 means the
// report is not ready yet; transient HTTP errors are logged and polling
// continues on schedule. Returns ErrReportTimeout once the schedule is
// exhausted without a SUCCESS state.
func (c *Client) Poll(ctx context.Context, jobID string) (*Report, error) {
	if jobID == "" {
		return nil, ErrReportTimeout
	}

	reportURL := fmt.Sprintf("%s/report/%s", c.baseURL, jobID)

	for _, delay := range c.pollDelays {
		slog.Info("waiting before polling sandbox report", "job_id", jobID, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}

		report, err := c.fetchReport(ctx, reportURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("sandbox report poll failed", "job_id", jobID, "error", err)
			continue
		}
		if report == nil {
			slog.Info("sandbox report not ready yet", "job_id", jobID)
			continue
		}

		if report.State == "SUCCESS" {
			slog.Info("sandbox report complete", "job_id", jobID, "verdict", report.Verdict)
			return report, nil
		}
		slog.Info("sandbox report not yet complete", "job_id", jobID, "state", report.State)
	}

	slog.Warn("sandbox report polling exhausted", "job_id", jobID)
	return nil, ErrReportTimeout
}

// fetchReport performs one report request. Returns (nil, nil) on 404.
func (c *Client) fetchReport(ctx context.Context, reportURL string) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)

	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("report endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read report body: %w", err)
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	report.Raw = body
	return &report, nil
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
