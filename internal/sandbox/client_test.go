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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bcem/analysis/internal/models"
)

// testClient points a Client at a test server with millisecond schedules.
func testClient(srv *httptest.Server) *Client {
	c := NewClient("test-key")
	c.baseURL = srv.URL
	c.cooldown = time.Millisecond
	c.pollDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return c
}

// TestSubmitFile verifies the multipart submission and job id decoding.
func TestSubmitFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submit/file" {
			t.Errorf("path = %q, want /submit/file", r.URL.Path)
		}
		if got := r.Header.Get("api-key"); got != "test-key" {
			t.Errorf("api-key header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("environment_id"); got != "100" {
			t.Errorf("environment_id = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "payload.exe" {
			t.Errorf("filename = %q", header.Filename)
		}
		w.Write([]byte(`{"job_id": "job-123"}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	jobID, err := c.Submit(context.Background(), Target{Content: []byte("MZ"), Filename: "payload.exe"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-123" {
		t.Errorf("jobID = %q, want job-123", jobID)
	}
}

// TestSubmitURL verifies the form-encoded URL submission.
func TestSubmitURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submit/url" {
			t.Errorf("path = %q, want /submit/url", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("url"); got != "http://evil.example/x" {
			t.Errorf("url = %q", got)
		}
		w.Write([]byte(`{"job_id": "job-url-1"}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	jobID, err := c.Submit(context.Background(), Target{URL: "http://evil.example/x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-url-1" {
		t.Errorf("jobID = %q, want job-url-1", jobID)
	}
}

// TestSubmitRateLimited verifies a 429 backs off and yields no job, not an error.
func TestSubmitRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv)
	jobID, err := c.Submit(context.Background(), Target{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "" {
		t.Errorf("jobID = %q, want empty on rate limit", jobID)
	}
}

// TestSubmitServerError verifies non-2xx responses yield no job.
func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv)
	jobID, err := c.Submit(context.Background(), Target{Content: []byte("x"), Filename: "a.bin"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "" {
		t.Errorf("jobID = %q, want empty on server error", jobID)
	}
}

// TestSubmitWithoutAPIKey verifies a key-less client skips the vendor
// entirely and reports no job, so the caller lands on the unknown fallback
// rather than a fabricated clean verdict.
func TestSubmitWithoutAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("vendor should not be called without an API key")
	}))
	defer srv.Close()

	c := testClient(srv)
	c.apiKey = ""

	jobID, err := c.Submit(context.Background(), Target{Content: []byte("MZ"), Filename: "a.exe"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "" {
		t.Errorf("jobID = %q, want empty when sandboxing is unavailable", jobID)
	}
}

// TestSubmitEmptyTarget verifies an empty target is never sent to the vendor.
func TestSubmitEmptyTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("vendor should not be called for an empty target")
	}))
	defer srv.Close()

	c := testClient(srv)
	jobID, err := c.Submit(context.Background(), Target{})
	if err != nil || jobID != "" {
		t.Errorf("Submit(empty) = (%q, %v), want (\"\", nil)", jobID, err)
	}
}

// TestPollNotReadyThenSuccess verifies 404 means "not ready" and that a
// SUCCESS state terminates polling.
func TestPollNotReadyThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report/job-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		calls++
		switch calls {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		case 2:
			w.Write([]byte(`{"state": "IN_PROGRESS"}`))
		default:
			w.Write([]byte(`{"state": "SUCCESS", "verdict": "malicious", "threat_score": 95}`))
		}
	}))
	defer srv.Close()

	c := testClient(srv)
	report, err := c.Poll(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if report.Verdict != "malicious" || report.ThreatScore != 95 {
		t.Errorf("report = %+v", report)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestPollToleratesTransientErrors verifies a 5xx does not abort the schedule.
func TestPollToleratesTransientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "transient", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"state": "SUCCESS", "verdict": "no_specific_threat", "threat_score": 5}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	report, err := c.Poll(context.Background(), "job-5")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if report.State != "SUCCESS" {
		t.Errorf("state = %q", report.State)
	}
}

// TestPollTimeout verifies schedule exhaustion returns ErrReportTimeout.
func TestPollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv)
	report, err := c.Poll(context.Background(), "job-never")
	if !errors.Is(err, ErrReportTimeout) {
		t.Fatalf("err = %v, want ErrReportTimeout", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
}

// TestPollCancellation verifies context cancellation aborts between sleeps.
func TestPollCancellation(t *testing.T) {
	c := NewClient("k")
	c.pollDelays = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Poll(ctx, "job-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestNormalize covers the verdict mapping and the timeout fallback.
func TestNormalize(t *testing.T) {
	t.Run("timeout fallback", func(t *testing.T) {
		got := Normalize(nil)
		if got.Verdict != models.VerdictUnknown || got.Score != 50 || !got.TimedOut {
			t.Errorf("Normalize(nil) = %+v, want unknown/50/timed_out", got)
		}
		// Idempotent: the fallback is fixed.
		if again := Normalize(nil); again.Verdict != got.Verdict || again.Score != got.Score || again.TimedOut != got.TimedOut {
			t.Errorf("Normalize(nil) not stable: %+v vs %+v", got, again)
		}
	})

	t.Run("vendor verdicts", func(t *testing.T) {
		tests := []struct {
			vendor string
			score  int
			want   models.Verdict
		}{
			{"malicious", 90, models.VerdictMalicious},
			{"suspicious", 60, models.VerdictSuspicious},
			{"no_specific_threat", 5, models.VerdictClean},
			{"whitelisted", 0, models.VerdictClean},
			{"weird_state", 40, models.VerdictUnknown},
		}

		for _, tt := range tests {
			got := Normalize(&Report{State: "SUCCESS", Verdict: tt.vendor, ThreatScore: tt.score})
			if got.Verdict != tt.want {
				t.Errorf("verdict %q -> %q, want %q", tt.vendor, got.Verdict, tt.want)
			}
			if got.Score != tt.score {
				t.Errorf("score %d passed through as %d", tt.score, got.Score)
			}
			if got.TimedOut {
				t.Errorf("timed_out = true for completed report %q", tt.vendor)
			}
		}
	})
}

// TestSimulator verifies the simulated path yields a clean SUCCESS report.
func TestSimulator(t *testing.T) {
	s := NewSimulator()
	s.dwell = time.Millisecond

	jobID, err := s.Submit(context.Background(), Target{Content: []byte("x"), Filename: "a.exe"})
	if err != nil || jobID == "" {
		t.Fatalf("Submit = (%q, %v)", jobID, err)
	}

	report, err := s.Poll(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	result := Normalize(report)
	if result.Verdict != models.VerdictClean {
		t.Errorf("verdict = %q, want clean", result.Verdict)
	}
	if result.TimedOut {
		t.Error("timed_out = true for simulated report")
	}
}
