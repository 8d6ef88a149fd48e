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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadFromEnvOnly verifies pure-env configuration with defaults.
func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://analysis:pw@localhost:5432/mailshield")
	t.Setenv("USE_REAL_SANDBOX", "true")
	t.Setenv("HYBRID_ANALYSIS_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DatabaseURL != "postgres://analysis:pw@localhost:5432/mailshield" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL default = %q", cfg.RedisURL)
	}
	if cfg.AnalysisStream != "email_analysis" {
		t.Errorf("AnalysisStream default = %q", cfg.AnalysisStream)
	}
	if cfg.ConsumerGroup != "analysis_workers" {
		t.Errorf("ConsumerGroup default = %q", cfg.ConsumerGroup)
	}
	if !cfg.UseRealSandbox {
		t.Error("UseRealSandbox = false, want true")
	}
	if cfg.SandboxAPIKey != "test-key" {
		t.Errorf("SandboxAPIKey = %q", cfg.SandboxAPIKey)
	}
	if cfg.ReclaimMinIdle != 15*time.Minute {
		t.Errorf("ReclaimMinIdle default = %v", cfg.ReclaimMinIdle)
	}
}

// TestLoadMissingDatabaseURL verifies that an unset database URL is fatal.
func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL, got none")
	}
}

// TestLoadYAMLWithEnvExpansion verifies ${VAR} expansion inside the YAML file
// and that YAML values take precedence over env fallbacks.
func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
database:
  url: postgres://worker@db:5432/mailshield
redis:
  url: redis://cache:6379/1
  streams:
    analysis: analysis_jobs
  group: workers
sandbox:
  api_key: ${TEST_SANDBOX_KEY}
  use_real: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TEST_SANDBOX_KEY", "expanded-secret")
	t.Setenv("DATABASE_URL", "postgres://should-not-win")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DatabaseURL != "postgres://worker@db:5432/mailshield" {
		t.Errorf("DatabaseURL = %q, want YAML value", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.AnalysisStream != "analysis_jobs" {
		t.Errorf("AnalysisStream = %q", cfg.AnalysisStream)
	}
	if cfg.ConsumerGroup != "workers" {
		t.Errorf("ConsumerGroup = %q", cfg.ConsumerGroup)
	}
	if cfg.SandboxAPIKey != "expanded-secret" {
		t.Errorf("SandboxAPIKey = %q, want env-expanded value", cfg.SandboxAPIKey)
	}
	if !cfg.UseRealSandbox {
		t.Error("UseRealSandbox = false, want true")
	}
}
