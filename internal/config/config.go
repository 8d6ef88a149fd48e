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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the analysis worker.
type Config struct {
	// Storage
	DatabaseURL string

	// Redis
	RedisURL       string
	AnalysisStream string
	ConsumerGroup  string

	// Sandbox vendor
	SandboxAPIKey  string
	UseRealSandbox bool

	// Pending-entry reclaim
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL     string `yaml:"url"`
		Streams struct {
			Analysis string `yaml:"analysis"`
		} `yaml:"streams"`
		Group string `yaml:"group"`
	} `yaml:"redis"`
	Sandbox struct {
		APIKey  string `yaml:"api_key"`
		UseReal bool   `yaml:"use_real"`
	} `yaml:"sandbox"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. The config file is optional —
// a pure-env deployment is valid — but a database URL must come from one of
// the two sources.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Fall through to environment variables only.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL:     firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		AnalysisStream:  firstNonEmpty(raw.Redis.Streams.Analysis, envOrDefault("ANALYSIS_STREAM", "email_analysis")),
		ConsumerGroup:   firstNonEmpty(raw.Redis.Group, envOrDefault("CONSUMER_GROUP", "analysis_workers")),
		SandboxAPIKey:   firstNonEmpty(raw.Sandbox.APIKey, os.Getenv("HYBRID_ANALYSIS_API_KEY")),
		UseRealSandbox:  raw.Sandbox.UseReal || envOrDefaultBool("USE_REAL_SANDBOX", false),
		ReclaimInterval: envOrDefaultDuration("RECLAIM_INTERVAL", time.Minute),
		ReclaimMinIdle:  envOrDefaultDuration("RECLAIM_MIN_IDLE", 15*time.Minute),
		Port:            envOrDefaultInt("PORT", 8080),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set — configure the PostgreSQL connection")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
