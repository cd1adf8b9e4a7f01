package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	yamlConfig := `
concurrency:
  limit: 8
queue:
  limit: 500
cache:
  limit: 2000
  ttl: 45m
logging:
  level: debug
  max_days: 7
model:
  provider: openai
  name: gpt-4
  api_key: test-key
  endpoint: https://api.openai.com/v1
`

	cfg, err := Load(strings.NewReader(yamlConfig))
	if err != nil {
		t.Fatalf("Failed to load valid config: %v", err)
	}

	if cfg.Concurrency.Limit != 8 {
		t.Errorf("unexpected concurrency limit: got %d, want %d", cfg.Concurrency.Limit, 8)
	}
	if cfg.Queue.Limit != 500 {
		t.Errorf("unexpected queue limit: got %d, want %d", cfg.Queue.Limit, 500)
	}
	if cfg.Cache.TTL != 45*time.Minute {
		t.Errorf("unexpected cache ttl: got %v, want %v", cfg.Cache.TTL, 45*time.Minute)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: got %s, want %s", cfg.Logging.Level, "debug")
	}
	if cfg.Model.Provider != "openai" {
		t.Errorf("unexpected provider: got %s, want %s", cfg.Model.Provider, "openai")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name: "invalid log level",
			config: `
logging:
  level: invalid
`,
			want: "invalid log level",
		},
		{
			name: "provider without api key",
			config: `
model:
  provider: openai
`,
			want: "configured without MODEL_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.config))
			if err == nil {
				t.Error("expected error, got nil")
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("unexpected error: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Concurrency.Limit != 5 {
		t.Errorf("unexpected default concurrency limit: got %d, want %d", cfg.Concurrency.Limit, 5)
	}
	if cfg.Queue.Limit != 200 {
		t.Errorf("unexpected default queue limit: got %d, want %d", cfg.Queue.Limit, 200)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("unexpected default cache ttl: got %v, want %v", cfg.Cache.TTL, time.Hour)
	}
	if cfg.HTTP.MaxRetries != 3 {
		t.Errorf("unexpected default max retries: got %d, want %d", cfg.HTTP.MaxRetries, 3)
	}
	if cfg.Circuit.ErrorThreshold != 5 {
		t.Errorf("unexpected default circuit threshold: got %d, want %d", cfg.Circuit.ErrorThreshold, 5)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("unexpected default log level: got %s, want %s", cfg.Logging.Level, "info")
	}
}

func TestClampingOutOfRangeEnv(t *testing.T) {
	t.Setenv("CONCURRENCY_LIMIT", "999")
	t.Setenv("QUEUE_LIMIT", "0")

	cfg := FromEnv()

	if cfg.Concurrency.Limit != 32 {
		t.Errorf("expected concurrency limit clamped to 32, got %d", cfg.Concurrency.Limit)
	}
	if cfg.Queue.Limit != 1 {
		t.Errorf("expected queue limit clamped to 1, got %d", cfg.Queue.Limit)
	}
}
