package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestEnvironmentVariableExpansion tests various scenarios of environment variable expansion.
func TestEnvironmentVariableExpansion(t *testing.T) {
	testCases := []struct {
		name       string
		envVars    map[string]string
		yamlConfig string
		validate   func(*testing.T, *Config)
	}{
		{
			name: "basic env var expansion",
			envVars: map[string]string{
				"OPENAI_API_KEY": "test-key-123",
			},
			yamlConfig: `
model:
    provider: openai
    api_key: ${OPENAI_API_KEY}
    name: gpt-4`,
			validate: func(t *testing.T, c *Config) {
				if c.Model.APIKey != "test-key-123" {
					t.Errorf("API key not expanded correctly, got %s, want test-key-123", c.Model.APIKey)
				}
			},
		},
		{
			name:    "missing env var",
			envVars: map[string]string{},
			yamlConfig: `
model:
    api_key: ${MISSING_API_KEY}`,
			validate: func(t *testing.T, c *Config) {
				if c.Model.APIKey != "" {
					t.Errorf("Missing env var should expand to empty string, got %s", c.Model.APIKey)
				}
			},
		},
		{
			name: "multiple env vars in single value",
			envVars: map[string]string{
				"API_HOST":    "api.openai.com",
				"API_VERSION": "v1",
			},
			yamlConfig: `
model:
    provider: openai
    api_key: unused
    endpoint: https://${API_HOST}/${API_VERSION}`,
			validate: func(t *testing.T, c *Config) {
				expected := "https://api.openai.com/v1"
				if c.Model.Endpoint != expected {
					t.Errorf("Multiple env vars not expanded correctly, got %s, want %s",
						c.Model.Endpoint, expected)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(strings.NewReader(tc.yamlConfig))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tc.validate(t, cfg)
		})
	}
}

// TestConfigMerging tests how environment variables interact with default values.
func TestConfigMerging(t *testing.T) {
	yamlConfig := `
model:
    provider: ${PROVIDER}
    api_key: unused
    name: ${NAME}
`
	t.Setenv("PROVIDER", "openai")
	// NAME intentionally unset to test default value retention.

	cfg, err := Load(strings.NewReader(yamlConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Model.Provider != "openai" {
		t.Errorf("Provider not set from env var, got %s, want openai", cfg.Model.Provider)
	}
	if cfg.Model.Name != "" {
		t.Errorf("Name should remain empty, got %s", cfg.Model.Name)
	}
}

func TestConfigReloadWithEnvVars(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialConfig := `
model:
    provider: anthropic
    api_key: ${API_KEY}
    name: ${NAME:-claude-3}`

	if err := os.WriteFile(configPath, []byte(initialConfig), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("API_KEY", "initial-key")
	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.APIKey != "initial-key" {
		t.Error("Initial environment variable not loaded")
	}

	t.Setenv("API_KEY", "new-key")
	newCfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if newCfg.Model.APIKey != "new-key" {
		t.Error("Environment variable not updated during reload")
	}
}

func TestEnvironmentVariableHandling(t *testing.T) {
	testCases := []struct {
		name       string
		envVars    map[string]string
		yamlConfig string
		validate   func(*testing.T, *Config)
		wantErr    bool
		errMsg     string
	}{
		{
			name: "api key with special characters",
			envVars: map[string]string{
				"ANTHROPIC_API_KEY": "sk-ant-!@#$%^&*()_+=",
			},
			yamlConfig: `
model:
    provider: anthropic
    api_key: ${ANTHROPIC_API_KEY}`,
			validate: func(t *testing.T, c *Config) {
				if c.Model.APIKey != "sk-ant-!@#$%^&*()_+=" {
					t.Errorf("Special characters in API key not preserved, got %s", c.Model.APIKey)
				}
			},
		},
		{
			name: "nested environment variables",
			envVars: map[string]string{
				"API_HOST":    "api.anthropic.com",
				"API_VERSION": "v1",
				"FULL_URL":    "${API_HOST}/${API_VERSION}",
			},
			yamlConfig: `
model:
    provider: anthropic
    api_key: unused
    endpoint: https://${FULL_URL}`,
			validate: func(t *testing.T, c *Config) {
				expected := "https://api.anthropic.com/v1"
				if c.Model.Endpoint != expected {
					t.Errorf("Nested environment variables not resolved correctly, got %s, want %s",
						c.Model.Endpoint, expected)
				}
			},
		},
		{
			name: "environment variable case sensitivity",
			envVars: map[string]string{
				"api_key": "lowercase-key",
				"API_KEY": "uppercase-key",
			},
			yamlConfig: `
model:
    provider: anthropic
    api_key: ${API_KEY}`,
			validate: func(t *testing.T, c *Config) {
				if c.Model.APIKey != "uppercase-key" {
					t.Errorf("Case sensitivity not handled correctly, got %s, want uppercase-key", c.Model.APIKey)
				}
			},
		},
		{
			name:    "environment variable with default value",
			envVars: map[string]string{},
			yamlConfig: `
model:
    provider: ${PROVIDER:-anthropic}
    name: ${NAME:-claude-3}
    api_key: ${API_KEY:-default-key}`,
			validate: func(t *testing.T, c *Config) {
				if c.Model.Provider != "anthropic" {
					t.Errorf("Default value not applied correctly for provider, got %s, want anthropic", c.Model.Provider)
				}
				if c.Model.Name != "claude-3" {
					t.Errorf("Default value not applied correctly for name, got %s, want claude-3", c.Model.Name)
				}
			},
		},
		{
			name: "empty environment variable handling",
			envVars: map[string]string{
				"EMPTY_KEY": "",
			},
			yamlConfig: `
model:
    provider: anthropic
    api_key: ${EMPTY_KEY}`,
			wantErr: true,
			errMsg:  "configured without MODEL_API_KEY",
		},
		{
			name: "invalid environment variable syntax",
			envVars: map[string]string{
				"VALID_KEY": "valid-value",
			},
			yamlConfig: `
model:
    provider: anthropic
    api_key: ${VALID_KEY
    name: claude-3`,
			wantErr: true,
			errMsg:  "invalid syntax",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(strings.NewReader(tc.yamlConfig))

			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tc.errMsg)
				} else if !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("Expected error containing %q, got %v", tc.errMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tc.validate(t, cfg)
		})
	}
}
