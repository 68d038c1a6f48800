// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

github:
  token: "ghp_test"
  api_base: "https://github.example.com/api/v3"

protocol:
  version: "2025-06-18"

auth:
  jwt_secret: "secret"
  require_scopes: true
  default_scopes:
    - "pulls:read"

ledger:
  path: "./events.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("unexpected http_addr: %s", cfg.Server.HTTPAddr)
	}
	if cfg.GitHub.APIBase != "https://github.example.com/api/v3" {
		t.Errorf("unexpected api_base: %s", cfg.GitHub.APIBase)
	}
	if !cfg.Auth.RequireScopes {
		t.Error("expected require_scopes to be true")
	}
	if len(cfg.Auth.DefaultScopes) != 1 || cfg.Auth.DefaultScopes[0] != "pulls:read" {
		t.Errorf("unexpected default_scopes: %v", cfg.Auth.DefaultScopes)
	}
	if cfg.Ledger.Path != "./events.db" {
		t.Errorf("unexpected ledger path: %s", cfg.Ledger.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

github:
  token: "ghp_test"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Protocol.Version != DefaultProtocolVersion {
		t.Errorf("expected default protocol version, got %s", cfg.Protocol.Version)
	}
	if cfg.GitHub.APIBase != DefaultAPIBase {
		t.Errorf("expected default api_base, got %s", cfg.GitHub.APIBase)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("expected default logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("OCTOGATE_TEST_TOKEN", "ghp_from_env")

	configPath := writeConfig(t, `
server:
  http_addr: "localhost:8080"

github:
  token: "${OCTOGATE_TEST_TOKEN}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GitHub.Token != "ghp_from_env" {
		t.Errorf("expected env var expansion, got %s", cfg.GitHub.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
github:
  token: "ghp_test"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing github token",
			content: `
server:
  http_addr: "localhost:8080"
`,
			wantErr: "github.token",
		},
		{
			name: "require_scopes without jwt_secret",
			content: `
server:
  http_addr: "localhost:8080"

github:
  token: "ghp_test"

auth:
  require_scopes: true
`,
			wantErr: "auth.jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
