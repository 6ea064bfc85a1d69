// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "dev-secret"

directory:
  seed_file: "./users.yaml"

messaging:
  send_dedupe_ttl: "5m"
  send_dedupe_max_size: 500
  history_page_size: 25

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "dev-secret" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Directory.SeedFile != "./users.yaml" {
		t.Errorf("SeedFile = %q", cfg.Directory.SeedFile)
	}
	if cfg.Messaging.SendDedupeTTL != 5*time.Minute {
		t.Errorf("SendDedupeTTL = %v", cfg.Messaging.SendDedupeTTL)
	}
	if cfg.Messaging.SendDedupeMaxSize != 500 {
		t.Errorf("SendDedupeMaxSize = %d", cfg.Messaging.SendDedupeMaxSize)
	}
	if cfg.Messaging.HistoryPageSize != 25 {
		t.Errorf("HistoryPageSize = %d", cfg.Messaging.HistoryPageSize)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Messaging.SendDedupeTTL != 10*time.Minute {
		t.Errorf("default SendDedupeTTL = %v", cfg.Messaging.SendDedupeTTL)
	}
	if cfg.Messaging.SendDedupeMaxSize != 10000 {
		t.Errorf("default SendDedupeMaxSize = %d", cfg.Messaging.SendDedupeMaxSize)
	}
	if cfg.Messaging.HistoryPageSize != 50 {
		t.Errorf("default HistoryPageSize = %d", cfg.Messaging.HistoryPageSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("COURIER_TEST_SECRET", "expanded-secret")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${COURIER_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvExpansionFallback(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "${COURIER_TEST_UNSET_ADDR:-:9090}"
database:
  path: "./test.db"
auth:
  jwt_secret: "secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want fallback value", cfg.Server.HTTPAddr)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`,
			wantErr: "http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "s"
`,
			wantErr: "database.path",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
`,
			wantErr: "jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
messaging:
  send_dedupe_ttl: "not-a-duration"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
