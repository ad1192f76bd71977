package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAndNormalize(t *testing.T) {
	cfg := Default()
	if cfg.UIPort == 0 || cfg.State.Path == "" || cfg.Upload.MaxFileSizeMB != 10 {
		t.Fatalf("default config invalid: %+v", cfg)
	}
	if cfg.MaxFileSize() != 10*1024*1024 {
		t.Fatalf("unexpected max file size: %d", cfg.MaxFileSize())
	}

	got := normalizeExtensions([]string{"CSV", ".xlsx", "csv", "  .XLS"})

	has := func(slice []string, s string) bool {
		for _, v := range slice {
			if v == s {
				return true
			}
		}
		return false
	}
	if len(got) != 3 || !has(got, ".csv") || !has(got, ".xlsx") || !has(got, ".xls") {
		t.Fatalf("expected normalized set .csv,.xlsx,.xls got %v", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "not_exists.yml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Channel.ReconnectAttempts != 5 || cfg.Channel.ReconnectDelayMax != 5*time.Second {
		t.Fatalf("expected channel defaults, got %+v", cfg.Channel)
	}
}

func TestLoadReadsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	content := []byte(`server_url: http://backend:9000
ui_port: 9191
state:
  backend: bolt
  path: testdata/state.db
upload:
  allowed_extensions: [csv, .TSV]
  max_file_size_mb: 2
  process_delay: 250ms
channel:
  reconnect_attempts: 2
render:
  correlation_threshold: 0.75
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UIPort != 9191 || cfg.State.Backend != "bolt" || cfg.Upload.MaxFileSizeMB != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Upload.ProcessDelay != 250*time.Millisecond {
		t.Fatalf("expected 250ms process delay, got %v", cfg.Upload.ProcessDelay)
	}
	if cfg.Upload.AllowedExtensions[1] != ".tsv" {
		t.Fatalf("extensions not normalized: %v", cfg.Upload.AllowedExtensions)
	}
	if cfg.WebSocketURL() != "ws://backend:9000/ws" {
		t.Fatalf("unexpected websocket url %q", cfg.WebSocketURL())
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte("ui_port: 9191\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("INGEST_UI_PORT", "7070")
	t.Setenv("INGEST_SERVER_URL", "https://secure.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UIPort != 7070 {
		t.Fatalf("expected env to override ui_port, got %d", cfg.UIPort)
	}
	if cfg.WebSocketURL() != "wss://secure.example/ws" {
		t.Fatalf("unexpected websocket url %q", cfg.WebSocketURL())
	}
}

func TestLoadKeepsYAMLWhereEnvIsUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	body := "ui_port: 9191\nstate:\n  backend: bolt\n  path: data/desk.db\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("INGEST_PROCESS_DELAY", "250ms")
	t.Setenv("INGEST_ALLOWED_EXTENSIONS", "CSV,.xlsx")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UIPort != 9191 || cfg.State.Backend != "bolt" || cfg.State.Path != "data/desk.db" {
		t.Fatalf("yaml values lost: %+v", cfg)
	}
	if cfg.Upload.ProcessDelay != 250*time.Millisecond {
		t.Fatalf("expected env process delay, got %v", cfg.Upload.ProcessDelay)
	}
	if len(cfg.Upload.AllowedExtensions) != 2 || cfg.Upload.AllowedExtensions[0] != ".csv" {
		t.Fatalf("unexpected extensions %v", cfg.Upload.AllowedExtensions)
	}
	if cfg.ServerURL != defaultServerURL {
		t.Fatalf("default server url lost: %q", cfg.ServerURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"size":      "upload:\n  max_file_size_mb: 0\n",
		"backend":   "state:\n  backend: redis\n",
		"threshold": "render:\n  correlation_threshold: 1.5\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), name+".yml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
