package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `log_level: debug

sandbox:
  root: ./workspace
  env:
    NODE_ENV: development
  watch: true
  watch_debounce: 250ms

policy:
  name: batched
  max_batch: 16
  max_parallel: 4

journal:
  dataset: artificer
  backend: s3
  path: my-bucket/journal
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/artificer
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
  state_prefix: "artificer:session:"

input:
  format: frames
  message_id: msg-7
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "log_level", cfg.LogLevel, "debug")

	// Sandbox
	assertEqual(t, "sandbox.root", cfg.Sandbox.Root, "./workspace")
	assertEqual(t, "sandbox.env.NODE_ENV", cfg.Sandbox.Env["NODE_ENV"], "development")
	if !cfg.Sandbox.Watch || cfg.Sandbox.DryRun {
		t.Errorf("unexpected sandbox flags: %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.WatchDebounce.Duration != 250*time.Millisecond {
		t.Errorf("sandbox.watch_debounce = %v", cfg.Sandbox.WatchDebounce)
	}

	// Policy
	assertEqual(t, "policy.name", cfg.Policy.Name, "batched")
	if cfg.Policy.MaxBatch == nil || *cfg.Policy.MaxBatch != 16 {
		t.Errorf("policy.max_batch = %v, want 16", cfg.Policy.MaxBatch)
	}
	if cfg.Policy.MaxParallel != 4 {
		t.Errorf("policy.max_parallel = %d, want 4", cfg.Policy.MaxParallel)
	}

	// Journal
	assertEqual(t, "journal.backend", cfg.Journal.Backend, "s3")
	assertEqual(t, "journal.path", cfg.Journal.Path, "my-bucket/journal")
	assertEqual(t, "journal.region", cfg.Journal.Region, "us-east-1")
	assertEqual(t, "journal.endpoint", cfg.Journal.Endpoint, "https://example.com")
	if !cfg.Journal.S3PathStyle {
		t.Error("expected journal.s3_path_style=true")
	}

	// Adapter
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/artificer")
	assertEqual(t, "adapter.headers.Authorization", cfg.Adapter.Headers["Authorization"], "Bearer token123")
	assertEqual(t, "adapter.state_prefix", cfg.Adapter.StatePrefix, "artificer:session:")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v, want 10s", cfg.Adapter.Timeout)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v, want 3", cfg.Adapter.Retries)
	}

	// Input
	assertEqual(t, "input.format", cfg.Input.Format, "frames")
	assertEqual(t, "input.message_id", cfg.Input.MessageID, "msg-7")
}

func TestLoad_EmptyConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.Name != "" || cfg.Policy.MaxBatch != nil || cfg.Sandbox.Root != "" {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "policy: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("expected YAML error, got %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeTemp(t, "policy:\n  name: strict\n  max_btach: 4\n"))
	if err == nil || !strings.Contains(err.Error(), "max_btach") {
		t.Errorf("expected unknown key error, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTemp(t, "adapter:\n  timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ARTIFICER_TEST_ROOT", "/tmp/sandbox")
	t.Setenv("ARTIFICER_TEST_HOOK", "https://hooks.example.com/x")

	yaml := `sandbox:
  root: ${ARTIFICER_TEST_ROOT}
adapter:
  type: webhook
  url: ${ARTIFICER_TEST_HOOK}
policy:
  name: ${ARTIFICER_TEST_POLICY:-strict}
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "sandbox.root", cfg.Sandbox.Root, "/tmp/sandbox")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/x")
	assertEqual(t, "policy.name", cfg.Policy.Name, "strict")
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty", Config{}, ""},
		{"unknown policy", Config{Policy: PolicyConfig{Name: "buffered"}}, "policy.name"},
		{"negative max_batch", Config{Policy: PolicyConfig{MaxBatch: &neg}}, "policy.max_batch"},
		{"negative max_parallel", Config{Policy: PolicyConfig{MaxParallel: -2}}, "policy.max_parallel"},
		{"unknown backend", Config{Journal: JournalConfig{Backend: "gcs"}}, "journal.backend"},
		{"unknown adapter", Config{Adapter: AdapterConfig{Type: "kafka"}}, "adapter.type"},
		{"webhook without url", Config{Adapter: AdapterConfig{Type: "webhook"}}, "adapter.url"},
		{"redis without url", Config{Adapter: AdapterConfig{Type: "redis"}}, ""},
		{"unknown format", Config{Input: InputConfig{Format: "sse"}}, "input.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadDefault_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected empty config")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artificer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
