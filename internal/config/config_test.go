package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexd/runtime/internal/apperrors"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
model_endpoints:
  anthropic:
    provider: anthropic
    default_model: claude-sonnet
entity_store:
  driver: postgres
  dsn: "postgres://localhost/cortex"
hot_memory:
  addr: "localhost:6379"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ColdMemory.Dimension != 1536 {
		t.Fatalf("got dimension %d, want default 1536", cfg.ColdMemory.Dimension)
	}
	if cfg.ColdMemory.RecallWeights.Vector != 0.7 {
		t.Fatalf("got vector weight %f, want default 0.7", cfg.ColdMemory.RecallWeights.Vector)
	}
	if cfg.Pathways.Dir != "pathways" {
		t.Fatalf("got pathways dir %q, want default", cfg.Pathways.Dir)
	}
}

func TestLoadRejectsMissingModelEndpoint(t *testing.T) {
	path := writeTempConfig(t, `
entity_store:
  driver: postgres
  dsn: "postgres://localhost/cortex"
hot_memory:
  addr: "localhost:6379"
`)

	_, err := Load(path)
	if !apperrors.Is(err, apperrors.Configuration) {
		t.Fatalf("expected Configuration error, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")

	if err := os.WriteFile(basePath, []byte(`
model_endpoints:
  anthropic:
    provider: anthropic
    default_model: claude-sonnet
hot_memory:
  addr: "localhost:6379"
`), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte(`
$include: base.yaml
entity_store:
  driver: postgres
  dsn: "postgres://localhost/cortex"
`), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelEndpoints["anthropic"].DefaultModel != "claude-sonnet" {
		t.Fatalf("included model_endpoints not merged: %+v", cfg.ModelEndpoints)
	}
}
