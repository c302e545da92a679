package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected default dimensions 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.Size != 1000 || cfg.Chunking.OverlapOrDefault() != 200 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if !cfg.Chunking.BoundaryOrDefault() {
		t.Error("boundary snapping should default to true")
	}
	if cfg.Retrieval.DefaultLimit != 5 || cfg.Retrieval.MaxLimit != 50 {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.RerankFactor != 4 {
		t.Errorf("expected rerank factor 4, got %d", cfg.Retrieval.RerankFactor)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/documents.db"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	wantDB := filepath.Join(dir, "data", "db", "documents.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("expected %s, got %s", wantDB, cfg.Storage.DatabasePath)
	}
	wantWatch := filepath.Join(dir, "inbox")
	if cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("expected %s, got %s", wantWatch, cfg.Watch.Directories[0])
	}
}

func TestLoad_explicitZeroOverlap(t *testing.T) {
	path := writeConfig(t, `
chunking:
  size: 100
  overlap: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Chunking.OverlapOrDefault(); got != 0 {
		t.Errorf("explicit overlap 0 replaced by %d", got)
	}
}

func TestLoad_invalidOverlap(t *testing.T) {
	path := writeConfig(t, `
chunking:
  size: 100
  overlap: 100
`)
	_, err := Load(path)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoad_invalidThreshold(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  threshold: 1.5
`)
	_, err := Load(path)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}
