package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestLoadAppliesGPUTierChunkSizeWhenUnset(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("GPU_MEMORY_TIER_GIB", "24")
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != 150 {
		t.Fatalf("ChunkSize = %d, want 150 for a 24GiB tier", cfg.ChunkSize)
	}
}

func TestLoadPicksHighestTierAtOrBelowConfiguredMemory(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("GPU_MEMORY_TIER_GIB", "20")
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != 100 {
		t.Fatalf("ChunkSize = %d, want 100 (the 16GiB tier, since 20 < 24)", cfg.ChunkSize)
	}
}

func TestLoadExplicitChunkSizeOverridesTierDerivation(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "37")
	t.Setenv("GPU_MEMORY_TIER_GIB", "48")
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != 37 {
		t.Fatalf("ChunkSize = %d, want 37 (explicit override)", cfg.ChunkSize)
	}
}

func TestLoadDefaultsSqliteDSNWhenDriverIsSqliteAndDSNUnset(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_DSN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DSN != "batchd.sqlite3" {
		t.Fatalf("Store.DSN = %q, want batchd.sqlite3", cfg.Store.DSN)
	}
}

func TestLoadRejectsHTTPEngineWithoutBaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("ENGINE_TYPE", "http")
	t.Setenv("ENGINE_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected an error when ENGINE_TYPE=http without ENGINE_BASE_URL")
	}
}

func TestLoadAcceptsHTTPEngineWithBaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("ENGINE_TYPE", "http")
	t.Setenv("ENGINE_BASE_URL", "http://localhost:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EngineBaseURL != "http://localhost:9000" {
		t.Fatalf("EngineBaseURL = %q", cfg.EngineBaseURL)
	}
}

func TestDurationUnmarshalsFromJSONStringOrInt(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"5s"`), &d); err != nil {
		t.Fatalf("unmarshal string form: %v", err)
	}
	if d.Duration.String() != "5s" {
		t.Fatalf("Duration = %v, want 5s", d.Duration)
	}

	var d2 Duration
	if err := json.Unmarshal([]byte(`1000000000`), &d2); err != nil {
		t.Fatalf("unmarshal int form: %v", err)
	}
	if d2.Duration.String() != "1s" {
		t.Fatalf("Duration = %v, want 1s", d2.Duration)
	}
}

func TestDurationUnmarshalRejectsGarbageString(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatalf("expected an error for an unparseable duration string")
	}
}

func TestLoadModelRegistryFileReturnsNilWhenPathUnset(t *testing.T) {
	b, err := LoadModelRegistryFile("")
	if err != nil {
		t.Fatalf("LoadModelRegistryFile: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil bytes for an unset path")
	}
}

func TestLoadModelRegistryFileRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/models.json"
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadModelRegistryFile(path); err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}
