package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ingest.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadTuning_MissingFileGivesDefaults(t *testing.T) {
	got, err := LoadTuning(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}
	if got.Chunking.IdealChars != 8000 || got.Batching.Pause != 100*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadTuning_PartialOverride(t *testing.T) {
	p := writeFile(t, `
chunking:
  min_chars: 10
  ideal_chars: 40
  max_chars: 60
  noise_floor: 5
embedding:
  retry_backoff: 500ms
coordinator:
  scan_interval: 1s
`)
	got, err := LoadTuning(p)
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}
	if got.Chunking.MinChars != 10 || got.Chunking.MaxChars != 60 {
		t.Fatalf("chunking not applied: %+v", got.Chunking)
	}
	if got.Chunking.OverlapWords != 8 {
		t.Fatalf("overlap_words should keep default, got %d", got.Chunking.OverlapWords)
	}
	if got.Embedding.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("retry_backoff = %v", got.Embedding.RetryBackoff)
	}
	if !got.Embedding.Breaker {
		t.Fatal("breaker should keep default true")
	}
	if len(got.Batching.Tiers) != 3 {
		t.Fatalf("tiers should keep defaults, got %v", got.Batching.Tiers)
	}
}

func TestTuningValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Tuning)
	}{
		{"min not below ideal", func(t *Tuning) { t.Chunking.MinChars = t.Chunking.IdealChars }},
		{"ideal not below max", func(t *Tuning) { t.Chunking.MaxChars = t.Chunking.IdealChars }},
		{"noise floor above min", func(t *Tuning) { t.Chunking.NoiseFloor = t.Chunking.MinChars + 1 }},
		{"no tiers", func(t *Tuning) { t.Batching.Tiers = nil }},
		{"zero tier size", func(t *Tuning) { t.Batching.Tiers[1].Size = 0 }},
		{"tiers out of order", func(t *Tuning) {
			t.Batching.Tiers = []BatchTier{{Above: 0, Size: 100}, {Above: 5000, Size: 40}, {Above: 2000, Size: 60}}
		}},
		{"zero scan interval", func(t *Tuning) { t.Coordinator.ScanInterval = 0 }},
		{"zero max pages", func(t *Tuning) { t.Limits.MaxPages = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tu := DefaultTuning()
			tc.mutate(tu)
			if err := tu.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadTuning_InvalidFileRejected(t *testing.T) {
	p := writeFile(t, "batching:\n  tiers: []\n")
	if _, err := LoadTuning(p); err == nil {
		t.Fatal("expected error for empty tiers")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("INGEST_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("VECTOR_BACKEND", "chromem")
	t.Setenv("REGISTRY_BACKEND", "log")
	t.Setenv("EMBED_PROVIDER", "OpenAI")
	t.Setenv("EMBED_DIM", "1536")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("CHROMEM_COMPRESS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EmbedProvider != ProviderOpenAI || cfg.EmbedDim != 1536 {
		t.Fatalf("provider/dim = %s/%d", cfg.EmbedProvider, cfg.EmbedDim)
	}
	if cfg.ShutdownTimeout != 5*time.Second || !cfg.ChromemCompress {
		t.Fatalf("shutdown=%v compress=%v", cfg.ShutdownTimeout, cfg.ChromemCompress)
	}
	if cfg.Tuning == nil || cfg.Tuning.Limits.MetadataTextChars != 800 {
		t.Fatal("tuning defaults not attached")
	}
}

func TestLoad_RejectsMissingDatabaseForPgvector(t *testing.T) {
	t.Setenv("INGEST_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("VECTOR_BACKEND", "pgvector")
	t.Setenv("REGISTRY_BACKEND", "log")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")
	if getEnvInt("X_INT", 7) != 7 {
		t.Fatal("int fallback")
	}
	if getEnvDuration("X_DUR", time.Second) != time.Second {
		t.Fatal("duration fallback")
	}
	if getEnvBool("X_BOOL", true) != true {
		t.Fatal("bool fallback")
	}
}
