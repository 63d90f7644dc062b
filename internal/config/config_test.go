package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FACESNAP_POLICY_FILE", "EMBEDDING_DIM", "SIMILARITY_THRESHOLD", "TIE_BREAK_GAP",
		"POPULATION_RATIO", "MAX_CONFLICT_RETRIES", "DATABASE_URL", "FACESNAP_STORE",
		"FACESNAP_BOLT_PATH", "WEB_HOST", "WEB_PORT", "LOG_LEVEL", "LOG_PRETTY",
		"FACE_INDEX_ENABLED", "INGEST_WORKERS", "WEB_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Policy.Dimension != 128 {
		t.Errorf("expected dimension 128, got %d", cfg.Policy.Dimension)
	}
	if cfg.Policy.SimilarityThreshold != 0.55 {
		t.Errorf("expected threshold 0.55, got %g", cfg.Policy.SimilarityThreshold)
	}
	if cfg.Policy.TieBreakGap != 0.1 {
		t.Errorf("expected tie-break gap 0.1, got %g", cfg.Policy.TieBreakGap)
	}
	if cfg.Policy.PopulationRatio != 1.5 {
		t.Errorf("expected population ratio 1.5, got %g", cfg.Policy.PopulationRatio)
	}
	if cfg.Policy.MaxConflictRetries != 16 {
		t.Errorf("expected 16 retries, got %d", cfg.Policy.MaxConflictRetries)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("expected postgres backend, got %s", cfg.Store.Backend)
	}
	if cfg.Web.Port != 8080 || cfg.Web.Host != "0.0.0.0" {
		t.Errorf("unexpected web config %+v", cfg.Web)
	}
	if cfg.Database.MaxOpenConns != 25 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("unexpected pool config %+v", cfg.Database)
	}
	if cfg.Log.Level != "info" || cfg.Log.Pretty {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if !cfg.Index.Enabled {
		t.Error("expected face index to be enabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_DIM", "512")
	t.Setenv("SIMILARITY_THRESHOLD", "0.6")
	t.Setenv("TIE_BREAK_GAP", "0.05")
	t.Setenv("POPULATION_RATIO", "2")
	t.Setenv("MAX_CONFLICT_RETRIES", "3")
	t.Setenv("FACESNAP_STORE", "BOLT")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("FACE_INDEX_ENABLED", "false")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://gallery.example.com, ,https://admin.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Policy.Dimension != 512 {
		t.Errorf("expected dimension 512, got %d", cfg.Policy.Dimension)
	}
	if cfg.Policy.SimilarityThreshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %g", cfg.Policy.SimilarityThreshold)
	}
	if cfg.Policy.TieBreakGap != 0.05 {
		t.Errorf("expected gap 0.05, got %g", cfg.Policy.TieBreakGap)
	}
	if cfg.Policy.PopulationRatio != 2 {
		t.Errorf("expected ratio 2, got %g", cfg.Policy.PopulationRatio)
	}
	if cfg.Policy.MaxConflictRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Policy.MaxConflictRetries)
	}
	if cfg.Store.Backend != BackendBolt {
		t.Errorf("expected bolt backend, got %s", cfg.Store.Backend)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Index.Enabled {
		t.Error("expected face index to be disabled")
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_DIM", "abc")
	t.Setenv("SIMILARITY_THRESHOLD", "-1")
	t.Setenv("LOG_PRETTY", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.Dimension != 128 {
		t.Errorf("expected default dimension, got %d", cfg.Policy.Dimension)
	}
	if cfg.Policy.SimilarityThreshold != 0.55 {
		t.Errorf("expected default threshold, got %g", cfg.Policy.SimilarityThreshold)
	}
	if cfg.Log.Pretty {
		t.Error("expected default pretty=false")
	}
}

func TestLoad_ZeroTieBreakAndRetries(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIE_BREAK_GAP", "0")
	t.Setenv("MAX_CONFLICT_RETRIES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.TieBreakGap != 0 {
		t.Errorf("expected tie-break gap 0, got %g", cfg.Policy.TieBreakGap)
	}
	if cfg.Policy.MaxConflictRetries != 0 {
		t.Errorf("expected 0 retries, got %d", cfg.Policy.MaxConflictRetries)
	}

	t.Setenv("TIE_BREAK_GAP", "-0.2")
	t.Setenv("MAX_CONFLICT_RETRIES", "-1")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.TieBreakGap != 0.1 || cfg.Policy.MaxConflictRetries != 16 {
		t.Errorf("expected defaults for negative values, got %+v", cfg.Policy)
	}
}

func TestLoad_PolicyFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("similarity_threshold: 0.5\npopulation_ratio: 1.2\n"), 0600); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}
	t.Setenv("FACESNAP_POLICY_FILE", path)
	t.Setenv("POPULATION_RATIO", "1.8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.SimilarityThreshold != 0.5 {
		t.Errorf("expected threshold from file, got %g", cfg.Policy.SimilarityThreshold)
	}
	// Env wins over the file.
	if cfg.Policy.PopulationRatio != 1.8 {
		t.Errorf("expected ratio from env, got %g", cfg.Policy.PopulationRatio)
	}
	// Keys missing from the file keep the embedded defaults.
	if cfg.Policy.Dimension != 128 || cfg.Policy.TieBreakGap != 0.1 {
		t.Errorf("expected embedded defaults, got %+v", cfg.Policy)
	}
}

func TestLoad_PolicyFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACESNAP_POLICY_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing policy file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("similarity_threshold: [oops"), 0600); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}
	t.Setenv("FACESNAP_POLICY_FILE", path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed policy file")
	}
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "postgres://localhost/facesnap"},
		Store:    StoreConfig{Backend: BackendPostgres, BoltPath: "facesnap.db"},
		Web:      WebConfig{Host: "0.0.0.0", Port: 8080},
		Policy: PolicyConfig{
			Dimension:           128,
			SimilarityThreshold: 0.55,
			TieBreakGap:         0.1,
			PopulationRatio:     1.5,
			MaxConflictRetries:  16,
		},
		Ingest: IngestConfig{Workers: 4},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"postgres without url", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL"},
		{"memory without url", func(c *Config) { c.Store.Backend = BackendMemory; c.Database.URL = "" }, ""},
		{"bolt without path", func(c *Config) { c.Store.Backend = BackendBolt; c.Store.BoltPath = "" }, "FACESNAP_BOLT_PATH"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "unknown store backend"},
		{"bad port", func(c *Config) { c.Web.Port = 70000 }, "out of range"},
		{"zero dimension", func(c *Config) { c.Policy.Dimension = 0 }, "dimension"},
		{"zero threshold", func(c *Config) { c.Policy.SimilarityThreshold = 0 }, "similarity threshold"},
		{"negative gap", func(c *Config) { c.Policy.TieBreakGap = -0.1 }, "tie-break gap"},
		{"zero ratio", func(c *Config) { c.Policy.PopulationRatio = 0 }, "population ratio"},
		{"no workers", func(c *Config) { c.Ingest.Workers = 0 }, "ingest workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	cfg.Web.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "web port") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}
