package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var policyYAML []byte

type Config struct {
	Database DatabaseConfig
	Store    StoreConfig
	Web      WebConfig
	Log      LogConfig
	Policy   PolicyConfig
	Index    IndexConfig
	Ingest   IngestConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

type StoreConfig struct {
	Backend  string // postgres, bolt or memory (default postgres)
	BoltPath string // bbolt file (default facesnap.db)
}

type WebConfig struct {
	Host           string   // defaults to 0.0.0.0
	Port           int      // defaults to 8080
	AllowedOrigins []string // extra CORS origins, localhost is always allowed
}

type LogConfig struct {
	Level  string // zerolog level name (default info)
	Pretty bool   // human-readable console output instead of JSON
}

// PolicyConfig mirrors clustering.Policy.
type PolicyConfig struct {
	Dimension           int     `yaml:"dimension"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TieBreakGap         float64 `yaml:"tie_break_gap"`
	PopulationRatio     float64 `yaml:"population_ratio"`
	MaxConflictRetries  int     `yaml:"max_conflict_retries"`
}

type IndexConfig struct {
	Enabled bool // per-event HNSW face index for similarity search
}

type IngestConfig struct {
	Workers int // parallel assignment workers (default 4)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envNonNegInt is envInt for settings where zero is meaningful.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envNonNegFloat is envFloat for settings where zero is meaningful.
func envNonNegFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// loadPolicy reads the embedded defaults, then the optional policy file on top.
func loadPolicy(path string) (PolicyConfig, error) {
	var p PolicyConfig
	if err := yaml.Unmarshal(policyYAML, &p); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded policy.yaml: " + err.Error())
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PolicyConfig{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	return p, nil
}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	policy, err := loadPolicy(os.Getenv("FACESNAP_POLICY_FILE"))
	if err != nil {
		return nil, err
	}
	policy.Dimension = envInt("EMBEDDING_DIM", policy.Dimension)
	policy.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", policy.SimilarityThreshold)
	policy.TieBreakGap = envNonNegFloat("TIE_BREAK_GAP", policy.TieBreakGap)
	policy.PopulationRatio = envFloat("POPULATION_RATIO", policy.PopulationRatio)
	policy.MaxConflictRetries = envNonNegInt("MAX_CONFLICT_RETRIES", policy.MaxConflictRetries)

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(envString("FACESNAP_STORE", BackendPostgres)),
			BoltPath: envString("FACESNAP_BOLT_PATH", "facesnap.db"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Pretty: envBool("LOG_PRETTY", false),
		},
		Policy: policy,
		Index: IndexConfig{
			Enabled: envBool("FACE_INDEX_ENABLED", true),
		},
		Ingest: IngestConfig{
			Workers: envInt("INGEST_WORKERS", 4),
		},
	}, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case BackendBolt:
		if c.Store.BoltPath == "" {
			errs = append(errs, errors.New("FACESNAP_BOLT_PATH is required for the bolt store"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web port %d out of range", c.Web.Port))
	}
	if c.Policy.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Policy.Dimension))
	}
	if c.Policy.SimilarityThreshold <= 0 {
		errs = append(errs, fmt.Errorf("similarity threshold must be positive, got %g", c.Policy.SimilarityThreshold))
	}
	if c.Policy.TieBreakGap < 0 {
		errs = append(errs, fmt.Errorf("tie-break gap must not be negative, got %g", c.Policy.TieBreakGap))
	}
	if c.Policy.PopulationRatio <= 0 {
		errs = append(errs, fmt.Errorf("population ratio must be positive, got %g", c.Policy.PopulationRatio))
	}
	if c.Policy.MaxConflictRetries < 0 {
		errs = append(errs, fmt.Errorf("max conflict retries must not be negative, got %d", c.Policy.MaxConflictRetries))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest workers must be positive, got %d", c.Ingest.Workers))
	}

	return errors.Join(errs...)
}
