// Package config loads qamatch settings from defaults, the user file, the
// project file and the environment, in that order of precedence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
)

// Store backends and embedding providers.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// OpenAIDimensions is the embedding width of text-embedding-3-small, which
// the index schema is built for.
const OpenAIDimensions = 1536

// projectFiles are tried in order; the first one present wins.
var projectFiles = []string{".qamatch.yaml", ".qamatch.yml", ".qamatch.toml"}

// Config is the complete qamatch configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" toml:"store" json:"store"`
	Search     SearchConfig     `yaml:"search" toml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank" toml:"rerank" json:"rerank"`
	Paraphrase ParaphraseConfig `yaml:"paraphrase" toml:"paraphrase" json:"paraphrase"`
	Server     ServerConfig     `yaml:"server" toml:"server" json:"server"`

	// APIKey comes from OPENAI_API_KEY only and is never written to disk.
	APIKey string `yaml:"-" toml:"-" json:"-"`
}

// StoreConfig selects the index backend.
type StoreConfig struct {
	Backend          string  `yaml:"backend" toml:"backend" json:"backend"`
	Path             string  `yaml:"path" toml:"path" json:"path"`
	DSN              string  `yaml:"dsn,omitempty" toml:"dsn,omitempty" json:"dsn,omitempty"`
	TrigramThreshold float64 `yaml:"trigram_threshold" toml:"trigram_threshold" json:"trigram_threshold"`
	// EfSearch is a floor for pgvector hnsw.ef_search; 0 sets no floor.
	EfSearch         int     `yaml:"ef_search,omitempty" toml:"ef_search,omitempty" json:"ef_search,omitempty"`
}

// SearchConfig tunes retrieval.
type SearchConfig struct {
	MatchCount          int     `yaml:"match_count" toml:"match_count" json:"match_count"`
	CandidateMultiplier int     `yaml:"candidate_multiplier" toml:"candidate_multiplier" json:"candidate_multiplier"`
	RequestTimeout      string  `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
	ExpandQuery         bool    `yaml:"expand_query" toml:"expand_query" json:"expand_query"`
	NoAnswerThreshold   float64 `yaml:"no_answer_threshold" toml:"no_answer_threshold" json:"no_answer_threshold"`

	// CircuitMaxFailures opens a source's circuit after that many consecutive
	// failures. Zero disables the breakers.
	CircuitMaxFailures int    `yaml:"circuit_max_failures" toml:"circuit_max_failures" json:"circuit_max_failures"`
	CircuitReset       string `yaml:"circuit_reset" toml:"circuit_reset" json:"circuit_reset"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string  `yaml:"provider" toml:"provider" json:"provider"`
	Model             string  `yaml:"model" toml:"model" json:"model"`
	Dimensions        int     `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	BaseURL           string  `yaml:"base_url,omitempty" toml:"base_url,omitempty" json:"base_url,omitempty"`
	BatchSize         int     `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	CacheSize         int     `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
}

// RerankConfig configures the logistic reranker.
type RerankConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled" json:"enabled"`
	TopN      int           `yaml:"top_n" toml:"top_n" json:"top_n"`
	Intercept float64       `yaml:"intercept" toml:"intercept" json:"intercept"`
	Weights   RerankWeights `yaml:"weights" toml:"weights" json:"weights"`
}

// RerankWeights are the logistic coefficients per feature.
type RerankWeights struct {
	VectorSim   float64 `yaml:"vector_sim" toml:"vector_sim" json:"vector_sim"`
	TrigramSim  float64 `yaml:"trigram_sim" toml:"trigram_sim" json:"trigram_sim"`
	HybridScore float64 `yaml:"hybrid_score" toml:"hybrid_score" json:"hybrid_score"`
}

// ParaphraseConfig configures backlog expansion.
type ParaphraseConfig struct {
	MaxRows           int     `yaml:"max_rows" toml:"max_rows" json:"max_rows"`
	PerItem           int     `yaml:"per_item" toml:"per_item" json:"per_item"`
	Model             string  `yaml:"model" toml:"model" json:"model"`
	BaseURL           string  `yaml:"base_url,omitempty" toml:"base_url,omitempty" json:"base_url,omitempty"`
	Workers           int     `yaml:"workers" toml:"workers" json:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
	LockFile          string  `yaml:"lock_file" toml:"lock_file" json:"lock_file"`
}

// ServerConfig configures the HTTP server and logging.
type ServerConfig struct {
	Addr     string `yaml:"addr" toml:"addr" json:"addr"`
	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	data := DataDir()
	return &Config{
		Store: StoreConfig{
			Backend:          BackendSQLite,
			Path:             filepath.Join(data, "qa.db"),
			TrigramThreshold: 0.3,
		},
		Search: SearchConfig{
			MatchCount:          20,
			CandidateMultiplier: 4,
			RequestTimeout:      "3s",
			NoAnswerThreshold:   0.38,
			CircuitMaxFailures:  5,
			CircuitReset:        "30s",
		},
		Embeddings: EmbeddingsConfig{
			Provider:          ProviderOpenAI,
			Model:             "text-embedding-3-small",
			Dimensions:        OpenAIDimensions,
			BatchSize:         200,
			CacheSize:         2000,
			RequestsPerSecond: 5,
		},
		Rerank: RerankConfig{
			TopN: 20,
		},
		Paraphrase: ParaphraseConfig{
			MaxRows:           350,
			PerItem:           12,
			Model:             "gpt-4o-mini",
			Workers:           4,
			RequestsPerSecond: 2,
			LockFile:          filepath.Join(data, "expand.lock"),
		},
		Server: ServerConfig{
			Addr:     ":8080",
			LogLevel: "info",
		},
	}
}

// DataDir is where local state lives: ~/.qamatch, or QAMATCH_HOME.
func DataDir() string {
	if v := os.Getenv("QAMATCH_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".qamatch")
	}
	return filepath.Join(home, ".qamatch")
}

// GetUserConfigPath returns the user configuration file:
// $XDG_CONFIG_HOME/qamatch/config.yaml or ~/.config/qamatch/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qamatch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "qamatch", "config.yaml")
	}
	return filepath.Join(home, ".config", "qamatch", "config.yaml")
}

// Load loads configuration for the project in dir:
//  1. Defaults
//  2. User config (~/.config/qamatch/config.yaml)
//  3. Project config (.qamatch.yaml, .qamatch.yml or .qamatch.toml in dir)
//  4. Environment (QAMATCH_*, OPENAI_API_KEY, DATABASE_URL)
//
// The result is validated.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if path := ProjectConfigPath(dir); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath returns the project file Load would read from dir, or
// "" if there is none.
func ProjectConfigPath(dir string) string {
	for _, name := range projectFiles {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

// LoadFile decodes a YAML or TOML file over c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return qaerrors.New(qaerrors.ErrCodeConfigNotFound, "cannot read config file", err).
			WithDetail("path", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, c)
	} else {
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return qaerrors.ConfigError("cannot parse config file", err).WithDetail("path", path)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("OPENAI_API_KEY", &c.APIKey)
	str("DATABASE_URL", &c.Store.DSN)
	str("QAMATCH_STORE_BACKEND", &c.Store.Backend)
	str("QAMATCH_STORE_PATH", &c.Store.Path)
	str("QAMATCH_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	str("QAMATCH_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	str("QAMATCH_EMBEDDINGS_BASE_URL", &c.Embeddings.BaseURL)
	str("QAMATCH_PARAPHRASE_MODEL", &c.Paraphrase.Model)
	str("QAMATCH_REQUEST_TIMEOUT", &c.Search.RequestTimeout)
	str("QAMATCH_SERVER_ADDR", &c.Server.Addr)
	str("QAMATCH_LOG_LEVEL", &c.Server.LogLevel)

	if v := os.Getenv("QAMATCH_MATCH_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MatchCount = n
		}
	}
	if v := os.Getenv("QAMATCH_EXPAND_QUERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.ExpandQuery = b
		}
	}
	if v := os.Getenv("QAMATCH_RERANK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Rerank.Enabled = b
		}
	}
}

// Validate rejects configurations no command could run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case BackendSQLite:
		if c.Store.Path == "" {
			return qaerrors.ConfigError("store.path is required for the sqlite backend", nil)
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return qaerrors.ConfigError("store.dsn (or DATABASE_URL) is required for the postgres backend", nil)
		}
	default:
		return qaerrors.ConfigError(fmt.Sprintf("store.backend must be 'sqlite' or 'postgres', got %q", c.Store.Backend), nil)
	}
	if c.Store.TrigramThreshold < 0 || c.Store.TrigramThreshold > 1 {
		return qaerrors.ConfigError(fmt.Sprintf("store.trigram_threshold must be between 0 and 1, got %g", c.Store.TrigramThreshold), nil)
	}
	if c.Store.EfSearch < 0 {
		return qaerrors.ConfigError(fmt.Sprintf("store.ef_search must not be negative, got %d", c.Store.EfSearch), nil)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"search.match_count", c.Search.MatchCount},
		{"search.candidate_multiplier", c.Search.CandidateMultiplier},
		{"embeddings.dimensions", c.Embeddings.Dimensions},
		{"embeddings.batch_size", c.Embeddings.BatchSize},
		{"rerank.top_n", c.Rerank.TopN},
		{"paraphrase.max_rows", c.Paraphrase.MaxRows},
		{"paraphrase.per_item", c.Paraphrase.PerItem},
		{"paraphrase.workers", c.Paraphrase.Workers},
	}
	for _, p := range positive {
		if p.value < 1 {
			return qaerrors.ConfigError(fmt.Sprintf("%s must be at least 1, got %d", p.name, p.value), nil)
		}
	}
	if c.Search.CircuitMaxFailures < 0 {
		return qaerrors.ConfigError("search.circuit_max_failures must not be negative", nil)
	}
	if c.Embeddings.RequestsPerSecond < 0 || c.Paraphrase.RequestsPerSecond < 0 {
		return qaerrors.ConfigError("requests_per_second must not be negative", nil)
	}

	for name, v := range map[string]string{
		"search.request_timeout": c.Search.RequestTimeout,
		"search.circuit_reset":   c.Search.CircuitReset,
	} {
		if _, err := parsePositiveDuration(v); err != nil {
			return qaerrors.ConfigError(fmt.Sprintf("%s: %v", name, err), err)
		}
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case ProviderOpenAI:
		if c.Embeddings.Dimensions != OpenAIDimensions {
			return qaerrors.ConfigError(fmt.Sprintf("embeddings.dimensions must be %d for the openai provider, got %d",
				OpenAIDimensions, c.Embeddings.Dimensions), nil)
		}
	case ProviderStatic:
	default:
		return qaerrors.ConfigError(fmt.Sprintf("embeddings.provider must be 'openai' or 'static', got %q", c.Embeddings.Provider), nil)
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return qaerrors.ConfigError(fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel), nil)
	}
	return nil
}

// RequestTimeout returns the parsed search.request_timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := parsePositiveDuration(c.Search.RequestTimeout)
	return d
}

// CircuitReset returns the parsed search.circuit_reset.
func (c *Config) CircuitReset() time.Duration {
	d, _ := parsePositiveDuration(c.Search.CircuitReset)
	return d
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

// Marshal encodes c as YAML, or as TOML when format is "toml".
func (c *Config) Marshal(format string) ([]byte, error) {
	if strings.EqualFold(format, "toml") {
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// WriteFile writes c to path, choosing TOML for a .toml extension and YAML
// otherwise. Parent directories are created.
func (c *Config) WriteFile(path string) error {
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	data, err := c.Marshal(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
