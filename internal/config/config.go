// Package config loads the engine's configuration (spec §6: search,
// embedder, behavior, prefix, oracle, timeouts) from an optional YAML file
// plus environment variable overrides, mirroring the teacher's
// defaults-then-file-then-env precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete query-assistance engine configuration, scoped to
// spec §6's sections. The out-of-scope HTTP surface, BI metadata CRUD, and
// web UI have no configuration here.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`
	Behavior BehaviorConfig `yaml:"behavior" json:"behavior"`
	Prefix   PrefixConfig   `yaml:"prefix" json:"prefix"`
	Oracle   OracleConfig   `yaml:"oracle" json:"oracle"`
	Timeouts TimeoutsConfig `yaml:"timeouts" json:"timeouts"`
}

// SearchConfig configures HybridSearcher (spec §4.6) and LexicalIndex
// (spec §4.2).
type SearchConfig struct {
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"` // w_kw
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`   // w_vec
	LexicalLimit  int     `yaml:"lexical_limit" json:"lexical_limit"`   // K_l
	VectorLimit   int     `yaml:"vector_limit" json:"vector_limit"`     // K_v
	MaxResults    int     `yaml:"max_results" json:"max_results"`

	PhrasePrefixWeight float64 `yaml:"phrase_prefix_weight" json:"phrase_prefix_weight"`
	FuzzyWeight        float64 `yaml:"fuzzy_weight" json:"fuzzy_weight"`
	TermWeight         float64 `yaml:"term_weight" json:"term_weight"`
	PopularityWeight   float64 `yaml:"popularity_weight" json:"popularity_weight"`
}

// EmbedderConfig configures EmbeddingProvider (spec §4.1).
type EmbedderConfig struct {
	Provider   string `yaml:"provider" json:"provider"` // "static" or "ollama"
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// BehaviorConfig configures BehaviorStore (spec §4.5).
type BehaviorConfig struct {
	DatabasePath           string        `yaml:"database_path" json:"database_path"`
	HistoryCap             int           `yaml:"history_cap" json:"history_cap"` // N_hist
	PreferenceTTL          time.Duration `yaml:"preference_ttl" json:"preference_ttl"`
	TopPreferences         int           `yaml:"top_preferences" json:"top_preferences"`
	SequenceLimit          int           `yaml:"sequence_limit" json:"sequence_limit"` // L
	LastSelectionCacheSize int           `yaml:"last_selection_cache_size" json:"last_selection_cache_size"`
}

// PrefixConfig configures PrefixCompletionEngine (spec §4.8).
type PrefixConfig struct {
	MinTokens        int     `yaml:"min_tokens" json:"min_tokens"`
	MinTailChars     int     `yaml:"min_tail_chars" json:"min_tail_chars"`
	CandidateLimit   int     `yaml:"candidate_limit" json:"candidate_limit"`
	MinPreserved     int     `yaml:"min_preserved" json:"min_preserved"`
	FallbackLogScale float64 `yaml:"fallback_log_scale" json:"fallback_log_scale"`
}

// OracleConfig configures OracleClient (spec §4.9).
type OracleConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Host          string        `yaml:"host" json:"host"`
	Model         string        `yaml:"model" json:"model"`
	Temperature   float64       `yaml:"temperature" json:"temperature"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"` // T_oracle
	MaxExpansions int           `yaml:"max_expansions" json:"max_expansions"`
	MaxRelated    int           `yaml:"max_related" json:"max_related"`
}

// TimeoutsConfig configures the per-leg and total request budgets
// (spec §5).
type TimeoutsConfig struct {
	Lexical  time.Duration `yaml:"lexical" json:"lexical"`   // T_lex
	Vector   time.Duration `yaml:"vector" json:"vector"`     // T_vec
	Behavior time.Duration `yaml:"behavior" json:"behavior"` // T_behavior
	Embed    time.Duration `yaml:"embed" json:"embed"`       // T_embed
	Total    time.Duration `yaml:"total" json:"total"`       // T_total
}

// NewConfig returns a Config populated with spec §4/§5/§6 defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			KeywordWeight:      0.7,
			VectorWeight:       0.3,
			LexicalLimit:       50,
			VectorLimit:        50,
			MaxResults:         20,
			PhrasePrefixWeight: 3,
			FuzzyWeight:        1,
			TermWeight:         5,
			PopularityWeight:   1,
		},
		Embedder: EmbedderConfig{
			Provider:   "static",
			Model:      "",
			Dimensions: 256,
			CacheSize:  1000,
			OllamaHost: "http://localhost:11434",
		},
		Behavior: BehaviorConfig{
			DatabasePath:           "",
			HistoryCap:             100,
			PreferenceTTL:          24 * time.Hour,
			TopPreferences:         20,
			SequenceLimit:          10,
			LastSelectionCacheSize: 10000,
		},
		Prefix: PrefixConfig{
			MinTokens:        5,
			MinTailChars:     1,
			CandidateLimit:   20,
			MinPreserved:     1,
			FallbackLogScale: 10,
		},
		Oracle: OracleConfig{
			Enabled:       false,
			Host:          "http://localhost:11434",
			Model:         "llama3.2",
			Temperature:   0.3,
			MaxTokens:     256,
			Timeout:       time.Second,
			MaxExpansions: 3,
			MaxRelated:    5,
		},
		Timeouts: TimeoutsConfig{
			Lexical:  200 * time.Millisecond,
			Vector:   200 * time.Millisecond,
			Behavior: 100 * time.Millisecond,
			Embed:    500 * time.Millisecond,
			Total:    1500 * time.Millisecond,
		},
	}
}

// Load loads configuration from an optional YAML file at path, applying
// spec §6's precedence: hardcoded defaults, then the file (if present),
// then QASSIST_* environment variables.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields of other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.LexicalLimit != 0 {
		c.Search.LexicalLimit = other.Search.LexicalLimit
	}
	if other.Search.VectorLimit != 0 {
		c.Search.VectorLimit = other.Search.VectorLimit
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.PhrasePrefixWeight != 0 {
		c.Search.PhrasePrefixWeight = other.Search.PhrasePrefixWeight
	}
	if other.Search.FuzzyWeight != 0 {
		c.Search.FuzzyWeight = other.Search.FuzzyWeight
	}
	if other.Search.TermWeight != 0 {
		c.Search.TermWeight = other.Search.TermWeight
	}
	if other.Search.PopularityWeight != 0 {
		c.Search.PopularityWeight = other.Search.PopularityWeight
	}

	if other.Embedder.Provider != "" {
		c.Embedder.Provider = other.Embedder.Provider
	}
	if other.Embedder.Model != "" {
		c.Embedder.Model = other.Embedder.Model
	}
	if other.Embedder.Dimensions != 0 {
		c.Embedder.Dimensions = other.Embedder.Dimensions
	}
	if other.Embedder.CacheSize != 0 {
		c.Embedder.CacheSize = other.Embedder.CacheSize
	}
	if other.Embedder.OllamaHost != "" {
		c.Embedder.OllamaHost = other.Embedder.OllamaHost
	}

	if other.Behavior.DatabasePath != "" {
		c.Behavior.DatabasePath = other.Behavior.DatabasePath
	}
	if other.Behavior.HistoryCap != 0 {
		c.Behavior.HistoryCap = other.Behavior.HistoryCap
	}
	if other.Behavior.PreferenceTTL != 0 {
		c.Behavior.PreferenceTTL = other.Behavior.PreferenceTTL
	}
	if other.Behavior.TopPreferences != 0 {
		c.Behavior.TopPreferences = other.Behavior.TopPreferences
	}
	if other.Behavior.SequenceLimit != 0 {
		c.Behavior.SequenceLimit = other.Behavior.SequenceLimit
	}
	if other.Behavior.LastSelectionCacheSize != 0 {
		c.Behavior.LastSelectionCacheSize = other.Behavior.LastSelectionCacheSize
	}

	if other.Prefix.MinTokens != 0 {
		c.Prefix.MinTokens = other.Prefix.MinTokens
	}
	if other.Prefix.MinTailChars != 0 {
		c.Prefix.MinTailChars = other.Prefix.MinTailChars
	}
	if other.Prefix.CandidateLimit != 0 {
		c.Prefix.CandidateLimit = other.Prefix.CandidateLimit
	}
	if other.Prefix.MinPreserved != 0 {
		c.Prefix.MinPreserved = other.Prefix.MinPreserved
	}
	if other.Prefix.FallbackLogScale != 0 {
		c.Prefix.FallbackLogScale = other.Prefix.FallbackLogScale
	}

	if other.Oracle.Enabled {
		c.Oracle.Enabled = true
	}
	if other.Oracle.Host != "" {
		c.Oracle.Host = other.Oracle.Host
	}
	if other.Oracle.Model != "" {
		c.Oracle.Model = other.Oracle.Model
	}
	if other.Oracle.Temperature != 0 {
		c.Oracle.Temperature = other.Oracle.Temperature
	}
	if other.Oracle.MaxTokens != 0 {
		c.Oracle.MaxTokens = other.Oracle.MaxTokens
	}
	if other.Oracle.Timeout != 0 {
		c.Oracle.Timeout = other.Oracle.Timeout
	}
	if other.Oracle.MaxExpansions != 0 {
		c.Oracle.MaxExpansions = other.Oracle.MaxExpansions
	}
	if other.Oracle.MaxRelated != 0 {
		c.Oracle.MaxRelated = other.Oracle.MaxRelated
	}

	if other.Timeouts.Lexical != 0 {
		c.Timeouts.Lexical = other.Timeouts.Lexical
	}
	if other.Timeouts.Vector != 0 {
		c.Timeouts.Vector = other.Timeouts.Vector
	}
	if other.Timeouts.Behavior != 0 {
		c.Timeouts.Behavior = other.Timeouts.Behavior
	}
	if other.Timeouts.Embed != 0 {
		c.Timeouts.Embed = other.Timeouts.Embed
	}
	if other.Timeouts.Total != 0 {
		c.Timeouts.Total = other.Timeouts.Total
	}
}

// applyEnvOverrides applies QASSIST_* environment variables, the
// engine's equivalent of the teacher's AMANMCP_* override precedence
// (highest precedence, above both defaults and the config file).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QASSIST_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.KeywordWeight = w
		}
	}
	if v := os.Getenv("QASSIST_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("QASSIST_EMBEDDER"); v != "" {
		c.Embedder.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("QASSIST_EMBEDDER_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("QASSIST_OLLAMA_HOST"); v != "" {
		c.Embedder.OllamaHost = v
		c.Oracle.Host = v
	}
	if v := os.Getenv("QASSIST_ORACLE_ENABLED"); v != "" {
		c.Oracle.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("QASSIST_BEHAVIOR_DB"); v != "" {
		c.Behavior.DatabasePath = v
	}
	if v := os.Getenv("QASSIST_TOTAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Timeouts.Total = d
		}
	}
}

// Validate checks cross-field invariants spec §6 requires (e.g. w_kw + w_vec
// must sum to 1).
func (c *Config) Validate() error {
	if c.Search.KeywordWeight < 0 || c.Search.KeywordWeight > 1 {
		return fmt.Errorf("search.keyword_weight must be between 0 and 1, got %f", c.Search.KeywordWeight)
	}
	if c.Search.VectorWeight < 0 || c.Search.VectorWeight > 1 {
		return fmt.Errorf("search.vector_weight must be between 0 and 1, got %f", c.Search.VectorWeight)
	}
	if sum := c.Search.KeywordWeight + c.Search.VectorWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.keyword_weight + search.vector_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	validProviders := map[string]bool{"static": true, "ollama": true}
	if c.Embedder.Provider != "" && !validProviders[strings.ToLower(c.Embedder.Provider)] {
		return fmt.Errorf("embedder.provider must be 'static' or 'ollama', got %s", c.Embedder.Provider)
	}

	if c.Prefix.MinTokens < 0 {
		return fmt.Errorf("prefix.min_tokens must be non-negative, got %d", c.Prefix.MinTokens)
	}
	if c.Prefix.MinPreserved < 0 {
		return fmt.Errorf("prefix.min_preserved must be non-negative, got %d", c.Prefix.MinPreserved)
	}

	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature must be between 0 and 2, got %f", c.Oracle.Temperature)
	}

	return nil
}

// WriteYAML writes c to path, for `qassist config init`-style workflows.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}

// DefaultConfigPath follows the teacher's XDG-first convention for where a
// user-level config file lives.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qassist", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "qassist", "config.yaml")
	}
	return filepath.Join(home, ".config", "qassist", "config.yaml")
}
