package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration for echomem.
type Config struct {
	AgentName string `yaml:"agent_name"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`

	// Generation backend (Ollama-compatible HTTP API).
	OllamaBaseURL  string `yaml:"ollama_base_url"`
	GenerateModel  string `yaml:"generate_model"`
	EmbedModel     string `yaml:"embed_model"` // empty disables embeddings
	RequestTimeout int    `yaml:"request_timeout_seconds"`

	Salience      SalienceWeights     `yaml:"salience"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Capacity      CapacityConfig      `yaml:"capacity"`

	WorkerIntervalSeconds int `yaml:"worker_interval_seconds"`
}

// SalienceWeights are the five factor weights of the salience scorer.
type SalienceWeights struct {
	Recency    float64 `yaml:"recency"`
	Repetition float64 `yaml:"repetition"`
	Novelty    float64 `yaml:"novelty"`
	Emotion    float64 `yaml:"emotion"`
	Explicit   float64 `yaml:"explicit"`
}

// SegmenterConfig are the event segmentation thresholds.
type SegmenterConfig struct {
	MinTurns       int     `yaml:"min_turns"`
	MaxTurns       int     `yaml:"max_turns"`
	TimeGapMinutes float64 `yaml:"time_gap_minutes"`
	TopicThreshold float64 `yaml:"topic_threshold"`
}

// ConsolidationConfig controls episodic-to-semantic promotion and the
// deterministic rollup schedule.
type ConsolidationConfig struct {
	Threshold        float64 `yaml:"threshold"`
	SalienceWeight   float64 `yaml:"salience_weight"`
	ImportanceWeight float64 `yaml:"importance_weight"`
	EveryTurns       int     `yaml:"every_turns"`
	EveryMinutes     int     `yaml:"every_minutes"`
}

// RetrievalConfig bounds the assembled context.
type RetrievalConfig struct {
	TokenBudget   int     `yaml:"token_budget"`
	MaxFacts      int     `yaml:"max_facts"`
	MaxCanonLines int     `yaml:"max_canon_sentences"`
	MinImportance float64 `yaml:"min_commitment_importance"`
}

// CapacityConfig bounds the in-memory stores.
type CapacityConfig struct {
	EpisodicBuffer     int `yaml:"episodic_buffer"`
	MaxSemanticFacts   int `yaml:"max_semantic_facts"`
	MaxEchoPatterns    int `yaml:"max_echo_patterns"`
	EventRetentionDays int `yaml:"event_retention_days"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		AgentName:      "echomem",
		DBPath:         filepath.Join(userHomeDir(), ".echomem", "memories.db"),
		LogLevel:       "info",
		OllamaBaseURL:  "http://localhost:11434",
		GenerateModel:  "llama3.2:3b",
		EmbedModel:     "",
		RequestTimeout: 60,
		Salience: SalienceWeights{
			Recency:    0.25,
			Repetition: 0.15,
			Novelty:    0.20,
			Emotion:    0.15,
			Explicit:   0.25,
		},
		Segmenter: SegmenterConfig{
			MinTurns:       3,
			MaxTurns:       10,
			TimeGapMinutes: 10,
			TopicThreshold: 0.3,
		},
		Consolidation: ConsolidationConfig{
			Threshold:        0.6,
			SalienceWeight:   0.4,
			ImportanceWeight: 0.6,
			EveryTurns:       12,
			EveryMinutes:     30,
		},
		Retrieval: RetrievalConfig{
			TokenBudget:   1000,
			MaxFacts:      5,
			MaxCanonLines: 10,
			MinImportance: 0.4,
		},
		Capacity: CapacityConfig{
			EpisodicBuffer:     100,
			MaxSemanticFacts:   500,
			MaxEchoPatterns:    50,
			EventRetentionDays: 30,
		},
		WorkerIntervalSeconds: 300,
	}
}

// Load loads config from disk; if path does not exist, default config is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks configuration sanity. Invalid configuration is the only
// fatal error class in the engine.
func (c *Config) Validate() error {
	if c.AgentName == "" {
		return errors.New("agent_name must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if c.Retrieval.TokenBudget <= 0 {
		return errors.New("retrieval.token_budget must be > 0")
	}
	if c.Retrieval.MaxFacts <= 0 {
		return errors.New("retrieval.max_facts must be > 0")
	}
	if c.Segmenter.MinTurns < 1 || c.Segmenter.MaxTurns <= c.Segmenter.MinTurns {
		return errors.New("segmenter turn bounds must satisfy 1 <= min < max")
	}
	if c.Segmenter.TimeGapMinutes <= 0 {
		return errors.New("segmenter.time_gap_minutes must be > 0")
	}
	if c.Segmenter.TopicThreshold <= 0 || c.Segmenter.TopicThreshold > 1 {
		return errors.New("segmenter.topic_threshold must be in (0,1]")
	}
	if c.Consolidation.Threshold <= 0 || c.Consolidation.Threshold > 1 {
		return errors.New("consolidation.threshold must be in (0,1]")
	}
	if c.Consolidation.SalienceWeight < 0 || c.Consolidation.ImportanceWeight < 0 {
		return errors.New("consolidation blend weights must be >= 0")
	}
	if c.Consolidation.EveryTurns <= 0 {
		return errors.New("consolidation.every_turns must be > 0")
	}
	if c.Consolidation.EveryMinutes <= 0 {
		return errors.New("consolidation.every_minutes must be > 0")
	}
	if c.Capacity.EpisodicBuffer <= 0 {
		return errors.New("capacity.episodic_buffer must be > 0")
	}
	if c.Capacity.MaxSemanticFacts <= 0 {
		return errors.New("capacity.max_semantic_facts must be > 0")
	}
	if c.Capacity.MaxEchoPatterns <= 0 {
		return errors.New("capacity.max_echo_patterns must be > 0")
	}
	if c.Capacity.EventRetentionDays <= 0 {
		return errors.New("capacity.event_retention_days must be > 0")
	}
	if c.WorkerIntervalSeconds <= 0 {
		return errors.New("worker_interval_seconds must be > 0")
	}
	sw := c.Salience
	for _, w := range []float64{sw.Recency, sw.Repetition, sw.Novelty, sw.Emotion, sw.Explicit} {
		if w < 0 || w > 1 {
			return errors.New("salience weights must be in [0,1]")
		}
	}
	return nil
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.DBPath = ExpandPath(c.DBPath)
	parent := filepath.Dir(c.DBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
