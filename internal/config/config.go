// Package config handles configuration loading for marketpulse.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names, in default ensemble order.
const (
	BackendContextualLLM    = "contextual-llm"
	BackendDomainClassifier = "domain-classifier"
	BackendLexiconFast      = "lexicon-fast"
	BackendLexiconBaseline  = "lexicon-baseline"
)

// Config represents the complete application configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"    yaml:"ingest"`
	Dedup     DedupConfig     `mapstructure:"dedup"     yaml:"dedup"`
	Entity    EntityConfig    `mapstructure:"entity"    yaml:"entity"`
	Sentiment SentimentConfig `mapstructure:"sentiment" yaml:"sentiment"`
	LLM       LLMConfig       `mapstructure:"llm"       yaml:"llm"`
	Aggregate AggregateConfig `mapstructure:"aggregate" yaml:"aggregate"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Sources   []SourceConfig  `mapstructure:"sources"   yaml:"sources"   validate:"dive"`
}

// StorageConfig holds the embedded database settings.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// IngestConfig holds feed fetching settings.
type IngestConfig struct {
	Workers         int           `mapstructure:"workers"            yaml:"workers"            validate:"min=1"`
	Timeout         time.Duration `mapstructure:"timeout"            yaml:"timeout"            validate:"gt=0"` // per source
	MaxAttempts     int           `mapstructure:"max_attempts"       yaml:"max_attempts"       validate:"min=1"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"       yaml:"backoff_base"       validate:"gte=0"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"        yaml:"backoff_max"        validate:"gte=0"`
	UnhealthyFor    time.Duration `mapstructure:"unhealthy_for"      yaml:"unhealthy_for"      validate:"gte=0"`
	MaxItemsPerFeed int           `mapstructure:"max_items_per_feed" yaml:"max_items_per_feed" validate:"gte=0"` // 0 = unlimited
	UserAgent       string        `mapstructure:"user_agent"         yaml:"user_agent"`
}

// DedupConfig holds duplicate detection settings.
type DedupConfig struct {
	Window     time.Duration `mapstructure:"window"      yaml:"window"      validate:"gt=0"`
	MaxHamming int           `mapstructure:"max_hamming" yaml:"max_hamming" validate:"min=0,max=7"`
	MinJaccard float64       `mapstructure:"min_jaccard" yaml:"min_jaccard" validate:"gt=0,lte=1"` // title token overlap
}

// EntityConfig holds entity recognition settings.
type EntityConfig struct {
	CorpusPath    string  `mapstructure:"corpus_path"     yaml:"corpus_path"`
	Threshold     float64 `mapstructure:"threshold"       yaml:"threshold"       validate:"gt=0,lte=1"`
	MinSpanLength int     `mapstructure:"min_span_length" yaml:"min_span_length" validate:"min=1"`
}

// SentimentConfig holds ensemble settings.
type SentimentConfig struct {
	Backends        []string           `mapstructure:"backends"         yaml:"backends"         validate:"min=1,dive,oneof=contextual-llm domain-classifier lexicon-fast lexicon-baseline"`
	Weights         map[string]float64 `mapstructure:"weights"          yaml:"weights"`
	ConfidenceFloor float64            `mapstructure:"confidence_floor" yaml:"confidence_floor" validate:"gte=0,lte=1"`
	Timeout         time.Duration      `mapstructure:"timeout"          yaml:"timeout"          validate:"gt=0"` // per backend call
	Contextual      ContextualConfig   `mapstructure:"contextual"       yaml:"contextual"`
	Classifier      ClassifierConfig   `mapstructure:"classifier"       yaml:"classifier"`
}

// ContextualConfig holds the rate budget of the contextual LLM backend.
type ContextualConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst"               yaml:"burst"               validate:"min=1"`
	MaxAttempts       int     `mapstructure:"max_attempts"        yaml:"max_attempts"        validate:"min=1"`
	MaxChars          int     `mapstructure:"max_chars"           yaml:"max_chars"           validate:"min=0"` // text truncation, 0 = none
}

// ClassifierConfig holds the domain classifier model server settings.
type ClassifierConfig struct {
	URL               string  `mapstructure:"url"                 yaml:"url"`
	Token             string  `mapstructure:"token"               yaml:"token"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst"               yaml:"burst"               validate:"min=1"`
}

// LLMConfig holds LLM provider configuration for the contextual backend.
type LLMConfig struct {
	Primary      string   `mapstructure:"primary"       yaml:"primary"       validate:"oneof=gemini anthropic ollama"`
	Fallbacks    []string `mapstructure:"fallbacks"     yaml:"fallbacks"     validate:"dive,oneof=gemini anthropic ollama"`
	GeminiKey    string   `mapstructure:"gemini_key"    yaml:"gemini_key"`
	AnthropicKey string   `mapstructure:"anthropic_key" yaml:"anthropic_key"`
	OllamaURL    string   `mapstructure:"ollama_url"    yaml:"ollama_url"`
	Model        string   `mapstructure:"model"         yaml:"model"`
	Temperature  float64  `mapstructure:"temperature"   yaml:"temperature"   validate:"gte=0,lte=2"`
	MaxTokens    int      `mapstructure:"max_tokens"    yaml:"max_tokens"    validate:"min=1"`

	// Per-provider retries inside the router, before falling back. The
	// contextual backend retries the whole chain, so the default is 0.
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0,max=5"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
}

// AggregateConfig holds aggregation and cache settings.
type AggregateConfig struct {
	RecentLimit          int           `mapstructure:"recent_limit"           yaml:"recent_limit"           validate:"min=1"`
	DefaultWindow        time.Duration `mapstructure:"default_window"         yaml:"default_window"         validate:"gt=0"`
	RotationThreshold    float64       `mapstructure:"rotation_threshold"     yaml:"rotation_threshold"     validate:"gte=0,lte=2"`
	MinTrendingCount     int           `mapstructure:"min_trending_count"     yaml:"min_trending_count"     validate:"min=1"`
	MinCorrelationPoints int           `mapstructure:"min_correlation_points" yaml:"min_correlation_points" validate:"min=2"`
	InstrumentTTL        time.Duration `mapstructure:"instrument_ttl"         yaml:"instrument_ttl"         validate:"gt=0"`
	SectorTTL            time.Duration `mapstructure:"sector_ttl"             yaml:"sector_ttl"             validate:"gt=0"`
	MarketTTL            time.Duration `mapstructure:"market_ttl"             yaml:"market_ttl"             validate:"gt=0"`
}

// SchedulerConfig holds cron specs used by the serve command.
type SchedulerConfig struct {
	Ingest       string        `mapstructure:"ingest"        yaml:"ingest"`
	Analyze      string        `mapstructure:"analyze"       yaml:"analyze"`
	Cleanup      string        `mapstructure:"cleanup"       yaml:"cleanup"`
	PendingBatch int           `mapstructure:"pending_batch" yaml:"pending_batch" validate:"min=1"`
	CleanupAfter time.Duration `mapstructure:"cleanup_after" yaml:"cleanup_after" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
}

// SourceConfig describes one configured feed.
type SourceConfig struct {
	ID       string `mapstructure:"id"       yaml:"id"       validate:"required"`
	Name     string `mapstructure:"name"     yaml:"name"`
	URL      string `mapstructure:"url"      yaml:"url"      validate:"required,url"`
	Category string `mapstructure:"category" yaml:"category"`
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.marketpulse/config.yaml (home directory)
//  3. /etc/marketpulse/config.yaml (system)
//
// Environment variables override config file values.
// Format: MARKETPULSE_<SECTION>_<KEY>, e.g., MARKETPULSE_LLM_GEMINI_KEY
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".marketpulse"))
	v.AddConfigPath("/etc/marketpulse")

	// Environment variable settings
	v.SetEnvPrefix("MARKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override sensitive values from environment
	overrideFromEnv(&cfg)

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("MARKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// DefaultWeights is the default ensemble weight profile.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		BackendContextualLLM:    0.4,
		BackendDomainClassifier: 0.3,
		BackendLexiconFast:      0.2,
		BackendLexiconBaseline:  0.1,
	}
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Storage
	v.SetDefault("storage.path", filepath.Join(homeDir(), ".marketpulse", "data"))

	// Ingest
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.timeout", 30*time.Second)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.backoff_base", time.Second)
	v.SetDefault("ingest.backoff_max", 30*time.Second)
	v.SetDefault("ingest.unhealthy_for", 15*time.Minute)
	v.SetDefault("ingest.max_items_per_feed", 50)
	v.SetDefault("ingest.user_agent", "Mozilla/5.0 (compatible; marketpulse/1.0)")

	// Dedup
	v.SetDefault("dedup.window", 72*time.Hour)
	v.SetDefault("dedup.max_hamming", 3)
	v.SetDefault("dedup.min_jaccard", 0.8)

	// Entity
	v.SetDefault("entity.corpus_path", "")
	v.SetDefault("entity.threshold", 0.85)
	v.SetDefault("entity.min_span_length", 4)

	// Sentiment
	v.SetDefault("sentiment.backends", []string{
		BackendContextualLLM, BackendDomainClassifier, BackendLexiconFast, BackendLexiconBaseline,
	})
	v.SetDefault("sentiment.weights", DefaultWeights())
	v.SetDefault("sentiment.confidence_floor", 0.1)
	v.SetDefault("sentiment.timeout", 20*time.Second)
	v.SetDefault("sentiment.contextual.requests_per_second", 1.0) // one call per second
	v.SetDefault("sentiment.contextual.burst", 1)
	v.SetDefault("sentiment.contextual.max_attempts", 3)
	v.SetDefault("sentiment.contextual.max_chars", 4000)
	v.SetDefault("sentiment.classifier.url", "")
	v.SetDefault("sentiment.classifier.requests_per_second", 5.0)
	v.SetDefault("sentiment.classifier.burst", 2)

	// LLM
	v.SetDefault("llm.primary", "gemini")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 16)
	v.SetDefault("llm.max_retries", 0)
	v.SetDefault("llm.retry_delay", time.Second)

	// Aggregate
	v.SetDefault("aggregate.recent_limit", 1000)
	v.SetDefault("aggregate.default_window", 24*time.Hour)
	v.SetDefault("aggregate.rotation_threshold", 0.2)
	v.SetDefault("aggregate.min_trending_count", 3)
	v.SetDefault("aggregate.min_correlation_points", 5)
	v.SetDefault("aggregate.instrument_ttl", 5*time.Minute)
	v.SetDefault("aggregate.sector_ttl", 15*time.Minute)
	v.SetDefault("aggregate.market_ttl", 30*time.Minute)

	// Scheduler
	v.SetDefault("scheduler.ingest", "@every 15m")
	v.SetDefault("scheduler.analyze", "@every 5m")
	v.SetDefault("scheduler.cleanup", "0 3 * * *")
	v.SetDefault("scheduler.pending_batch", 50)
	v.SetDefault("scheduler.cleanup_after", 30*24*time.Hour)

	// Logging
	v.SetDefault("logging.level", "info")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("MARKETPULSE_LLM_GEMINI_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
	if key := os.Getenv("MARKETPULSE_LLM_ANTHROPIC_KEY"); key != "" {
		cfg.LLM.AnthropicKey = key
	}
	if key := os.Getenv("MARKETPULSE_SENTIMENT_CLASSIFIER_TOKEN"); key != "" {
		cfg.Sentiment.Classifier.Token = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
