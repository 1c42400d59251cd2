package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"alertrank/internal/scoring"
)

// Config is the root configuration.
type Config struct {
	AlertRank AlertRankConfig `yaml:"alertrank"`
}

// AlertRankConfig is the project configuration.
type AlertRankConfig struct {
	Input      InputConfig      `yaml:"input"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Retriever  RetrieverConfig  `yaml:"retriever"`
	Enricher   EnricherConfig   `yaml:"enricher"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Triage     TriageConfig     `yaml:"triage"`
	Output     OutputConfig     `yaml:"output"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	// Format is auto, native or wazuh.
	Format string      `yaml:"format"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	Key           string        `yaml:"key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ClassifierConfig points at the classification service. An empty URL
// disables it and the confidence term is always degraded.
type ClassifierConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Models  []string          `yaml:"models"`
	Headers map[string]string `yaml:"headers"`
	// Retries applies to 429 and 5xx replies, per model.
	Retries int `yaml:"retries"`
}

// RetrieverConfig points at the semantic-search service.
type RetrieverConfig struct {
	URL           string            `yaml:"url"`
	Collection    string            `yaml:"collection"`
	TopK          int               `yaml:"top_k"`
	MinSimilarity *float64          `yaml:"min_similarity"`
	Timeout       time.Duration     `yaml:"timeout"`
	CacheSize     int               `yaml:"cache_size"`
	Headers       map[string]string `yaml:"headers"`
	Retries       int               `yaml:"retries"`
}

// EnricherConfig controls optional LLM enrichment.
type EnricherConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	PrimaryModel   string        `yaml:"primary_model"`
	FallbackModels []string      `yaml:"fallback_models"`
	Timeout        time.Duration `yaml:"timeout"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	Retries        int           `yaml:"retries"`
}

// ScoringConfig controls the priority formula.
type ScoringConfig struct {
	Weights       *scoring.Weights   `yaml:"weights"`
	SeverityScale map[string]float64 `yaml:"severity_scale"`
	HalfLife      time.Duration      `yaml:"half_life"`
}

// KnowledgeConfig controls the technique severity catalog.
type KnowledgeConfig struct {
	SigmaRulesPath string `yaml:"sigma_rules_path"`
}

// TriageConfig controls per-call timeouts and batch concurrency.
type TriageConfig struct {
	ClassifyTimeout  time.Duration `yaml:"classify_timeout"`
	RetrieveTimeout  time.Duration `yaml:"retrieve_timeout"`
	EnrichTimeout    time.Duration `yaml:"enrich_timeout"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
}

// OutputConfig controls where scored alerts go.
type OutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|clickhouse|nats
	MinScore   float64                `yaml:"min_score"`
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
	NATS       NATSOutputConfig       `yaml:"nats"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path   string `yaml:"path"`
	Append bool   `yaml:"append"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// NATSOutputConfig config for publishing scored alerts.
type NATSOutputConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
}

// StoreConfig controls the ranked alert store.
type StoreConfig struct {
	Enabled bool             `yaml:"enabled"`
	Redis   StoreRedisConfig `yaml:"redis"`
}

// StoreRedisConfig controls Redis access for the ranked store.
type StoreRedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int64         `yaml:"max_entries"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBatch     int    `yaml:"max_batch"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
