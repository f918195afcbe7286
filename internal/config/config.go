// Package config loads the runtime's configuration document: server
// settings, model endpoint credentials, hot/cold memory store
// connections, and the pathway directory to load on startup.
package config

import (
	"fmt"
	"time"

	"github.com/cortexd/runtime/internal/apperrors"
)

// ServerConfig controls the process's own surface (health/metrics
// listeners); transport for entity invocation is out of scope.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// ModelEndpointConfig configures one provider family behind the
// Model Endpoint Adapter.
type ModelEndpointConfig struct {
	Provider       string        `yaml:"provider"` // anthropic, openai, bedrock
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url,omitempty"`
	Region         string        `yaml:"region,omitempty"`            // bedrock
	AccessKeyID    string        `yaml:"access_key_id,omitempty"`     // bedrock; empty uses the default AWS credential chain
	SecretAccessKey string       `yaml:"secret_access_key,omitempty"` // bedrock
	SessionToken   string        `yaml:"session_token,omitempty"`     // bedrock, for temporary credentials
	DefaultModel   string        `yaml:"default_model"`
	RequestsPerSec float64       `yaml:"requests_per_second"`
	Timeout        time.Duration `yaml:"timeout"`
}

// HotMemoryConfig configures the Redis-backed hot memory store.
type HotMemoryConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`

	// EncryptionKey, when set, is the system-level key used for
	// transparent symmetric encryption of every stored value
	// (nacl/secretbox). 32 bytes, base64 in config.
	EncryptionKey string `yaml:"encryption_key,omitempty"`
}

// ColdMemoryConfig configures the vector-searchable memory index.
type ColdMemoryConfig struct {
	Backend   string `yaml:"backend"` // sqlitevec, pgvector
	DSN       string `yaml:"dsn"`
	Dimension int    `yaml:"dimension"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	RecallWeights RecallWeightsConfig `yaml:"recall_weights"`
}

// RecallWeightsConfig are the re-ranking weights for recall score
// (spec's calculateRecallScore); the authoritative default split is
// (0.7, 0.2, 0.1) per the design document, exposed here as config
// rather than hard-coded, per the spec's own open-question guidance.
type RecallWeightsConfig struct {
	Vector     float64 `yaml:"vector"`
	Importance float64 `yaml:"importance"`
	Recency    float64 `yaml:"recency"`
	DecayRate  float64 `yaml:"default_decay_rate"`
}

// EmbeddingsConfig configures the embedding provider used to index and
// query cold memory.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model"`

	OllamaURL string `yaml:"ollama_url,omitempty"`
}

// EntityStoreConfig configures the document-backed entity store.
type EntityStoreConfig struct {
	Driver string `yaml:"driver"` // postgres, sqlite
	DSN    string `yaml:"dsn"`
}

// PathwaysConfig controls where declarative pathways are loaded from.
type PathwaysConfig struct {
	Dir        string `yaml:"dir"`
	HotReload  bool   `yaml:"hot_reload"`
}

// SynthesisConfig controls the Narrative Synthesizer and the
// Continuity Service's background scheduling of it.
type SynthesisConfig struct {
	SynthesisModel    string        `yaml:"synthesis_model"`
	PulseInterval     time.Duration `yaml:"pulse_interval"`
	DeepLookbackDays  int           `yaml:"deep_lookback_days"`
	DeepMaxMemories   int           `yaml:"deep_max_memories"`
	DuplicateCosine   float64       `yaml:"duplicate_cosine_threshold"`
}

// ObservabilityConfig controls structured logging, metrics, and trace
// export.
type ObservabilityConfig struct {
	OTLPEndpoint   string  `yaml:"otlp_endpoint,omitempty"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version,omitempty"`
	Environment    string  `yaml:"environment,omitempty"`
	LogLevel       string  `yaml:"log_level,omitempty"`
	LogFormat      string  `yaml:"log_format,omitempty"`
	TraceSampling  float64 `yaml:"trace_sampling,omitempty"`
}

// CronScheduleConfig describes when a cron job fires: exactly one of
// Cron, Every, or At should be set.
type CronScheduleConfig struct {
	Cron     string        `yaml:"cron,omitempty"`
	Every    time.Duration `yaml:"every,omitempty"`
	At       string        `yaml:"at,omitempty"`
	Timezone string        `yaml:"timezone,omitempty"`
}

// CronRetryConfig controls exponential backoff retry of a failed job.
type CronRetryConfig struct {
	MaxRetries int           `yaml:"max_retries,omitempty"`
	Backoff    time.Duration `yaml:"backoff,omitempty"`
	MaxBackoff time.Duration `yaml:"max_backoff,omitempty"`
}

// CronDeepSynthesisConfig selects which entity/user pairs a deep
// synthesis job consolidates. An empty EntityID/UserID means "every
// active session currently tracked in hot memory."
type CronDeepSynthesisConfig struct {
	EntityID string `yaml:"entity_id,omitempty"`
	UserID   string `yaml:"user_id,omitempty"`
}

// CronJobConfig is one entry in CronConfig.Jobs.
type CronJobConfig struct {
	ID            string                   `yaml:"id"`
	Name          string                   `yaml:"name,omitempty"`
	Type          string                   `yaml:"type"` // deep_synthesis
	Enabled       bool                     `yaml:"enabled"`
	Schedule      CronScheduleConfig       `yaml:"schedule"`
	DeepSynthesis *CronDeepSynthesisConfig `yaml:"deep_synthesis,omitempty"`
	Retry         CronRetryConfig          `yaml:"retry,omitempty"`
}

// CronConfig configures the scheduler that drives periodic work such
// as deep memory synthesis.
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`
}

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig                   `yaml:"server"`
	ModelEndpoints map[string]ModelEndpointConfig `yaml:"model_endpoints"`
	HotMemory     HotMemoryConfig                `yaml:"hot_memory"`
	ColdMemory    ColdMemoryConfig                `yaml:"cold_memory"`
	EntityStore   EntityStoreConfig               `yaml:"entity_store"`
	Pathways      PathwaysConfig                  `yaml:"pathways"`
	Synthesis     SynthesisConfig                 `yaml:"synthesis"`
	Observability ObservabilityConfig             `yaml:"observability"`
	Cron          CronConfig                      `yaml:"cron"`
}

// Load reads and validates a configuration document from path,
// resolving $include directives along the way.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "config.Load", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "config.Load", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HotMemory.Namespace == "" {
		cfg.HotMemory.Namespace = "cortex"
	}
	if cfg.ColdMemory.Dimension == 0 {
		cfg.ColdMemory.Dimension = 1536
	}
	if cfg.ColdMemory.RecallWeights == (RecallWeightsConfig{}) {
		cfg.ColdMemory.RecallWeights = RecallWeightsConfig{
			Vector: 0.7, Importance: 0.2, Recency: 0.1, DecayRate: 0.05,
		}
	}
	if cfg.Pathways.Dir == "" {
		cfg.Pathways.Dir = "pathways"
	}
	if cfg.Synthesis.PulseInterval == 0 {
		cfg.Synthesis.PulseInterval = 5 * time.Minute
	}
	if cfg.Synthesis.DeepLookbackDays == 0 {
		cfg.Synthesis.DeepLookbackDays = 30
	}
	if cfg.Synthesis.DeepMaxMemories == 0 {
		cfg.Synthesis.DeepMaxMemories = 500
	}
	if cfg.Synthesis.DuplicateCosine == 0 {
		cfg.Synthesis.DuplicateCosine = 0.9
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "cortexd"
	}
	if len(cfg.Cron.Jobs) == 0 {
		cfg.Cron.Jobs = []CronJobConfig{{
			ID:            "deep-synthesis",
			Name:          "deep memory synthesis",
			Type:          "deep_synthesis",
			Enabled:       true,
			Schedule:      CronScheduleConfig{Every: time.Hour},
			DeepSynthesis: &CronDeepSynthesisConfig{},
			Retry:         CronRetryConfig{MaxRetries: 3, Backoff: 30 * time.Second, MaxBackoff: 10 * time.Minute},
		}}
	}
}

// Validate enforces the Configuration-kind error rule: missing
// required settings are fatal at startup, not silently defaulted.
func (c *Config) Validate() error {
	if len(c.ModelEndpoints) == 0 {
		return apperrors.New(apperrors.Configuration, "config.Validate", "no model endpoint configured")
	}
	if c.EntityStore.DSN == "" {
		return apperrors.New(apperrors.Configuration, "config.Validate", "no entity store configured")
	}
	if c.HotMemory.Addr == "" {
		return apperrors.New(apperrors.Configuration, "config.Validate", "no hot memory store configured")
	}
	w := c.ColdMemory.RecallWeights
	if sum := w.Vector + w.Importance + w.Recency; sum <= 0 {
		return apperrors.New(apperrors.Configuration, "config.Validate", fmt.Sprintf("recall weights must sum to a positive number, got %f", sum))
	}
	return nil
}
