// Package config defines the YAML configuration tree for the PAI platform
// and the loader that reads it with environment variable expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a PAI process.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LLM        LLMConfig        `yaml:"llm"`
	Redis      RedisConfig      `yaml:"redis"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Memory     MemoryConfig     `yaml:"memory"`
	Agents     []AgentConfig    `yaml:"agents"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LLMConfig configures the model router and the Anthropic provider.
type LLMConfig struct {
	APIKey     string            `yaml:"api_key"`
	BaseURL    string            `yaml:"base_url"`
	MaxRetries int               `yaml:"max_retries"`
	RetryDelay time.Duration     `yaml:"retry_delay"`
	Tiers      map[string]string `yaml:"tiers"` // fast|balanced|powerful -> model id
	AutoTier   string            `yaml:"auto_tier"`
}

// RedisConfig configures the shared Redis connection used by both the bus
// and the key-value store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`

	LearningsCollection string `yaml:"learnings_collection"`
	SkillsCollection    string `yaml:"skills_collection"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Circuit breaker settings.
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// MemoryConfig configures the three memory tiers.
type MemoryConfig struct {
	HotTTL            time.Duration `yaml:"hot_ttl"`
	ColdRoot          string        `yaml:"cold_root"`
	ArchiveAfterDays  int           `yaml:"archive_after_days"`
	HighConfDays      int           `yaml:"high_confidence_days"`
	HighConfThreshold float64       `yaml:"high_confidence_threshold"`
	ArchiveBatchSize  int           `yaml:"archive_batch_size"`
}

// AgentConfig describes one agent to run in this process.
type AgentConfig struct {
	Type              string        `yaml:"type"`
	Name              string        `yaml:"name"`
	BaseLevel         int           `yaml:"base_level"`
	Capabilities      []string      `yaml:"capabilities"`
	ElevationCeiling  int           `yaml:"elevation_ceiling"`
	MaxIterations     int           `yaml:"max_iterations"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	GracefulTimeout   time.Duration `yaml:"graceful_timeout"`
	SystemPrompt      string        `yaml:"system_prompt"`
}

// DispatchConfig configures the supervisor-side dispatcher.
type DispatchConfig struct {
	MaxActiveTasks int           `yaml:"max_active_tasks"`
	DedupWindow    time.Duration `yaml:"dedup_window"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryDelay == 0 {
		c.LLM.RetryDelay = time.Second
	}
	if c.LLM.Tiers == nil {
		c.LLM.Tiers = map[string]string{
			"fast":     "claude-3-haiku-20240307",
			"balanced": "claude-sonnet-4-20250514",
			"powerful": "claude-opus-4-20250514",
		}
	}
	if c.LLM.AutoTier == "" {
		c.LLM.AutoTier = "balanced"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.LearningsCollection == "" {
		c.Qdrant.LearningsCollection = "pai_learnings"
	}
	if c.Qdrant.SkillsCollection == "" {
		c.Qdrant.SkillsCollection = "pai_skills"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
	if c.Embeddings.FailureThreshold == 0 {
		c.Embeddings.FailureThreshold = 5
	}
	if c.Embeddings.ResetTimeout == 0 {
		c.Embeddings.ResetTimeout = 30 * time.Second
	}
	if c.Memory.HotTTL == 0 {
		c.Memory.HotTTL = 24 * time.Hour
	}
	if c.Memory.ColdRoot == "" {
		c.Memory.ColdRoot = "./data"
	}
	if c.Memory.ArchiveAfterDays == 0 {
		c.Memory.ArchiveAfterDays = 30
	}
	if c.Memory.HighConfDays == 0 {
		c.Memory.HighConfDays = 60
	}
	if c.Memory.HighConfThreshold == 0 {
		c.Memory.HighConfThreshold = 0.9
	}
	if c.Memory.ArchiveBatchSize == 0 {
		c.Memory.ArchiveBatchSize = 100
	}
	if c.Dispatch.MaxActiveTasks == 0 {
		c.Dispatch.MaxActiveTasks = 32
	}
	if c.Dispatch.DedupWindow == 0 {
		c.Dispatch.DedupWindow = time.Hour
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Name == "" {
			a.Name = a.Type
		}
		if a.MaxIterations == 0 {
			a.MaxIterations = 50
		}
		if a.HeartbeatInterval == 0 {
			a.HeartbeatInterval = 30 * time.Second
		}
		if a.GracefulTimeout == 0 {
			a.GracefulTimeout = 30 * time.Second
		}
	}
}

// Validate checks config invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	for _, a := range c.Agents {
		if a.Type == "" {
			return fmt.Errorf("agent config requires a type")
		}
		if a.BaseLevel < 0 || a.BaseLevel > 4 {
			return fmt.Errorf("agent %q: base level %d out of range [0,4]", a.Type, a.BaseLevel)
		}
		if a.ElevationCeiling != 0 && a.ElevationCeiling < a.BaseLevel {
			return fmt.Errorf("agent %q: elevation ceiling below base level", a.Type)
		}
	}
	return nil
}
