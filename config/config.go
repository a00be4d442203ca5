package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig holds scheduler and worker policy.
type EngineConfig struct {
	// Concurrency bounds in-flight nodes; zero derives it from tool limits.
	Concurrency         int           `yaml:"concurrency"`
	Workers             int           `yaml:"workers"`
	MaxAttempts         int           `yaml:"max_attempts"`
	ValidationRetries   int           `yaml:"validation_retries"`
	BaseBackoff         time.Duration `yaml:"base_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	RateLimitMultiplier float64       `yaml:"rate_limit_multiplier"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	DefaultTopK         int           `yaml:"default_top_k"`
}

// CheckpointConfig holds the policy for unresolved checkpoints.
type CheckpointConfig struct {
	// Timeout of zero blocks until a decision arrives or the request is cancelled.
	Timeout         time.Duration `yaml:"timeout"`
	TimeoutDecision string        `yaml:"timeout_decision"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	// Provider is one of "mock", "anthropic", "openai".
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// MaxConcurrency caps concurrent completions; it feeds the scheduler's
	// default concurrency.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// APIKey resolves the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// RetrievalConfig seeds the in-memory retrieval gateway.
type RetrievalConfig struct {
	Inline []DocumentConfig `yaml:"documents,omitempty"`
	// Files are loaded as one document each, keyed by file name.
	Files []string `yaml:"files,omitempty"`
}

// DocumentConfig is one inline corpus document.
type DocumentConfig struct {
	SourceRef string            `yaml:"source_ref"`
	Content   string            `yaml:"content"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
}

// StorageConfig selects the persistence drivers.
type StorageConfig struct {
	Requests  RequestStoreConfig  `yaml:"requests"`
	Evidence  EvidenceStoreConfig `yaml:"evidence"`
	Artifacts ArtifactStoreConfig `yaml:"artifacts"`
}

// RequestStoreConfig configures request record persistence ("memory" or "mysql").
type RequestStoreConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig configures a MySQL connection.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EvidenceStoreConfig configures the evidence store ("memory" or "redis").
type EvidenceStoreConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// ArtifactStoreConfig configures the artifact archive ("memory" or "redis").
type ArtifactStoreConfig struct {
	Driver string        `yaml:"driver"`
	Redis  RedisConfig   `yaml:"redis"`
	TTL    time.Duration `yaml:"ttl"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// QueueConfig selects the submission queue ("memory", "redis" or "rabbitmq").
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Size     int            `yaml:"size"`
	Redis    RedisQueue     `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisQueue configures the Redis list queue.
type RedisQueue struct {
	RedisConfig `yaml:",inline"`
	Queue       string        `yaml:"queue"`
	BlockWait   time.Duration `yaml:"block_wait"`
}

// RabbitMQConfig configures the RabbitMQ queue.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load parses the YAML file at path, applies defaults and validates it.
// Relative retrieval files resolve against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse decodes YAML content. baseDir anchors relative paths.
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills every field the user left empty.
func (c *Config) applyDefaults(baseDir string) {
	e := &c.Engine
	if e.Workers <= 0 {
		e.Workers = 2
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.ValidationRetries <= 0 {
		e.ValidationRetries = 1
	}
	if e.BaseBackoff <= 0 {
		e.BaseBackoff = 200 * time.Millisecond
	}
	if e.MaxBackoff <= 0 {
		e.MaxBackoff = 10 * time.Second
	}
	if e.RateLimitMultiplier < 1 {
		e.RateLimitMultiplier = 4
	}
	if e.AttemptTimeout <= 0 {
		e.AttemptTimeout = 60 * time.Second
	}
	if e.ToolTimeout <= 0 {
		e.ToolTimeout = 60 * time.Second
	}
	if e.DefaultTopK <= 0 {
		e.DefaultTopK = 5
	}

	if c.Checkpoint.TimeoutDecision == "" {
		c.Checkpoint.TimeoutDecision = "Rejected"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "mock"
	}
	if c.LLM.APIKeyEnv == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		case "openai":
			c.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}

	for i, f := range c.Retrieval.Files {
		if baseDir != "" && !filepath.IsAbs(f) {
			c.Retrieval.Files[i] = filepath.Join(baseDir, f)
		}
	}

	if c.Storage.Requests.Driver == "" {
		c.Storage.Requests.Driver = "memory"
	}
	if c.Storage.Evidence.Driver == "" {
		c.Storage.Evidence.Driver = "memory"
	}
	if c.Storage.Artifacts.Driver == "" {
		c.Storage.Artifacts.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks driver names and required connection settings.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want %s)", field, value, strings.Join(allowed, ", ")))
	}
	check("llm.provider", c.LLM.Provider, "mock", "anthropic", "openai")
	check("checkpoint.timeout_decision", c.Checkpoint.TimeoutDecision, "Approved", "Rejected")
	check("storage.requests.driver", c.Storage.Requests.Driver, "memory", "mysql")
	check("storage.evidence.driver", c.Storage.Evidence.Driver, "memory", "redis")
	check("storage.artifacts.driver", c.Storage.Artifacts.Driver, "memory", "redis")
	check("queue.driver", c.Queue.Driver, "memory", "redis", "rabbitmq")
	check("logging.format", c.Logging.Format, "text", "json")

	if c.Storage.Requests.Driver == "mysql" && c.Storage.Requests.MySQL.DSN == "" {
		errs = append(errs, errors.New("storage.requests.mysql.dsn is required"))
	}
	if c.Storage.Evidence.Driver == "redis" && c.Storage.Evidence.Redis.Address == "" {
		errs = append(errs, errors.New("storage.evidence.redis.address is required"))
	}
	if c.Storage.Artifacts.Driver == "redis" && c.Storage.Artifacts.Redis.Address == "" {
		errs = append(errs, errors.New("storage.artifacts.redis.address is required"))
	}
	if c.Queue.Driver == "redis" && c.Queue.Redis.Address == "" {
		errs = append(errs, errors.New("queue.redis.address is required"))
	}
	if c.Queue.Driver == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("queue.rabbitmq.url is required"))
	}
	if c.Engine.Concurrency < 0 {
		errs = append(errs, errors.New("engine.concurrency must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
