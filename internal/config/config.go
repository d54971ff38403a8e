// Package config loads service configuration from a YAML file with
// environment overrides for every key. Provider API keys come from the
// environment only and are never written to the config file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	APIPrefix   string   `mapstructure:"api_prefix"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig holds Redis settings.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// VectorConfig selects and tunes the vector backend.
type VectorConfig struct {
	Backend    string `mapstructure:"backend"` // "memory" or "qdrant"
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// LLMConfig holds provider keys and routing defaults.
type LLMConfig struct {
	OpenAIKey    string `mapstructure:"-"`
	AnthropicKey string `mapstructure:"-"`
	GoogleKey    string `mapstructure:"-"`

	DefaultProvider    string        `mapstructure:"default_provider"`
	DefaultModel       string        `mapstructure:"default_model"`
	DefaultTemperature float64       `mapstructure:"default_temperature"`
	DefaultMaxTokens   int           `mapstructure:"default_max_tokens"`
	GlobalTimeout      time.Duration `mapstructure:"global_timeout"`
	GlobalMaxRetries   int           `mapstructure:"global_max_retries"`
	// AllowHashFallback serves deterministic local embeddings when no
	// hosted embedding provider is configured at all. It never mixes with
	// a hosted chain.
	AllowHashFallback bool `mapstructure:"allow_hash_fallback"`
}

// CrawlerConfig tunes article fetching.
type CrawlerConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// LoggingConfig tunes the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Vector   VectorConfig   `mapstructure:"vector"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// RateLimitsFile is the models.yaml path watched for hot reload.
	RateLimitsFile string `mapstructure:"rate_limits_file"`
	// ContentServiceURL points a front-facing deployment at the
	// processing service. Empty means this process serves both roles.
	ContentServiceURL string `mapstructure:"content_service_url"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.api_prefix", "/api/v1")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pagesage")
	v.SetDefault("database.database", "pagesage")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.default_ttl", "1h")

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6333)
	v.SetDefault("vector.collection", "pagesage_artifacts")
	v.SetDefault("vector.dimension", 1536)

	v.SetDefault("llm.default_temperature", 0.7)
	v.SetDefault("llm.default_max_tokens", 1024)
	v.SetDefault("llm.global_timeout", "30s")
	v.SetDefault("llm.global_max_retries", 3)
	v.SetDefault("llm.allow_hash_fallback", true)

	v.SetDefault("crawler.timeout", "20s")
	v.SetDefault("crawler.max_body_bytes", 5<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("rate_limits_file", "config/models.yaml")
}

// envBindings maps the documented environment keys onto config paths.
var envBindings = map[string]string{
	"http.port":            "HTTP_PORT",
	"http.host":            "HTTP_HOST",
	"database.host":        "DB_HOST",
	"database.port":        "DB_PORT",
	"database.user":        "DB_USER",
	"database.password":    "DB_PASSWORD",
	"database.database":    "DB_NAME",
	"cache.enabled":        "ENABLE_CACHE",
	"cache.addr":           "REDIS_ADDR",
	"cache.password":       "REDIS_PASSWORD",
	"cache.default_ttl":    "CACHE_DEFAULT_TTL",
	"vector.backend":       "VECTOR_BACKEND",
	"vector.host":          "QDRANT_HOST",
	"vector.port":          "QDRANT_PORT",
	"llm.default_provider": "LLM_DEFAULT_PROVIDER",
	"llm.default_model":    "LLM_DEFAULT_MODEL",
	"llm.default_temperature": "LLM_DEFAULT_TEMPERATURE",
	"llm.default_max_tokens":  "LLM_DEFAULT_MAX_TOKENS",
	"llm.global_timeout":      "LLM_GLOBAL_TIMEOUT",
	"llm.global_max_retries":  "LLM_GLOBAL_MAX_RETRIES",
	"crawler.timeout":         "CRAWLER_TIMEOUT",
	"crawler.max_body_bytes":  "CRAWLER_MAX_BODY_BYTES",
	"logging.level":           "LOG_LEVEL",
	"content_service_url":     "CONTENT_SERVICE_URL",
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, apperrors.Wrap(apperrors.CodeValidation, "reading config file failed", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "unmarshaling config failed", err)
	}

	// Provider keys are environment-only.
	cfg.LLM.OpenAIKey = v.GetString("OPENAI_API_KEY")
	cfg.LLM.AnthropicKey = v.GetString("ANTHROPIC_API_KEY")
	cfg.LLM.GoogleKey = v.GetString("GOOGLE_API_KEY")
	if cfg.LLM.GoogleKey == "" {
		cfg.LLM.GoogleKey = v.GetString("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return apperrors.Newf(apperrors.CodeValidation, "http.port %d out of range", c.HTTP.Port)
	}
	switch c.Vector.Backend {
	case "memory", "qdrant":
	default:
		return apperrors.Newf(apperrors.CodeValidation, "unknown vector backend %q", c.Vector.Backend)
	}
	if c.Vector.Dimension <= 0 {
		return apperrors.New(apperrors.CodeValidation, "vector.dimension must be positive")
	}
	if c.LLM.DefaultTemperature < 0 || c.LLM.DefaultTemperature > 2 {
		return apperrors.Newf(apperrors.CodeValidation, "llm.default_temperature %.2f out of range [0,2]", c.LLM.DefaultTemperature)
	}
	return nil
}

// ActiveProviders lists providers with a configured key, in preference
// order: the default provider first, then the rest.
func (c *Config) ActiveProviders() []string {
	available := []string{}
	if c.LLM.OpenAIKey != "" {
		available = append(available, "openai")
	}
	if c.LLM.AnthropicKey != "" {
		available = append(available, "anthropic")
	}
	if c.LLM.GoogleKey != "" {
		available = append(available, "gemini")
	}
	def := strings.ToLower(c.LLM.DefaultProvider)
	if def == "" {
		return available
	}
	ordered := make([]string, 0, len(available))
	for _, p := range available {
		if p == def {
			ordered = append(ordered, p)
		}
	}
	for _, p := range available {
		if p != def {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
