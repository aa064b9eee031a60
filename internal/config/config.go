// Package config provides configuration loading for the digital twin service.
//
// Configuration is assembled from a YAML file, .env files and environment
// variables, in increasing order of precedence. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration is returned when a required credential or endpoint is
// missing or a setting is out of range. It is fatal and never retried.
var ErrConfiguration = errors.New("configuration error")

// Vector store providers.
const (
	VectorStoreMemory  = "memory"
	VectorStoreChromem = "chromem"
	VectorStoreQdrant  = "qdrant"
	VectorStoreUpstash = "upstash"
)

// DefaultThreshold is the retrieval floor used when retrieval.threshold is
// absent. An explicit 0 is kept.
const DefaultThreshold = 0.1

// Embedding providers.
const (
	EmbeddingsHash      = "hash"
	EmbeddingsOpenAI    = "openai"
	EmbeddingsFastEmbed = "fastembed"
)

// Config holds the complete service configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Profile     ProfileConfig     `koanf:"profile"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Generation  GenerationConfig  `koanf:"generation"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	AllowOrigins    []string `koanf:"allow_origins"`
}

// ProfileConfig locates the profile document.
type ProfileConfig struct {
	Path string `koanf:"path"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	TopK      int     `koanf:"top_k"`
	Threshold float64 `koanf:"threshold"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Dimension int    `koanf:"dimension"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Provider string         `koanf:"provider"`
	Timeout  Duration       `koanf:"timeout"`
	Fallback FallbackConfig `koanf:"fallback"`
	Chromem  ChromemConfig  `koanf:"chromem"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Upstash  UpstashConfig  `koanf:"upstash"`
}

// FallbackConfig enables serving from the local index when the primary is unavailable.
type FallbackConfig struct {
	Enabled       bool     `koanf:"enabled"`
	ProbeInterval Duration `koanf:"probe_interval"`
}

// ChromemConfig configures the embedded persistent index.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the Qdrant gRPC index.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	APIKey       Secret   `koanf:"api_key"`
	UseTLS       bool     `koanf:"use_tls"`
	Collection   string   `koanf:"collection"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// UpstashConfig configures the Upstash Vector REST index.
type UpstashConfig struct {
	URL   string `koanf:"url"`
	Token Secret `koanf:"token"`
}

// GenerationConfig configures the chat completion client.
type GenerationConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Model      string        `koanf:"model"`
	APIKey     Secret        `koanf:"api_key"`
	Timeout    Duration      `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	RateLimit  float64       `koanf:"rate_limit"` // requests per second
	Burst      int           `koanf:"burst"`
	TopP       float32       `koanf:"top_p"`
	Pricing    PricingConfig `koanf:"pricing"`
	Persona    PersonaConfig `koanf:"persona"`
}

// PricingConfig holds per-1k-token prices in USD.
type PricingConfig struct {
	InputPer1K  float64 `koanf:"input_per_1k"`
	OutputPer1K float64 `koanf:"output_per_1k"`
}

// PersonaConfig describes who the twin speaks as.
type PersonaConfig struct {
	Name                 string `koanf:"name"`
	Role                 string `koanf:"role"`
	SignatureAchievement string `koanf:"signature_achievement"`
}

// LoggingConfig is mapped onto logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is mapped onto telemetry.Config at startup.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	ServiceName  string  `koanf:"service_name"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns a configuration with every default applied and no credentials.
func Default() *Config {
	cfg := &Config{Retrieval: RetrievalConfig{Threshold: DefaultThreshold}}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Profile.Path == "" {
		cfg.Profile.Path = "data/digitaltwin.json"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = EmbeddingsHash
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case EmbeddingsOpenAI:
			cfg.Embeddings.Model = "text-embedding-3-small"
		case EmbeddingsFastEmbed:
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		}
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = VectorStoreMemory
	}
	if cfg.VectorStore.Timeout == 0 {
		cfg.VectorStore.Timeout = Duration(10 * time.Second)
	}
	if cfg.VectorStore.Fallback.ProbeInterval == 0 {
		cfg.VectorStore.Fallback.ProbeInterval = Duration(30 * time.Second)
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/digitaltwin/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "digitaltwin"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "digitaltwin"
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = Duration(time.Second)
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama-3.1-70b-versatile"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(30 * time.Second)
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 3
	}
	if cfg.Generation.RateLimit == 0 {
		cfg.Generation.RateLimit = 0.5 // 30 requests per minute
	}
	if cfg.Generation.Burst == 0 {
		cfg.Generation.Burst = 5
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = 0.9
	}
	if cfg.Generation.Pricing.InputPer1K == 0 {
		cfg.Generation.Pricing.InputPer1K = 0.00059
	}
	if cfg.Generation.Pricing.OutputPer1K == 0 {
		cfg.Generation.Pricing.OutputPer1K = 0.00079
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "digitaltwin"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
}

// Validate checks the configuration and reports the first problem found.
// All returned errors wrap ErrConfiguration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return configErr("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return configErr("server.shutdown_timeout must be positive")
	}
	if c.Profile.Path == "" {
		return configErr("profile.path is required")
	}
	if c.Retrieval.TopK < 1 {
		return configErr("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return configErr("retrieval.threshold must be within [-1, 1], got %f", c.Retrieval.Threshold)
	}

	switch c.Embeddings.Provider {
	case EmbeddingsHash, EmbeddingsFastEmbed:
	case EmbeddingsOpenAI:
		if c.Embeddings.BaseURL == "" && !c.Embeddings.APIKey.IsSet() {
			return configErr("embeddings.api_key or embeddings.base_url is required for the openai provider")
		}
	default:
		return configErr("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 32 {
		return configErr("embeddings.dimension must be >= 32, got %d", c.Embeddings.Dimension)
	}

	switch c.VectorStore.Provider {
	case VectorStoreMemory, VectorStoreChromem:
	case VectorStoreQdrant:
		if c.VectorStore.Qdrant.Host == "" {
			return configErr("vectorstore.qdrant.host is required")
		}
	case VectorStoreUpstash:
		if c.VectorStore.Upstash.URL == "" {
			return configErr("vectorstore.upstash.url is required (UPSTASH_VECTOR_REST_URL)")
		}
		if !c.VectorStore.Upstash.Token.IsSet() {
			return configErr("vectorstore.upstash.token is required (UPSTASH_VECTOR_REST_TOKEN)")
		}
	default:
		return configErr("unknown vectorstore provider %q", c.VectorStore.Provider)
	}

	if !c.Generation.APIKey.IsSet() {
		return configErr("generation.api_key is required (GROQ_API_KEY)")
	}
	if c.Generation.Timeout.Duration() <= 0 {
		return configErr("generation.timeout must be positive")
	}
	if c.Generation.RateLimit <= 0 || c.Generation.Burst < 1 {
		return configErr("generation.rate_limit and generation.burst must be positive")
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return configErr("telemetry.sampling_rate must be between 0 and 1, got %f", c.Telemetry.SamplingRate)
	}

	return nil
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
