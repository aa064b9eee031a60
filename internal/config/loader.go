package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every service-specific environment variable.
	EnvPrefix = "DIGITALTWIN_"
)

// nestedSections lists env key prefixes that map to a sub-section rather
// than to a field. Longest prefixes first.
var nestedSections = []string{
	"vectorstore_fallback_",
	"vectorstore_chromem_",
	"vectorstore_qdrant_",
	"vectorstore_upstash_",
	"generation_pricing_",
	"generation_persona_",
}

// wellKnownEnv maps provider-conventional variables onto config keys. They
// are consulted only when the prefixed variable and the file leave the key empty.
var wellKnownEnv = []struct {
	name string
	set  func(cfg *Config, v string)
	get  func(cfg *Config) string
}{
	{"GROQ_API_KEY",
		func(c *Config, v string) { c.Generation.APIKey = Secret(v) },
		func(c *Config) string { return c.Generation.APIKey.Value() }},
	{"UPSTASH_VECTOR_REST_URL",
		func(c *Config, v string) { c.VectorStore.Upstash.URL = v },
		func(c *Config) string { return c.VectorStore.Upstash.URL }},
	{"UPSTASH_VECTOR_REST_TOKEN",
		func(c *Config, v string) { c.VectorStore.Upstash.Token = Secret(v) },
		func(c *Config) string { return c.VectorStore.Upstash.Token.Value() }},
	{"OPENAI_API_KEY",
		func(c *Config, v string) { c.Embeddings.APIKey = Secret(v) },
		func(c *Config) string { return c.Embeddings.APIKey.Value() }},
	{"QDRANT_API_KEY",
		func(c *Config, v string) { c.VectorStore.Qdrant.APIKey = Secret(v) },
		func(c *Config) string { return c.VectorStore.Qdrant.APIKey.Value() }},
}

// DefaultPath returns ~/.config/digitaltwin/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "digitaltwin", "config.yaml"), nil
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. DIGITALTWIN_* environment variables (DIGITALTWIN_SERVER_PORT -> server.port)
//  2. Provider-conventional variables (GROQ_API_KEY, UPSTASH_VECTOR_REST_URL, ...)
//  3. YAML config file
//  4. Defaults
//
// Variables from .env.local and .env in the working directory are loaded into
// the process environment first; variables already set are not overridden.
//
// A missing config file is not an error. An empty configPath selects DefaultPath.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := loadDotEnv(".env.local", ".env"); err != nil {
		return nil, err
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, w := range wellKnownEnv {
		if w.get(&cfg) != "" {
			continue
		}
		if v := os.Getenv(w.name); v != "" {
			w.set(&cfg, v)
		}
	}

	// 0 is a meaningful threshold, so only an absent key takes the default.
	if !k.Exists("retrieval.threshold") {
		cfg.Retrieval.Threshold = DefaultThreshold
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps DIGITALTWIN_SECTION_FIELD_NAME to section.field_name.
//
//	DIGITALTWIN_SERVER_PORT               -> server.port
//	DIGITALTWIN_GENERATION_MAX_RETRIES    -> generation.max_retries
//	DIGITALTWIN_VECTORSTORE_QDRANT_HOST   -> vectorstore.qdrant.host
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	for _, prefix := range nestedSections {
		if strings.HasPrefix(lower, prefix) {
			parts := strings.SplitN(strings.TrimSuffix(prefix, "_"), "_", 2)
			return parts[0] + "." + parts[1] + "." + strings.TrimPrefix(lower, prefix)
		}
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// loadDotEnv loads each file that exists. Earlier files win.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
