package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Generation.APIKey = "gsk_test"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.1, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, EmbeddingsHash, cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, VectorStoreMemory, cfg.VectorStore.Provider)
	assert.Equal(t, "llama-3.1-70b-versatile", cfg.Generation.Model)
	assert.Equal(t, 30*time.Second, cfg.Generation.Timeout.Duration())
	assert.InDelta(t, 0.00059, cfg.Generation.Pricing.InputPer1K, 1e-12)
	assert.InDelta(t, 0.00079, cfg.Generation.Pricing.OutputPer1K, 1e-12)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing generation key", func(c *Config) { c.Generation.APIKey = "" }, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, false},
		{"threshold out of range", func(c *Config) { c.Retrieval.Threshold = 1.5 }, false},
		{"unknown store", func(c *Config) { c.VectorStore.Provider = "pinecone" }, false},
		{"unknown embeddings", func(c *Config) { c.Embeddings.Provider = "word2vec" }, false},
		{"upstash without token", func(c *Config) {
			c.VectorStore.Provider = VectorStoreUpstash
			c.VectorStore.Upstash.URL = "https://example.upstash.io"
		}, false},
		{"upstash complete", func(c *Config) {
			c.VectorStore.Provider = VectorStoreUpstash
			c.VectorStore.Upstash.URL = "https://example.upstash.io"
			c.VectorStore.Upstash.Token = "tok"
		}, true},
		{"qdrant", func(c *Config) { c.VectorStore.Provider = VectorStoreQdrant }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"DIGITALTWIN_SERVER_PORT":                  "server.port",
		"DIGITALTWIN_GENERATION_MAX_RETRIES":       "generation.max_retries",
		"DIGITALTWIN_VECTORSTORE_QDRANT_HOST":      "vectorstore.qdrant.host",
		"DIGITALTWIN_VECTORSTORE_UPSTASH_URL":      "vectorstore.upstash.url",
		"DIGITALTWIN_VECTORSTORE_FALLBACK_ENABLED": "vectorstore.fallback.enabled",
		"DIGITALTWIN_GENERATION_PERSONA_NAME":      "generation.persona.name",
		"DIGITALTWIN_RETRIEVAL_TOP_K":              "retrieval.top_k",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, envKey(in))
		})
	}
}

func TestLoadWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
server:
  port: 8081
retrieval:
  top_k: 4
generation:
  model: llama-3.3-70b-versatile
vectorstore:
  provider: chromem
  chromem:
    path: ` + dir + `
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("GROQ_API_KEY", "gsk_from_env")
	t.Setenv("DIGITALTWIN_RETRIEVAL_TOP_K", "3")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Retrieval.TopK, "env overrides file")
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Generation.Model)
	assert.Equal(t, VectorStoreChromem, cfg.VectorStore.Provider)
	assert.Equal(t, dir, cfg.VectorStore.Chromem.Path)
	assert.Equal(t, "gsk_from_env", cfg.Generation.APIKey.Value())
}

func TestLoadWithFile_Threshold(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_from_env")
	dir := t.TempDir()

	unset := filepath.Join(dir, "unset.yaml")
	require.NoError(t, os.WriteFile(unset, []byte("retrieval:\n  top_k: 4\n"), 0o600))
	cfg, err := LoadWithFile(unset)
	require.NoError(t, err)
	assert.InDelta(t, DefaultThreshold, cfg.Retrieval.Threshold, 1e-9)

	zero := filepath.Join(dir, "zero.yaml")
	require.NoError(t, os.WriteFile(zero, []byte("retrieval:\n  threshold: 0\n"), 0o600))
	cfg, err = LoadWithFile(zero)
	require.NoError(t, err)
	assert.Zero(t, cfg.Retrieval.Threshold)

	t.Setenv("DIGITALTWIN_RETRIEVAL_THRESHOLD", "0.25")
	cfg, err = LoadWithFile(unset)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Retrieval.Threshold, 1e-9)
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_from_env")

	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadWithFile_MissingCredential(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8081\n"), 0o644))
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("gsk_live_abc")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "gsk_live_abc", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(out))

	var back Secret
	assert.Error(t, json.Unmarshal([]byte(`"[REDACTED]"`), &back))
}

func TestDuration_RejectsNegative(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	require.NoError(t, d.UnmarshalText([]byte("5s")))
	assert.Equal(t, 5*time.Second, d.Duration())
}
