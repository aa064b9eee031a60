package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
	"github.com/fyrsmithlabs/digitaltwin/internal/logging"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "mcp", "index", "reset", "ask", "chat"})
}

func TestLoggingConfig(t *testing.T) {
	lc, err := loggingConfig(config.LoggingConfig{Level: "debug", Format: "console"}, logStdout)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.True(t, lc.Output.Stdout)
	assert.False(t, lc.Output.Stderr)

	lc, err = loggingConfig(config.LoggingConfig{Level: "trace"}, logStderr)
	require.NoError(t, err)
	assert.Equal(t, logging.TraceLevel, lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.False(t, lc.Output.Stdout)
	assert.True(t, lc.Output.Stderr)

	_, err = loggingConfig(config.LoggingConfig{Level: "loud"}, logStdout)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestTelemetryConfig(t *testing.T) {
	tc := telemetryConfig(config.TelemetryConfig{
		Enabled:      true,
		Endpoint:     "localhost:4317",
		ServiceName:  "twin",
		Insecure:     true,
		SamplingRate: 0.25,
	}, "1.2.3")
	assert.True(t, tc.Enabled)
	assert.Equal(t, "localhost:4317", tc.Endpoint)
	assert.Equal(t, "twin", tc.ServiceName)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, 0.25, tc.SamplingRate)
	require.NoError(t, tc.Validate())

	tc = telemetryConfig(config.TelemetryConfig{}, "dev")
	assert.False(t, tc.Enabled)
	assert.Equal(t, "digitaltwin", tc.ServiceName)
	assert.Equal(t, 1.0, tc.SamplingRate)
}

func TestTelemetryConfig_InsecureRemoteRejected(t *testing.T) {
	tc := telemetryConfig(config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "collector.example.com:4317",
		Insecure: true,
	}, "dev")
	assert.Error(t, tc.Validate())

	tc = telemetryConfig(config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "collector.example.com:4317",
	}, "dev")
	assert.NoError(t, tc.Validate())
}

func TestLogResolvedConfig(t *testing.T) {
	tl := logging.NewTestLogger()
	cfg := config.Default()
	cfg.Generation.APIKey = "gsk_abcdefghijkl"
	cfg.VectorStore.Upstash.Token = "upstash-token-value"

	logResolvedConfig(t.Context(), tl.Logger, cfg)

	tl.AssertLogged(t, logging.TraceLevel, "resolved configuration")
	tl.AssertNotLogged(t, zapcore.WarnLevel, "configuration")
	tl.AssertNoSecrets(t)

	entries := tl.FilterMessage("resolved configuration").All()
	require.Len(t, entries, 1)
	fields := fmt.Sprint(entries[0].ContextMap())
	assert.NotContains(t, fields, "gsk_abcdefghijkl")
	assert.NotContains(t, fields, "upstash-token-value")
	assert.Contains(t, fields, "[REDACTED:16]")
	assert.Contains(t, fields, "llama-3.1-70b-versatile")
}

// writeFixture writes a profile and a config that indexes it in memory
// with the hash embedder, so no network is needed.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(profilePath, []byte(`{
  "personal": {"name": "Juan Dela Cruz", "title": "BSIT student"},
  "skills": ["C++", "JavaScript", "Laravel"]
}`), 0o600))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
profile:
  path: `+profilePath+`
embeddings:
  provider: hash
  dimension: 64
vectorstore:
  provider: memory
generation:
  api_key: test-key
logging:
  level: error
`), 0o600))
	return cfgPath
}

func TestIndexCmd(t *testing.T) {
	cfgPath := writeFixture(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"index", "--config", cfgPath, "--reset"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "Initialized: true")
	assert.Contains(t, out.String(), "Store:       healthy")
	assert.Contains(t, out.String(), "Provider:    memory")
	assert.Contains(t, out.String(), "Dimension:   64")
}

func TestBootstrap_MissingAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reset", "--config", cfgPath})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
