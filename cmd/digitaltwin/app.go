package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/digitaltwin/internal/config"
	"github.com/fyrsmithlabs/digitaltwin/internal/embeddings"
	"github.com/fyrsmithlabs/digitaltwin/internal/followup"
	"github.com/fyrsmithlabs/digitaltwin/internal/generation"
	"github.com/fyrsmithlabs/digitaltwin/internal/logging"
	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
	"github.com/fyrsmithlabs/digitaltwin/internal/retriever"
	"github.com/fyrsmithlabs/digitaltwin/internal/telemetry"
	"github.com/fyrsmithlabs/digitaltwin/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/digitaltwin"

// logOutput selects where command logs go.
type logOutput int

const (
	// logStdout is used by serve.
	logStdout logOutput = iota
	// logStderr keeps stdout free for MCP frames and command output.
	logStderr
	// logQuiet is logStderr at error level unless --log-level is given.
	// Used by interactive commands.
	logQuiet
)

// app holds every dependency a command needs. Close releases them in
// reverse order of construction.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	index     vectorstore.Index
	service   *rag.Service
}

// bootstrap loads configuration and wires the query pipeline:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Creates the embedding provider and vector index
//  4. Creates the chat client, responder and follow-up generator
//  5. Assembles the RAG service
//
// Nothing is indexed yet; the service populates the index on first use.
func bootstrap(ctx context.Context, out logOutput) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	switch {
	case logLevel != "":
		cfg.Logging.Level = logLevel
	case out == logQuiet:
		cfg.Logging.Level = "error"
	}

	logCfg, err := loggingConfig(cfg.Logging, out)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	logResolvedConfig(ctx, logger, cfg)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	tel, err := telemetry.New(ctx, telemetryConfig(cfg.Telemetry, version), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Dimension: cfg.Embeddings.Dimension,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.embedder = embeddings.WithMetrics(provider, cfg.Embeddings.Provider,
		embeddings.NewMetrics(tel.Meter(instrumentationName+"/embeddings"), zl))

	index, err := vectorstore.NewIndex(ctx, cfg, a.embedder, zl.Named("vectorstore"))
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	a.index = index

	retr, err := retriever.New(index, retriever.FileSource{Path: cfg.Profile.Path}, retriever.Config{
		TopK:      cfg.Retrieval.TopK,
		Threshold: retriever.Threshold(cfg.Retrieval.Threshold),
	}, zl.Named("retriever"))
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	client, err := generation.NewOpenAIClient(generation.ClientConfigFrom(cfg.Generation), zl.Named("generation"))
	if err != nil {
		return fmt.Errorf("failed to create chat client: %w", err)
	}
	usage := generation.NewUsageTracker(generation.Pricing{
		InputPer1K:  cfg.Generation.Pricing.InputPer1K,
		OutputPer1K: cfg.Generation.Pricing.OutputPer1K,
	})
	chat := generation.WithUsage(client, usage)

	responder, err := generation.NewResponder(chat, generation.PersonaFrom(cfg.Generation.Persona), cfg.Generation.TopP, zl.Named("responder"))
	if err != nil {
		return fmt.Errorf("failed to create responder: %w", err)
	}
	followups, err := followup.NewGenerator(chat, followup.Config{Name: cfg.Generation.Persona.Name}, zl.Named("followup"))
	if err != nil {
		return fmt.Errorf("failed to create follow-up generator: %w", err)
	}

	svc, err := rag.NewService(rag.Deps{
		Retriever: retr,
		Responder: responder,
		FollowUps: followups,
		Usage:     usage,
	}, zl.Named("rag"))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	a.service = svc

	zl.Info("dependencies initialized",
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Bool("fallback", cfg.VectorStore.Fallback.Enabled),
		zap.String("model", cfg.Generation.Model),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))
	return nil
}

// logResolvedConfig records the effective settings at trace level.
// Credentials appear as their length only.
func logResolvedConfig(ctx context.Context, l *logging.Logger, cfg *config.Config) {
	l.Trace(ctx, "resolved configuration",
		zap.String("profile", cfg.Profile.Path),
		zap.Int("top_k", cfg.Retrieval.TopK),
		zap.Float64("threshold", cfg.Retrieval.Threshold),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("dimension", cfg.Embeddings.Dimension),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("generation_url", cfg.Generation.BaseURL),
		zap.String("model", cfg.Generation.Model),
		logging.Secret("generation_key", cfg.Generation.APIKey),
		logging.Secret("embeddings_key", cfg.Embeddings.APIKey),
		logging.Secret("upstash_token", cfg.VectorStore.Upstash.Token),
	)
}

// Close releases all resources. Errors are logged, not returned.
func (a *app) Close() {
	zl := a.logger.Underlying()
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			zl.Warn("closing vector index", zap.Error(err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			zl.Warn("closing embedding provider", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.telemetry.Shutdown(ctx); err != nil {
			zl.Warn("telemetry shutdown", zap.Error(err))
		}
		cancel()
	}
	_ = a.logger.Sync() // Best-effort sync
}

// loggingConfig maps the logging section onto logging.Config.
func loggingConfig(cfg config.LoggingConfig, out logOutput) (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid logging.level %q", config.ErrConfiguration, cfg.Level)
	}
	lc.Level = level
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	if out != logStdout {
		lc.Output.Stdout = false
		lc.Output.Stderr = true
	}
	return lc, nil
}

// telemetryConfig maps the telemetry section onto telemetry.Config.
func telemetryConfig(cfg config.TelemetryConfig, serviceVersion string) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Enabled
	tc.Insecure = cfg.Insecure
	if cfg.Endpoint != "" {
		tc.Endpoint = cfg.Endpoint
	}
	if cfg.ServiceName != "" {
		tc.ServiceName = cfg.ServiceName
	}
	if cfg.SamplingRate > 0 {
		tc.SamplingRate = cfg.SamplingRate
	}
	tc.ServiceVersion = serviceVersion
	return tc
}
