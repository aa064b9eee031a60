package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// UpstashConfig configures the Upstash Vector REST client.
type UpstashConfig struct {
	// URL is the index REST endpoint (UPSTASH_VECTOR_REST_URL).
	URL string
	// Token is the bearer token (UPSTASH_VECTOR_REST_TOKEN).
	Token string
	// Timeout bounds each HTTP request.
	// Default: 10s
	Timeout time.Duration
	// MaxRetries is the number of retries for transient failures.
	// Default: 3
	MaxRetries int
	// RetryBackoff is the initial backoff between retries.
	// Default: 500ms
	RetryBackoff time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// ApplyDefaults sets default values for unset fields.
func (c *UpstashConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// Validate validates the configuration.
func (c UpstashConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: upstash url required", ErrInvalidConfig)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: upstash token required", ErrInvalidConfig)
	}
	return nil
}

// UpstashIndex implements Index over the Upstash Vector REST API. Records
// and queries carrying only text are embedded server-side by the index's
// hosted model; records with vectors use the plain vector endpoints.
type UpstashIndex struct {
	config UpstashConfig
	base   string
	logger *zap.Logger
}

// NewUpstashIndex creates a client. No request is made until first use.
func NewUpstashIndex(config UpstashConfig, logger *zap.Logger) (*UpstashIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpstashIndex{
		config: config,
		base:   strings.TrimRight(config.URL, "/"),
		logger: logger,
	}, nil
}

type upstashEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type upstashUpsert struct {
	ID       string         `json:"id"`
	Data     string         `json:"data,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upstashQuery struct {
	Data            string    `json:"data,omitempty"`
	Vector          []float32 `json:"vector,omitempty"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type upstashMatch struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type upstashInfo struct {
	VectorCount        int    `json:"vectorCount"`
	PendingVectorCount int    `json:"pendingVectorCount"`
	Dimension          int    `json:"dimension"`
	SimilarityFunction string `json:"similarityFunction"`
}

// Upsert sends text records to /upsert-data and vector records to /upsert.
func (u *UpstashIndex) Upsert(ctx context.Context, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	var withText, withVector []upstashUpsert
	for _, r := range records {
		item := upstashUpsert{ID: r.ID, Metadata: r.Metadata}
		if r.Vector != nil {
			item.Vector = r.Vector
			withVector = append(withVector, item)
			continue
		}
		item.Data = r.Text
		withText = append(withText, item)
	}

	if len(withText) > 0 {
		if err := u.call(ctx, "upsert", http.MethodPost, "/upsert-data", withText, nil); err != nil {
			return err
		}
	}
	if len(withVector) > 0 {
		if err := u.call(ctx, "upsert", http.MethodPost, "/upsert", withVector, nil); err != nil {
			return err
		}
	}
	return nil
}

// Query uses /query-data for text and /query for vectors.
func (u *UpstashIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	body := upstashQuery{TopK: q.TopK, IncludeMetadata: q.IncludeMetadata}
	path := "/query-data"
	if q.Vector != nil {
		body.Vector = q.Vector
		path = "/query"
	} else {
		body.Data = q.Text
	}

	var results []upstashMatch
	if err := u.call(ctx, "query", http.MethodPost, path, body, &results); err != nil {
		return nil, err
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Score: r.Score}
		if q.IncludeMetadata {
			matches[i].Metadata = r.Metadata
		}
	}
	return matches, nil
}

// Info reports the vector count including vectors still being indexed.
func (u *UpstashIndex) Info(ctx context.Context) (Info, error) {
	var info upstashInfo
	if err := u.call(ctx, "info", http.MethodGet, "/info", nil, &info); err != nil {
		return Info{}, err
	}
	return Info{
		VectorCount: info.VectorCount + info.PendingVectorCount,
		Dimension:   info.Dimension,
		Provider:    "upstash",
	}, nil
}

// Reset deletes every vector in the index.
func (u *UpstashIndex) Reset(ctx context.Context) error {
	return u.call(ctx, "reset", http.MethodDelete, "/reset", nil, nil)
}

// Ping issues an info request without retries.
func (u *UpstashIndex) Ping(ctx context.Context) error {
	var info upstashInfo
	return u.once(ctx, "health", http.MethodGet, "/info", nil, &info)
}

// Close is a no-op.
func (u *UpstashIndex) Close() error { return nil }

// call performs a request with retries on transient failures.
func (u *UpstashIndex) call(ctx context.Context, op, method, path string, in, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.config.RetryBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := u.once(ctx, op, method, path, in, out)
		if err == nil {
			return struct{}{}, nil
		}
		if !transient(KindOf(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(u.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			u.logger.Debug("retrying upstash request",
				zap.String("operation", op),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	return wrapErr(op, err)
}

// once performs a single request and decodes the result envelope into out.
func (u *UpstashIndex) once(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &StoreError{Op: op, Kind: KindInvalid, Err: fmt.Errorf("encoding request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.base+path, body)
	if err != nil {
		return &StoreError{Op: op, Kind: KindInvalid, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+u.config.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.config.HTTPClient.Do(req)
	if err != nil {
		return wrapErr(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return wrapErr(op, err)
	}

	var env upstashEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StoreError{Op: op, Kind: kindFromHTTPStatus(resp.StatusCode), Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}
	if decodeErr != nil {
		return &StoreError{Op: op, Kind: KindInternal, Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}
	if env.Error != "" {
		return &StoreError{Op: op, Kind: KindInternal, Err: errors.New(env.Error)}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &StoreError{Op: op, Kind: KindInternal, Err: fmt.Errorf("decoding result: %w", err)}
		}
	}
	return nil
}

var _ Index = (*UpstashIndex)(nil)
