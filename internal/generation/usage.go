package generation

import (
	"context"
	"sync"
)

// Pricing holds per-1k-token prices in USD.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultPricing is Groq's llama-3.1-70b list price.
var DefaultPricing = Pricing{InputPer1K: 0.00059, OutputPer1K: 0.00079}

// Usage is the accumulated token usage and estimated cost.
type Usage struct {
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	TotalTokens      int64   `json:"totalTokens"`
	Cost             float64 `json:"cost"`
}

// UsageTracker accumulates usage across requests. It is safe for
// concurrent use.
type UsageTracker struct {
	mu      sync.Mutex
	pricing Pricing
	usage   Usage
}

// NewUsageTracker creates a tracker. A zero Pricing uses DefaultPricing.
func NewUsageTracker(pricing Pricing) *UsageTracker {
	if pricing == (Pricing{}) {
		pricing = DefaultPricing
	}
	return &UsageTracker{pricing: pricing}
}

// Add records one request's token counts.
func (t *UsageTracker) Add(prompt, completion int) {
	cost := float64(prompt)/1000*t.pricing.InputPer1K + float64(completion)/1000*t.pricing.OutputPer1K

	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.PromptTokens += int64(prompt)
	t.usage.CompletionTokens += int64(completion)
	t.usage.TotalTokens += int64(prompt + completion)
	t.usage.Cost += cost
}

// Snapshot returns a copy of the current totals.
func (t *UsageTracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Reset zeroes the totals.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = Usage{}
}

type usageClient struct {
	next    ChatClient
	tracker *UsageTracker
}

// WithUsage returns a ChatClient that records every completion's tokens
// in tracker. Streams are recorded when the provider reports usage.
func WithUsage(next ChatClient, tracker *UsageTracker) ChatClient {
	return &usageClient{next: next, tracker: tracker}
}

func (u *usageClient) Complete(ctx context.Context, req Request) (Completion, error) {
	out, err := u.next.Complete(ctx, req)
	if err != nil {
		return out, err
	}
	u.tracker.Add(out.Tokens.Prompt, out.Tokens.Completion)
	return out, nil
}

func (u *usageClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	s, err := u.next.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	s.observe(func(t TokenCount) { u.tracker.Add(t.Prompt, t.Completion) })
	return s, nil
}
