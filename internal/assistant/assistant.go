// Package assistant is the UI-facing caller of the inference client. It never
// surfaces backend failures; callers get placeholder text instead.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/aigoflow/crash-insight/internal/config"
	"github.com/aigoflow/crash-insight/internal/dataset"
	"github.com/aigoflow/crash-insight/internal/prompt"
	"github.com/aigoflow/crash-insight/pkg/client"
)

const (
	SummaryPlaceholder = "No summary available."
	ChatPlaceholder    = "I'm sorry, I couldn't process that."
)

var ErrEmptyMessage = errors.New("message is empty")

type Assistant struct {
	client client.InferenceClient
	cache  *ristretto.Cache
	ttl    time.Duration
}

// New wraps c. Successful summaries are cached for ttl when cacheSize > 0.
func New(c client.InferenceClient, cacheSize int, ttl time.Duration) (*Assistant, error) {
	a := &Assistant{client: c, ttl: ttl}
	if cacheSize <= 0 {
		return a, nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cacheSize) * 10,
		MaxCost:     int64(cacheSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create summary cache: %w", err)
	}
	a.cache = cache
	return a, nil
}

// NewFromConfig builds the client selected by cfg.BackendKind and wraps it.
func NewFromConfig(cfg *config.Config) (*Assistant, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	a, err := New(c, cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
	if err != nil {
		c.Close()
		return nil, err
	}
	return a, nil
}

// NewClient returns the inference client for cfg.BackendKind.
func NewClient(cfg *config.Config) (client.InferenceClient, error) {
	switch cfg.BackendKind {
	case "generate":
		return client.NewGenerateClient(cfg.BackendURL, cfg.BackendModel, cfg.RequestTimeout), nil
	case "infer":
		return client.NewShimClient(cfg.BackendURL, cfg.RequestTimeout), nil
	case "nats":
		return client.NewNATSClient(cfg.NatsURL, cfg.BackendModel, cfg.RequestTimeout)
	}
	return nil, fmt.Errorf("unknown backend kind %q", cfg.BackendKind)
}

// Summarize returns the model's summary of rec, or SummaryPlaceholder.
func (a *Assistant) Summarize(ctx context.Context, rec *dataset.Record) string {
	p, err := prompt.BuildCrashPrompt(rec)
	if err != nil {
		slog.Warn("Cannot build crash prompt", "error", err)
		return SummaryPlaceholder
	}

	if a.cache != nil {
		if v, ok := a.cache.Get(p); ok {
			slog.Debug("Summary cache hit", "row", rec.Index)
			return v.(string)
		}
	}

	start := time.Now()
	resp, err := a.client.Infer(ctx, p, client.SummaryOptions())
	if err != nil {
		slog.Warn("Summary request failed", "row", rec.Index, "error", err)
		return SummaryPlaceholder
	}
	if resp.Missing {
		slog.Warn("Summary response had no text", "row", rec.Index, "req_id", resp.ReqID)
		return SummaryPlaceholder
	}

	slog.Info("Summary generated",
		"row", rec.Index,
		"req_id", resp.ReqID,
		"duration_ms", time.Since(start).Milliseconds())

	if a.cache != nil {
		a.cache.SetWithTTL(p, resp.Text, 1, a.ttl)
	}
	return resp.Text
}

// Chat sends one user turn. Blank text is rejected with ErrEmptyMessage;
// backend trouble yields ChatPlaceholder.
func (a *Assistant) Chat(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	resp, err := a.client.Infer(ctx, prompt.BuildChatPrompt(text), client.ChatOptions())
	if err != nil {
		slog.Warn("Chat request failed", "error", err)
		return ChatPlaceholder, nil
	}
	if resp.Missing {
		slog.Warn("Chat response had no text", "req_id", resp.ReqID)
		return ChatPlaceholder, nil
	}
	return resp.Text, nil
}

// Close releases the client and the cache.
func (a *Assistant) Close() error {
	if a.cache != nil {
		a.cache.Close()
	}
	return a.client.Close()
}
