package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// InferenceClient sends a prompt to a model-serving endpoint and returns the
// generated text. Implementations never stream; Infer blocks until the full
// response arrives, the context ends, or the client timeout expires.
type InferenceClient interface {
	Infer(ctx context.Context, prompt string, opts Options) (*InferenceResponse, error)
	Close() error
}

const DefaultTimeout = 60 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// GenerateClient talks to an Ollama-style daemon on POST /api/generate.
type GenerateClient struct {
	baseURL string
	model   string
	http    *http.Client
	timeout time.Duration
}

// NewGenerateClient returns a client for the daemon at baseURL serving model.
func NewGenerateClient(baseURL, model string, timeout time.Duration) *GenerateClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GenerateClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    &http.Client{},
		timeout: timeout,
	}
}

func (c *GenerateClient) Infer(ctx context.Context, prompt string, opts Options) (*InferenceResponse, error) {
	req := GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}
	if opts.MaxOutputTokens > 0 || len(opts.StopSequences) > 0 {
		o := opts
		req.Options = &o
	}

	body, err := postJSON(ctx, c.http, c.timeout, c.baseURL+"/api/generate", req)
	if err != nil {
		return nil, err
	}
	return extract(body, "response"), nil
}

func (c *GenerateClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ShimClient talks to the bundled model server on POST /infer.
type ShimClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewShimClient(baseURL string, timeout time.Duration) *ShimClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ShimClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
	}
}

func (c *ShimClient) Infer(ctx context.Context, prompt string, opts Options) (*InferenceResponse, error) {
	req := InferRequest{Prompt: prompt}
	if opts.MaxOutputTokens > 0 || len(opts.StopSequences) > 0 {
		o := opts
		req.Options = &o
	}

	body, err := postJSON(ctx, c.http, c.timeout, c.baseURL+"/infer", req)
	if err != nil {
		return nil, err
	}
	return extract(body, "response"), nil
}

func (c *ShimClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func postJSON(ctx context.Context, hc *http.Client, timeout time.Duration, url string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, unavailable(url, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, unavailable(url, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, unavailable(url, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	slog.Debug("Backend responded",
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, unavailable(url, resp.StatusCode, fmt.Errorf("%s", errorMessage(body, resp.Status)))
	}
	if !gjson.ValidBytes(body) {
		return nil, unavailable(url, resp.StatusCode, fmt.Errorf("malformed response body"))
	}
	return body, nil
}

// extract pulls the generated-text field from a valid JSON body. A missing
// or null field is reported through Missing rather than as an error.
func extract(body []byte, field string) *InferenceResponse {
	res := gjson.GetBytes(body, field)
	if !res.Exists() || res.Type == gjson.Null {
		return &InferenceResponse{Missing: true}
	}
	return &InferenceResponse{
		ReqID: gjson.GetBytes(body, "req_id").String(),
		Text:  res.String(),
	}
}

// errorMessage prefers a JSON "error" field, then the raw body, then status.
func errorMessage(body []byte, status string) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error"); msg.Exists() {
			return msg.String()
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return s
	}
	return status
}
