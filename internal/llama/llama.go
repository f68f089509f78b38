package llama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the configuration for the llama model
type Config struct {
	ModelPath  string
	ModelName  string
	ModelURL   string
	RuntimeURL string
	MaxTokens  int
}

// Params are per-request generation settings.
type Params struct {
	MaxTokens int
	Stop      []string
}

// DefaultParams mirror what the server applies when a request carries none.
func DefaultParams() Params {
	return Params{MaxTokens: 256, Stop: []string{"</s>"}}
}

// Completion is one generation result.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Runtime executes generation against the loaded artifact.
type Runtime interface {
	Complete(ctx context.Context, prompt string, p Params) (*Completion, error)
}

// ModelLoadError is fatal: a process that sees it must not serve traffic.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// Model owns the model artifact for the lifetime of the process. Callers
// must serialize Generate; the inference service does so with its queue.
type Model struct {
	file    *os.File
	config  Config
	meta    *Metadata
	runtime Runtime
}

// Load opens the artifact, validates its header and binds the default
// OpenAI-compatible runtime (llama.cpp llama-server) at cfg.RuntimeURL.
func Load(cfg Config) (*Model, error) {
	return LoadWithRuntime(cfg, NewServerRuntime(cfg.RuntimeURL, cfg.ModelName))
}

// LoadWithRuntime is Load with an explicit runtime.
func LoadWithRuntime(cfg Config, rt Runtime) (*Model, error) {
	slog.Info("Loading model", "path", cfg.ModelPath, "name", cfg.ModelName)

	f, err := os.Open(cfg.ModelPath)
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	meta, err := readMetadata(f)
	if err != nil {
		f.Close()
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	if rt == nil {
		f.Close()
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: fmt.Errorf("no runtime configured")}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultParams().MaxTokens
	}

	slog.Info("Model loaded successfully",
		"architecture", meta.Architecture,
		"name", meta.Name,
		"gguf_version", meta.Version,
		"tensors", meta.TensorCount)

	return &Model{file: f, config: cfg, meta: meta, runtime: rt}, nil
}

// Generate runs one completion. The result text is trimmed.
func (m *Model) Generate(ctx context.Context, prompt string, p Params) (c *Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Inference panic recovered", "error", r)
			c, err = nil, fmt.Errorf("inference panic: %v", r)
		}
	}()

	if m.file == nil {
		return nil, fmt.Errorf("model is closed")
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = m.config.MaxTokens
	}
	if len(p.Stop) == 0 {
		p.Stop = DefaultParams().Stop
	}

	c, err = m.runtime.Complete(ctx, prompt, p)
	if err != nil {
		return nil, err
	}
	c.Text = strings.TrimSpace(c.Text)
	return c, nil
}

func (m *Model) Name() string {
	return m.config.ModelName
}

func (m *Model) Metadata() Metadata {
	return *m.meta
}

// Close releases the artifact handle.
func (m *Model) Close() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// ServerRuntime forwards completions to an OpenAI-compatible server such as
// llama.cpp's llama-server started with the same artifact.
type ServerRuntime struct {
	client *openai.Client
	model  string
}

func NewServerRuntime(baseURL, model string) *ServerRuntime {
	cfg := openai.DefaultConfig("no-key")
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	return &ServerRuntime{client: openai.NewClientWithConfig(cfg), model: model}
}

func (r *ServerRuntime) Complete(ctx context.Context, prompt string, p Params) (*Completion, error) {
	resp, err := r.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:     r.model,
		Prompt:    prompt,
		MaxTokens: p.MaxTokens,
		Stop:      p.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("runtime returned no choices")
	}
	return &Completion{
		Text:      resp.Choices[0].Text,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

// LoadWithAutoDownload loads a model, downloading it first if missing.
func LoadWithAutoDownload(cfg Config) (*Model, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		if cfg.ModelURL == "" {
			return nil, &ModelLoadError{Path: cfg.ModelPath, Err: fmt.Errorf("model not found and no download URL provided")}
		}

		slog.Info("Model not found, downloading...", "url", cfg.ModelURL, "path", cfg.ModelPath)

		if err := os.MkdirAll(filepath.Dir(cfg.ModelPath), 0755); err != nil {
			return nil, &ModelLoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to create model directory: %w", err)}
		}
		if err := downloadFile(cfg.ModelURL, cfg.ModelPath); err != nil {
			return nil, &ModelLoadError{Path: cfg.ModelPath, Err: fmt.Errorf("failed to download model: %w", err)}
		}

		slog.Info("Model downloaded successfully", "path", cfg.ModelPath)
	}

	return Load(cfg)
}

// downloadFile fetches url into path via a temp file so a partial download
// never looks like a complete artifact.
func downloadFile(url, path string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	start := time.Now()
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	slog.Info("Download completed",
		"size_mb", fmt.Sprintf("%.1f", float64(n)/1024/1024),
		"duration", time.Since(start).Round(time.Second).String(),
		"file", path)

	return os.Rename(tmp, path)
}
