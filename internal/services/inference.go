package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond"
	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/crash-insight/internal/llama"
	"github.com/aigoflow/crash-insight/internal/models"
	"github.com/aigoflow/crash-insight/internal/repository"
	"github.com/aigoflow/crash-insight/pkg/client"
)

var (
	// ErrQueueFull is returned when the model queue cannot take another request.
	ErrQueueFull = errors.New("model busy")

	ErrMissingPrompt = errors.New("Missing 'prompt' field in JSON")
	ErrInvalidJSON   = errors.New("Invalid JSON")
)

// Generator is the loaded model as seen by the service.
type Generator interface {
	Generate(ctx context.Context, prompt string, p llama.Params) (*llama.Completion, error)
}

type InferenceRequest struct {
	ReqID  string
	Prompt string
	Params llama.Params
}

// DecodeInferRequest parses an /infer body. The same payload is accepted on
// the NATS request subject.
func DecodeInferRequest(data []byte) (InferenceRequest, error) {
	var body client.InferRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return InferenceRequest{}, ErrInvalidJSON
	}
	if body.Prompt == "" {
		return InferenceRequest{}, ErrMissingPrompt
	}
	req := InferenceRequest{ReqID: body.ReqID, Prompt: body.Prompt}
	if body.Options != nil {
		req.Params = ParamsFromOptions(*body.Options)
	}
	return req, nil
}

// ParamsFromOptions maps client options onto model params. Zero values are
// left for the model to default.
func ParamsFromOptions(o client.Options) llama.Params {
	return llama.Params{MaxTokens: o.MaxOutputTokens, Stop: o.StopSequences}
}

type InferenceResponse struct {
	ReqID      string `json:"req_id"`
	Prompt     string `json:"prompt"`
	Text       string `json:"text"`
	TokensIn   int    `json:"tokens_in"`
	TokensOut  int    `json:"tokens_out"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// QueueStats is a snapshot of the model queue.
type QueueStats struct {
	Waiting   uint64 `json:"waiting"`
	Running   int    `json:"running"`
	Capacity  int    `json:"capacity"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// InferenceService serializes access to the single model handle through a
// one-worker pool with a bounded queue.
type InferenceService struct {
	gen      Generator
	repo     repository.Repository
	pool     *pond.WorkerPool
	capacity int
}

func NewInferenceService(gen Generator, repo repository.Repository, queueSize int) *InferenceService {
	if queueSize < 1 {
		queueSize = 1
	}
	return &InferenceService{
		gen:      gen,
		repo:     repo,
		pool:     pond.New(1, queueSize),
		capacity: queueSize,
	}
}

type generation struct {
	completion *llama.Completion
	err        error
}

func (s *InferenceService) ProcessInference(ctx context.Context, req InferenceRequest, source string) (*InferenceResponse, error) {
	start := time.Now()
	if req.ReqID == "" {
		req.ReqID = ulid.Make().String()
	}

	done := make(chan generation, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generation{err: fmt.Errorf("service panic: %v", r)}
			}
		}()
		// the caller may have gone away while the request sat in the queue
		if err := ctx.Err(); err != nil {
			done <- generation{err: err}
			return
		}
		c, err := s.gen.Generate(ctx, req.Prompt, req.Params)
		done <- generation{completion: c, err: err}
	}

	var result generation
	if !s.pool.TrySubmit(task) {
		result.err = ErrQueueFull
	} else {
		select {
		case result = <-done:
		case <-ctx.Done():
			result.err = ctx.Err()
		}
	}

	duration := time.Since(start)
	response := &InferenceResponse{
		ReqID:      req.ReqID,
		Prompt:     req.Prompt,
		DurationMs: duration.Milliseconds(),
	}

	status := "ok"
	switch {
	case errors.Is(result.err, ErrQueueFull):
		status = "rejected"
	case result.err != nil:
		status = "error"
	}
	if result.err != nil {
		response.Error = result.err.Error()
	} else {
		response.Text = result.completion.Text
		response.TokensIn = result.completion.TokensIn
		response.TokensOut = result.completion.TokensOut
	}

	requestLog := &models.RequestLog{
		Timestamp:    start,
		ReqID:        req.ReqID,
		Source:       source,
		Prompt:       req.Prompt,
		ResponseText: response.Text,
		PromptLen:    len(req.Prompt),
		ParamsJSON:   toJSON(req.Params),
		TokensIn:     response.TokensIn,
		TokensOut:    response.TokensOut,
		DurationMs:   response.DurationMs,
		Status:       status,
		Error:        response.Error,
	}
	if err := s.repo.Request().LogRequest(context.WithoutCancel(ctx), requestLog); err != nil {
		slog.Warn("Failed to log request", "req_id", req.ReqID, "error", err)
	}

	if result.err != nil {
		slog.Error("Inference failed",
			"req_id", req.ReqID,
			"source", source,
			"duration_ms", response.DurationMs,
			"error", result.err)
		return response, result.err
	}

	slog.Info("Inference completed",
		"req_id", req.ReqID,
		"source", source,
		"duration_ms", response.DurationMs,
		"tokens_in", response.TokensIn,
		"tokens_out", response.TokensOut)
	return response, nil
}

// Reply is the /infer success body for r.
func (r *InferenceResponse) Reply() client.InferReply {
	return client.InferReply{Prompt: r.Prompt, Response: r.Text}
}

// Stats reports the model queue state.
func (s *InferenceService) Stats() QueueStats {
	return QueueStats{
		Waiting:   s.pool.WaitingTasks(),
		Running:   s.pool.RunningWorkers(),
		Capacity:  s.capacity,
		Submitted: s.pool.SubmittedTasks(),
		Completed: s.pool.CompletedTasks(),
		Failed:    s.pool.FailedTasks(),
	}
}

// GetRequestLogs retrieves request logs through proper repository interface
func (s *InferenceService) GetRequestLogs(ctx context.Context, limit int) ([]*models.RequestLog, error) {
	return s.repo.Request().GetRequestLogs(ctx, limit)
}

// RequestCounts reports logged requests per status.
func (s *InferenceService) RequestCounts(ctx context.Context) (map[string]int, error) {
	return s.repo.Request().CountByStatus(ctx)
}

// Close drains the queue and stops the worker.
func (s *InferenceService) Close() {
	s.pool.StopAndWait()
}

func toJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
