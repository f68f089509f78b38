package client

import (
	"errors"
	"fmt"
)

// Options are the generation settings sent with a prompt.
type Options struct {
	MaxOutputTokens int      `json:"num_predict,omitempty"`
	StopSequences   []string `json:"stop,omitempty"`
	// Streaming is carried for completeness; clients always wait for the
	// full response.
	Streaming bool `json:"-"`
}

// SummaryOptions are the defaults for structured crash summaries.
func SummaryOptions() Options {
	return Options{MaxOutputTokens: 256, StopSequences: []string{"</s>"}}
}

// ChatOptions are the defaults for free-form chat turns.
func ChatOptions() Options {
	return Options{MaxOutputTokens: 512, StopSequences: []string{"User:", "You:"}}
}

// InferenceResponse is the generated text. Missing is set when the backend
// answered successfully but without the generated-text field.
type InferenceResponse struct {
	ReqID   string `json:"req_id,omitempty"`
	Text    string `json:"text"`
	Missing bool   `json:"missing,omitempty"`
}

// GenerateRequest is the /api/generate request body.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

// InferRequest is the /infer request body, also used on NATS. Options is
// optional; the server applies its own defaults when it is nil.
type InferRequest struct {
	ReqID   string   `json:"req_id,omitempty"`
	Prompt  string   `json:"prompt"`
	Options *Options `json:"options,omitempty"`
}

// InferReply is the /infer success body.
type InferReply struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// ErrorReply is the body of every non-2xx shim response.
type ErrorReply struct {
	Error string `json:"error"`
}

var ErrBackendUnavailable = errors.New("backend unavailable")

// BackendUnavailableError reports a transport failure, a non-2xx status or
// an unreadable response body from the model endpoint.
type BackendUnavailableError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend unavailable: %s: status %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("backend unavailable: %s: %v", e.Endpoint, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func unavailable(endpoint string, status int, err error) error {
	return &BackendUnavailableError{Endpoint: endpoint, Status: status, Err: err}
}
