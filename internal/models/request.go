package models

import "time"

// RequestLog represents a logged inference request
type RequestLog struct {
	Timestamp    time.Time `json:"ts"`
	ReqID        string    `json:"req_id"`
	Source       string    `json:"source"`
	Prompt       string    `json:"prompt"`
	ResponseText string    `json:"response_text"`
	PromptLen    int       `json:"prompt_len"`
	ParamsJSON   string    `json:"params_json"`
	TokensIn     int       `json:"tokens_in"`
	TokensOut    int       `json:"tokens_out"`
	DurationMs   int64     `json:"dur_ms"`
	Status       string    `json:"status"`
	Error        string    `json:"error"`
}
