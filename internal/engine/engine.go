// Package engine defines the opaque inference capability the worker drives:
// load a model, submit a chunk of chat-completion requests, get back results
// and per-record errors. Implementations never persist anything — the worker
// owns all checkpointing.
package engine

import "context"

// Message is one chat-completion message, mirroring the input file's
// `body.messages[]` shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single JSONL input record, decoded from the batch input file.
type Request struct {
	CustomID string    `json:"custom_id"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// Usage mirrors an OpenAI-style token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion choice, matching the output file's response body.
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// ResultError is populated instead of a completion when a record fails.
type ResultError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Result is the outcome of one Request, always carrying the same CustomID.
// Exactly one of (Choices, Usage) or Err is populated.
type Result struct {
	CustomID string `json:"custom_id"`
	Model    string `json:"model"`
	Choices  []Choice
	Usage    Usage
	Err      *ResultError
}

// Engine is the capability the worker invokes once per chunk. It never
// blocks past ctx's deadline; callers are responsible for chunk-level retry.
type Engine interface {
	// LoadModel makes model the active model, evicting any previously loaded
	// model. Implementations that have no notion of model loading (e.g. a
	// remote HTTP engine that already has the model resident) may treat this
	// as a no-op validation call.
	LoadModel(ctx context.Context, model string) error

	// UnloadModel releases resources held by the currently loaded model.
	// Best-effort; engines without an unload concept may no-op.
	UnloadModel(ctx context.Context) error

	// Infer submits one chunk of requests and returns one Result per
	// Request, in the same order. An engine-level error (the whole chunk
	// failed, e.g. connection refused) is returned as the second value and
	// the caller treats every record in the chunk as failed; a partial
	// per-record failure is instead carried in that Result's Err field.
	Infer(ctx context.Context, model string, requests []Request) ([]Result, error)
}
