// Package mock provides a deterministic Engine with no GPU or network
// dependency, used by worker tests and local development.
package mock

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/yungbote/neurobridge-backend/internal/engine"
)

type Engine struct {
	mu     sync.Mutex
	loaded string

	// FailModels, when non-empty, causes LoadModel to fail for the named
	// models — used by worker tests to exercise the ModelLoadFailed path.
	FailModels map[string]bool
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) LoadModel(ctx context.Context, model string) error {
	_ = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailModels[model] {
		return fmt.Errorf("mock: model %q configured to fail loading", model)
	}
	e.loaded = model
	return nil
}

func (e *Engine) UnloadModel(ctx context.Context) error {
	_ = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = ""
	return nil
}

// Infer echoes the last user message back as the completion, deriving a
// stable pseudo token count from a sha256 digest so usage figures are
// deterministic across runs without being meaningless zeros.
func (e *Engine) Infer(ctx context.Context, model string, requests []engine.Request) ([]engine.Result, error) {
	results := make([]engine.Result, len(requests))
	for i, req := range requests {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var user string
		for j := len(req.Messages) - 1; j >= 0; j-- {
			if strings.EqualFold(req.Messages[j].Role, "user") {
				user = req.Messages[j].Content
				break
			}
		}
		completion := fmt.Sprintf("mock: %s", user)
		if strings.TrimSpace(user) == "" {
			completion = "mock: ok"
		}

		h := sha256.Sum256([]byte(model + "\n" + user))
		promptTok := int(h[0])%50 + 1
		completionTok := int(h[1])%50 + 1

		results[i] = engine.Result{
			CustomID: req.CustomID,
			Model:    model,
			Choices: []engine.Choice{{
				Index:   0,
				Message: engine.Message{Role: "assistant", Content: completion},
			}},
			Usage: engine.Usage{
				PromptTokens:     promptTok,
				CompletionTokens: completionTok,
				TotalTokens:      promptTok + completionTok,
			},
		}
	}
	return results, nil
}
