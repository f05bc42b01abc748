// Package httpengine implements engine.Engine against a local
// OpenAI-compatible inference server (llama.cpp server, vLLM, etc.) reachable
// over HTTP. It issues one /v1/chat/completions call per record in a chunk,
// reusing a tuned connection pool across the whole chunk.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/engine"
)

type Config struct {
	BaseURL             string
	APIKey              string
	ChatCompletionsPath string
	Timeout             time.Duration
}

type Engine struct {
	baseURL             string
	apiKey              string
	chatCompletionsPath string
	timeout             time.Duration

	httpClient *http.Client

	mu     sync.Mutex
	loaded string
}

// HTTPError is returned when the upstream responds with a non-2xx status;
// it satisfies httpx.HTTPStatusCoder so the retry layer can classify it.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("upstream http error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }

func New(cfg Config) (*Engine, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("httpengine: base_url required")
	}
	path := strings.TrimSpace(cfg.ChatCompletionsPath)
	if path == "" {
		path = "/v1/chat/completions"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Engine{
		baseURL:             baseURL,
		apiKey:              strings.TrimSpace(cfg.APIKey),
		chatCompletionsPath: path,
		timeout:             timeout,
		httpClient:          &http.Client{Transport: tr},
	}, nil
}

// LoadModel is a validation no-op: an HTTP-resident server already has its
// model loaded; we only remember the name for UnloadModel symmetry.
func (e *Engine) LoadModel(ctx context.Context, model string) error {
	_ = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
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

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []engine.Message  `json:"messages"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Index   int             `json:"index"`
		Message engine.Message  `json:"message"`
	} `json:"choices"`
	Usage engine.Usage `json:"usage"`
}

// Infer submits each request in sequence against the upstream server. A
// per-record failure is captured on that Result rather than aborting the
// whole chunk; a connection-level failure on the first record is returned as
// a chunk-level error so the caller can retry the whole chunk per policy.
func (e *Engine) Infer(ctx context.Context, model string, requests []engine.Request) ([]engine.Result, error) {
	results := make([]engine.Result, len(requests))
	for i, req := range requests {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := e.complete(ctx, model, req)
		if err != nil {
			var urlErr *url.Error
			if i == 0 && errors.As(err, &urlErr) {
				return nil, err
			}
			results[i] = engine.Result{
				CustomID: req.CustomID,
				Model:    model,
				Err: &engine.ResultError{
					Message: err.Error(),
					Type:    "inference_engine_error",
					Code:    "inference_engine_error",
				},
			}
			continue
		}
		results[i] = *resp
	}
	return results, nil
}

func (e *Engine) complete(ctx context.Context, model string, req engine.Request) (*engine.Result, error) {
	body := chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	var resp chatCompletionResponse
	if err := e.doJSON(ctx, "POST", e.chatCompletionsPath, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("upstream returned no choices")
	}

	choices := make([]engine.Choice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = engine.Choice{Index: c.Index, Message: c.Message}
	}

	return &engine.Result{
		CustomID: req.CustomID,
		Model:    model,
		Choices:  choices,
		Usage:    resp.Usage,
	}, nil
}

func (e *Engine) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx2, method, e.baseURL+path, &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
