package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/engine"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestEngine(t *testing.T, rt roundTripperFunc) *Engine {
	t.Helper()
	e, err := New(Config{BaseURL: "http://upstream", ChatCompletionsPath: "/v1/chat/completions", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.httpClient = &http.Client{Transport: rt}
	return e
}

func TestInferPostsEachRequestAndParsesChoices(t *testing.T) {
	var calls int
	e := newTestEngine(t, func(req *http.Request) (*http.Response, error) {
		calls++
		if req.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var in chatCompletionRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if in.Model != "mock-1" {
			t.Fatalf("Model = %q", in.Model)
		}
		resp := chatCompletionResponse{
			Choices: []struct {
				Index   int             `json:"index"`
				Message engine.Message  `json:"message"`
			}{{Index: 0, Message: engine.Message{Role: "assistant", Content: "hi there"}}},
			Usage: engine.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		b, _ := json.Marshal(resp)
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(b))}, nil
	})

	results, err := e.Infer(context.Background(), "mock-1", []engine.Request{
		{CustomID: "r1", Messages: []engine.Message{{Role: "user", Content: "hello"}}},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Choices[0].Message.Content != "hi there" {
		t.Fatalf("content = %q", results[0].Choices[0].Message.Content)
	}
	if results[0].Usage.TotalTokens != 5 {
		t.Fatalf("TotalTokens = %d", results[0].Usage.TotalTokens)
	}
}

func TestInferCapturesPerRecordErrorWithoutAbortingChunk(t *testing.T) {
	var call int
	e := newTestEngine(t, func(req *http.Request) (*http.Response, error) {
		call++
		if call == 1 {
			return &http.Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader([]byte("boom")))}, nil
		}
		resp := chatCompletionResponse{
			Choices: []struct {
				Index   int             `json:"index"`
				Message engine.Message  `json:"message"`
			}{{Index: 0, Message: engine.Message{Role: "assistant", Content: "ok"}}},
		}
		b, _ := json.Marshal(resp)
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(b))}, nil
	})

	results, err := e.Infer(context.Background(), "mock-1", []engine.Request{
		{CustomID: "fail"},
		{CustomID: "ok"},
	})
	if err != nil {
		t.Fatalf("Infer returned a chunk-level error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatalf("expected the first record to carry a per-record error")
	}
	if results[1].Err != nil {
		t.Fatalf("second record should have succeeded: %+v", results[1])
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected an error when base_url is empty")
	}
}

func TestHTTPErrorImplementsStatusCoder(t *testing.T) {
	e := &HTTPError{StatusCode: 503, Body: "unavailable"}
	if e.HTTPStatusCode() != 503 {
		t.Fatalf("HTTPStatusCode() = %d", e.HTTPStatusCode())
	}
	if e.Error() == "" {
		t.Fatalf("Error() should not be empty")
	}
}
