package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-backend/internal/httputil"
)

func TestRequestIDMiddlewareGeneratesIDWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.RequestIDFromContext(r.Context())
	})
	h := requestIDMiddleware()(next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen == "" {
		t.Fatalf("request id was not propagated to context")
	}
	if rr.Header().Get("X-Request-Id") != seen {
		t.Fatalf("X-Request-Id header = %q, want %q", rr.Header().Get("X-Request-Id"), seen)
	}
}

func TestRequestIDMiddlewarePreservesIncomingID(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := requestIDMiddleware()(next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "caller-supplied-id")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-Id"); got != "caller-supplied-id" {
		t.Fatalf("X-Request-Id = %q, want caller-supplied-id", got)
	}
}

func TestAccessLogMiddlewarePreservesStatusAndBody(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected a non-empty response body to have been recorded")
	}
}

func TestRecoverMiddlewareTurnsPanicIntoInternalError(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h, s := testHandler(t)
	_ = h

	recovered := recoverMiddleware(s.log)(next)
	req := httptest.NewRequest(http.MethodGet, "/panics", nil)
	rr := httptest.NewRecorder()
	recovered.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestMaxRequestBodyMiddlewareRejectsOversizedBody(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := maxRequestBodyMiddleware(8)(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", strings.NewReader("this body is far longer than eight bytes"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code == http.StatusOK {
		t.Fatalf("expected the oversized body to be rejected, got 200")
	}
}

func TestMaxRequestBodyMiddlewareExemptsFileUploadRoute(t *testing.T) {
	body := strings.Repeat("x", 32)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if len(b) != len(body) {
			t.Fatalf("handler saw %d bytes, want %d (upload route should bypass the blanket cap)", len(b), len(body))
		}
		w.WriteHeader(http.StatusOK)
	})
	h := maxRequestBodyMiddleware(8)(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/files", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
