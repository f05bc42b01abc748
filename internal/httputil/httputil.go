// Package httputil holds small request/response helpers shared by the
// Public API's handlers.
package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yungbote/neurobridge-backend/internal/apierr"
)

// DecodeJSON decodes r's body into dst, capping the body at maxBytes when
// positive.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as the stable {error:{message,type,code}} envelope,
// deriving the HTTP status from the apierr taxonomy.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apierr.Status(err), apierr.NewEnvelope(err))
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(id))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
