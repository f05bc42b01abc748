// Package apierr defines the error-kind taxonomy shared by the Store, the
// Worker, the Webhook Dispatcher, and the Public API, and maps each kind to
// exactly one HTTP status and one stable error code at the API boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindQueueFull           Kind = "queue_full"
	KindServiceUnavailable  Kind = "service_unavailable"
	KindModelLoadFailed     Kind = "model_load_failed"
	KindInferenceTimeout    Kind = "inference_timeout"
	KindInferenceEngineErr  Kind = "inference_engine_error"
	KindCheckpointIOError   Kind = "checkpoint_io_error"
	KindWebhookTransport    Kind = "webhook_transport_error"
	KindWebhookTerminal     Kind = "webhook_terminal_error"
	KindInternal            Kind = "internal_error"
)

// Error is the taxonomy's carrier type. Status is resolved lazily via
// statusFor so callers constructing an Error never have to look up the
// mapping themselves.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// statusFor is the single switch table mapping a Kind to an HTTP status.
func statusFor(k Kind) int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQueueFull:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindModelLoadFailed, KindInferenceTimeout, KindInferenceEngineErr,
		KindCheckpointIOError, KindWebhookTransport, KindWebhookTerminal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Status returns the HTTP status for err, defaulting to 500 when err does
// not carry a taxonomy Kind.
func Status(err error) int {
	if e, ok := As(err); ok {
		return statusFor(e.Kind)
	}
	return http.StatusInternalServerError
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	if e, ok := As(err); ok {
		return string(e.Kind)
	}
	return string(KindInternal)
}

func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func (k Kind) String() string { return string(k) }

// Envelope is the stable API error shape: {error: {message, type, code}}.
type Envelope struct {
	Error Body `json:"error"`
}

type Body struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewEnvelope(err error) Envelope {
	kind := Kind(Code(err))
	return Envelope{Error: Body{
		Message: messageFor(err),
		Type:    string(kind),
		Code:    string(kind),
	}}
}

func messageFor(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// Internalf builds an internal-kind error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return New(KindInternal, fmt.Sprintf(format, args...))
}
