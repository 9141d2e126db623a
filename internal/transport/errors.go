package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a transport failure.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
)

// CodeInvalidResponse marks a 2xx body that could not be decoded.
const CodeInvalidResponse = "invalid_response"

// Error is the single normalized failure returned by the request client.
type Error struct {
	Kind      Kind
	Status    int    // HTTP status, zero unless Kind is KindHTTP
	Code      string // backend error code, when the envelope carried one
	Retryable *bool  // explicit backend verdict; nil means "use the heuristic"
	Message   string
	Details   string

	Method   string
	Path     string
	Attempts int

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " %s %s", e.Method, e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ShouldRetry reports whether the failure is eligible for another attempt.
// An explicit backend flag wins over the status heuristic.
func (e *Error) ShouldRetry() bool {
	if e.Retryable != nil {
		return *e.Retryable
	}
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTP:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	}
	return false
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsStatus reports whether err is an HTTP transport error with the given status.
func IsStatus(err error, status int) bool {
	te, ok := AsError(err)
	return ok && te.Kind == KindHTTP && te.Status == status
}

// IsConflict is shorthand for a 409, which the backend uses for "already exists".
func IsConflict(err error) bool {
	return IsStatus(err, http.StatusConflict)
}

type errorEnvelope struct {
	Error *struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		Retryable *bool           `json:"retryable"`
		Details   json.RawMessage `json:"details"`
	} `json:"error"`
}

// httpError builds the error for a non-2xx response from the backend envelope,
// falling back to the raw body text when the envelope is missing or malformed.
func httpError(status int, body []byte) *Error {
	e := &Error{Kind: KindHTTP, Status: status}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil && (env.Error.Code != "" || env.Error.Message != "") {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Retryable = env.Error.Retryable
		e.Details = detailsText(env.Error.Details)
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func detailsText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) == nil {
		return buf.String()
	}
	return string(raw)
}

func boolPtr(b bool) *bool { return &b }
