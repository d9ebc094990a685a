// Package errors holds the HTTP error envelope and the process exit codes
// shared by the status server and the CLI.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/state"
)

// Error codes carried in the envelope.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Envelope is the body of every JSON error response.
type Envelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse wraps the envelope under an "error" key.
type HTTPErrorResponse struct {
	Error Envelope `json:"error"`
}

func NewEnvelope(code, message string) *Envelope {
	return &Envelope{Code: code, Message: message}
}

func (e *Envelope) WithRequestID(id string) *Envelope {
	e.RequestID = id
	return e
}

func (e *Envelope) WithDetails(details map[string]any) *Envelope {
	e.Details = details
	return e
}

// WriteHTTPError writes env as JSON with the given status.
func WriteHTTPError(w http.ResponseWriter, status int, env *Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: *env})
}

// RespondWithError maps err onto a status and envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case stderrors.Is(err, registry.ErrRunNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, state.ErrUnknownState):
		status, code = http.StatusBadRequest, CodeInvalidArgument
	}
	env := NewEnvelope(code, err.Error())
	if r != nil {
		env.RequestID = r.Header.Get("X-Request-ID")
	}
	WriteHTTPError(w, status, env)
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteHTTPError(w, http.StatusNotFound,
		NewEnvelope(CodeNotFound, fmt.Sprintf("no route for %s", r.URL.Path)))
}

// MethodNotAllowed is the router's fallback for known paths with the
// wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteHTTPError(w, http.StatusMethodNotAllowed,
		NewEnvelope(CodeMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path)))
}
