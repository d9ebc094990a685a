package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/state"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"run not found", fmt.Errorf("get run X: %w", registry.ErrRunNotFound), http.StatusNotFound, CodeNotFound},
		{"bad state", fmt.Errorf("parse: %w", state.ErrUnknownState), http.StatusBadRequest, CodeInvalidArgument},
		{"other", stderrors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/runs/X", nil)
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode(t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.err.Error(), body.Error.Message)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestFallbackHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	MethodNotAllowed(rec, httptest.NewRequest(http.MethodPost, "/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decode(t, rec).Error.Message, "POST")
}

func TestEnvelopeDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTPError(rec, http.StatusServiceUnavailable,
		NewEnvelope(CodeServiceUnavailable, "down").WithRequestID("r").WithDetails(map[string]any{"checks": map[string]string{"db": "unhealthy"}}))

	body := decode(t, rec)
	assert.Equal(t, "r", body.Error.RequestID)
	assert.Equal(t, map[string]any{"db": "unhealthy"}, body.Error.Details["checks"])
}

func TestExitError(t *testing.T) {
	cause := stderrors.New("no such file")
	err := NewExitError(foundry.ExitFileNotFound, "Cannot open registry", cause)
	assert.Equal(t, "Cannot open registry: no such file", err.Error())
	assert.ErrorIs(t, err, cause)

	var exit *ExitError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &exit)
	assert.Equal(t, foundry.ExitFileNotFound, exit.Code)

	assert.Equal(t, "plain", NewExitError(foundry.ExitFailure, "plain", nil).Error())
}
