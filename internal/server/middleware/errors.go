// Package middleware holds the chi middleware of the status server.
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/demuxmgr/internal/errors"
	"github.com/3leaps/demuxmgr/internal/observability"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Recovery turns a handler panic into a 500 JSON response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			reqID := GetRequestID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get(RequestIDHeader)
			}
			observability.CLILogger.Error("Recovered handler panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", reqID),
				zap.Stack("stack"))

			env := apperrors.NewEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec)).WithRequestID(reqID)
			apperrors.WriteHTTPError(w, http.StatusInternalServerError, env)
		}()
		next.ServeHTTP(w, r)
	})
}
