package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/3leaps/demuxmgr/internal/errors"
)

const checkTimeout = 5 * time.Second

// HealthChecker is one probe contributing to the overall status.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a successful probe.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checkers on demand.
type HealthManager struct {
	version  string
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager returns a manager with no checkers.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version, checkers: make(map[string]HealthChecker)}
}

// RegisterChecker adds or replaces a named checker.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		m.mu.RLock()
		checker := m.checkers[name]
		m.mu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(cctx)
		switch {
		case err == nil:
			results[name] = "healthy"
		case cctx.Err() == context.DeadlineExceeded:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
		cancel()
	}
	return results
}

func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, result := range checks {
		switch result {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// HealthHandler reports every check. Unhealthy answers 503 with the
// per-check results in the error details.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)
	if status == "unhealthy" {
		env := apperrors.NewEnvelope(apperrors.CodeServiceUnavailable, "one or more health checks failed").
			WithRequestID(r.Header.Get("X-Request-ID")).
			WithDetails(map[string]any{"status": status, "checks": checks})
		apperrors.WriteHTTPError(w, http.StatusServiceUnavailable, env)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Version: m.version, Checks: checks})
}

// LivenessHandler answers as long as the process serves requests.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: m.version})
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func notInitialized(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteHTTPError(w, http.StatusServiceUnavailable,
		apperrors.NewEnvelope(apperrors.CodeServiceUnavailable, "health manager not initialized").
			WithRequestID(r.Header.Get("X-Request-ID")))
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r)
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

// ReadinessHandler and StartupHandler share the full check set.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	HealthHandler(w, r)
}

func StartupHandler(w http.ResponseWriter, r *http.Request) {
	HealthHandler(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
