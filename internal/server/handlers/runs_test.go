package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/state"
)

type fakeSource struct {
	all    []registry.Record
	active []registry.Record
	err    error
}

func (f fakeSource) ListAll(context.Context) ([]registry.Record, error) { return f.all, f.err }

func (f fakeSource) ListActive(context.Context) ([]registry.Record, error) { return f.active, f.err }

func (f fakeSource) Get(_ context.Context, id string) (registry.Record, error) {
	for _, r := range f.all {
		if r.ID == id {
			return r, nil
		}
	}
	return registry.Record{}, fmt.Errorf("get run %s: %w", id, registry.ErrRunNotFound)
}

func runsRouter(src RunSource) http.Handler {
	h := &RunsHandler{Source: src}
	r := chi.NewRouter()
	r.Get("/runs", h.List)
	r.Get("/runs/{id}", h.Get)
	return r
}

func TestRunsList(t *testing.T) {
	src := fakeSource{
		all: []registry.Record{
			{ID: "runA", Directory: "/seq/runA", State: state.Complete},
			{ID: "runB", Directory: "/seq/runB", State: state.ConvertingSimple},
		},
		active: []registry.Record{{ID: "runB", Directory: "/seq/runB", State: state.ConvertingSimple}},
	}

	t.Run("all", func(t *testing.T) {
		rec := httptest.NewRecorder()
		runsRouter(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body RunsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, state.Complete, body.Runs[0].State)
	})

	t.Run("active only", func(t *testing.T) {
		rec := httptest.NewRecorder()
		runsRouter(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?active=true", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"state":"converting_simple"`)
		assert.NotContains(t, rec.Body.String(), "runA")
	})

	t.Run("empty list encodes as array", func(t *testing.T) {
		rec := httptest.NewRecorder()
		runsRouter(fakeSource{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
		assert.JSONEq(t, `{"runs":[],"count":0}`, rec.Body.String())
	})

	t.Run("store error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		runsRouter(fakeSource{err: errors.New("database is locked")}).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRunsGet(t *testing.T) {
	src := fakeSource{all: []registry.Record{{ID: "runA", Directory: "/seq/runA", State: state.RunningQC}}}

	rec := httptest.NewRecorder()
	runsRouter(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/runA", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got registry.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "/seq/runA", got.Directory)

	rec = httptest.NewRecorder()
	runsRouter(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/runZ", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestVersionHandler(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	SetVersionInfo(VersionInfo{Version: "1.4.0", Commit: "abc123", BuildDate: "2026-01-02"})
	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.JSONEq(t, `{"version":"1.4.0","commit":"abc123","build_date":"2026-01-02"}`, rec.Body.String())
}
