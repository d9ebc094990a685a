package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/demuxmgr/internal/errors"
	"github.com/3leaps/demuxmgr/pkg/registry"
)

// RunSource is the read side of the run registry.
type RunSource interface {
	ListAll(ctx context.Context) ([]registry.Record, error)
	ListActive(ctx context.Context) ([]registry.Record, error)
	Get(ctx context.Context, id string) (registry.Record, error)
}

// RunsResponse lists registry rows.
type RunsResponse struct {
	Runs  []registry.Record `json:"runs"`
	Count int               `json:"count"`
}

// RunsHandler serves /runs and /runs/{id}.
type RunsHandler struct {
	Source RunSource
}

// List answers every run, or only non-terminal ones with ?active=true.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.Source.ListAll
	if r.URL.Query().Get("active") == "true" {
		list = h.Source.ListActive
	}
	records, err := list(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if records == nil {
		records = []registry.Record{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: records, Count: len(records)})
}

// Get answers one run, 404 when the id is unknown.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Source.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
