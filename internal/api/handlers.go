package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/ledger"
	"github.com/starford/mira/internal/pipeline"
)

// Ledger is the read side of the run ledger.
type Ledger interface {
	Stats() (ledger.Stats, error)
	ListSchematics(status string) ([]ledger.SchematicRow, error)
	GetSchematic(path string) (ledger.SchematicRow, error)
	Samples(path string) ([]ledger.SampleRow, error)
}

// Queue is the worker the API can feed.
type Queue interface {
	Status() pipeline.Status
	Enqueue(path string) bool
}

// Handler holds API route handlers.
type Handler struct {
	ledger  Ledger
	queue   Queue
	catalog *catalog.Catalog
}

// NewHandler creates a new Handler.
func NewHandler(db Ledger, queue Queue, cat *catalog.Catalog) *Handler {
	return &Handler{ledger: db, queue: queue, catalog: cat}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Ledger ledger.Stats    `json:"ledger"`
	Worker pipeline.Status `json:"worker"`
}

// SchematicDetail is the body of GET /api/schematics/{path}.
type SchematicDetail struct {
	ledger.SchematicRow
	Produced []ledger.SampleRow `json:"produced"`
}

// wildcardPath extracts the path after the route prefix. Supports encoded
// slashes (e.g. batch%2Flamp.yaml).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Status handles GET /api/status.
//
//	@Summary		Ledger totals and worker queue
//	@Tags			status
//	@Produce		json
//	@Success		200		{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats()
	if err != nil {
		writeError(w, "ledger stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Ledger: stats, Worker: h.queue.Status()})
}

// ListSchematics handles GET /api/schematics.
//
//	@Summary		List processed schematics
//	@Tags			schematics
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status"	Enums(pending, done, skipped)
//	@Success		200		{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/schematics [get]
func (h *Handler) ListSchematics(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", ledger.StatusPending, ledger.StatusDone, ledger.StatusSkipped:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown status filter"))
		return
	}
	rows, err := h.ledger.ListSchematics(status)
	if err != nil {
		writeError(w, "list schematics", err)
		return
	}
	if rows == nil {
		rows = []ledger.SchematicRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schematics": rows,
		"total":      len(rows),
	})
}

// GetSchematic handles GET /api/schematics/*. The path is relative to the
// input directory.
//
//	@Summary		Get one schematic with its samples
//	@Tags			schematics
//	@Produce		json
//	@Param			path	path		string	true	"Schematic path relative to the input directory"
//	@Success		200		{object}	SchematicDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/schematics/{path} [get]
func (h *Handler) GetSchematic(w http.ResponseWriter, r *http.Request) {
	rel := wildcardPath(r)
	if rel == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	abs, err := h.catalog.Resolve(rel)
	if err != nil {
		writeError(w, "resolve path", err)
		return
	}
	row, err := h.ledger.GetSchematic(abs)
	if err != nil {
		writeError(w, "get schematic", err)
		return
	}
	samples, err := h.ledger.Samples(abs)
	if err != nil {
		writeError(w, "list samples", err)
		return
	}
	if samples == nil {
		samples = []ledger.SampleRow{}
	}
	writeJSON(w, http.StatusOK, SchematicDetail{SchematicRow: row, Produced: samples})
}

// Enqueue handles POST /api/queue.
//
//	@Summary		Queue a schematic for processing
//	@Tags			queue
//	@Accept			json
//	@Produce		json
//	@Success		202		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queue [post]
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	abs, err := h.catalog.Resolve(req.Path)
	if err != nil || !h.catalog.Accepts(abs) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		return
	}
	if _, err := os.Stat(abs); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	queued := h.queue.Enqueue(abs)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"path":   req.Path,
		"queued": queued,
	})
}
