package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// DatasetService is what the dataset endpoints need from the service layer.
type DatasetService interface {
	ActiveOrLatest(ctx context.Context) (domain.CurrentDataset, error)
	Get(ctx context.Context, id string) (domain.SharedDataset, error)
	ListHeaders(ctx context.Context, opts domain.ListOpts) ([]domain.DatasetHeader, error)
}

// ArchiveLocator resolves the object path of a dataset's archive.
type ArchiveLocator func(h domain.DatasetHeader) string

// DatasetHandler serves shared dataset snapshots.
type DatasetHandler struct {
	datasets DatasetService
	blobs    domain.BlobReader // nil when archiving is disabled
	locate   ArchiveLocator
	logger   *slog.Logger
}

// NewDatasetHandler creates a DatasetHandler. blobs and locate may be nil, in
// which case the archive endpoint reports a configuration error.
func NewDatasetHandler(datasets DatasetService, blobs domain.BlobReader, locate ArchiveLocator, logger *slog.Logger) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, blobs: blobs, locate: locate, logger: logger}
}

// Current returns the active dataset, or the newest expired one flagged as
// stale when nothing is active.
// GET /api/datasets/current
func (h *DatasetHandler) Current(w http.ResponseWriter, r *http.Request) {
	cur, err := h.datasets.ActiveOrLatest(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

type listDatasetsResponse struct {
	Datasets []domain.DatasetHeader `json:"datasets"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// List returns dataset headers, newest first.
// GET /api/datasets?limit=50&offset=0
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	headers, err := h.datasets.ListHeaders(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if headers == nil {
		headers = []domain.DatasetHeader{}
	}
	writeJSON(w, http.StatusOK, listDatasetsResponse{Datasets: headers, Limit: opts.Limit, Offset: opts.Offset})
}

// Get returns one dataset by id, expired or not.
// GET /api/datasets/{id}
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	ds, err := h.datasets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// Archive streams the archived copy of a dataset from object storage.
// GET /api/datasets/{id}/archive
func (h *DatasetHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil || h.locate == nil {
		writeError(w, r, h.logger, fmt.Errorf("handler: dataset archives are not enabled: %w", domain.ErrConfiguration))
		return
	}
	ds, err := h.datasets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	body, err := h.blobs.Get(r.Context(), h.locate(ds.Header()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("dataset_id", ds.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Archives lists archived objects under an optional prefix, which must fall
// inside datasets/ or edges/.
// GET /api/archives?prefix=datasets/2026/01
func (h *DatasetHandler) Archives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, r, h.logger, fmt.Errorf("handler: dataset archives are not enabled: %w", domain.ErrConfiguration))
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "datasets/"
	}
	if strings.Contains(prefix, "..") || !(strings.HasPrefix(prefix, "datasets/") || strings.HasPrefix(prefix, "edges/")) {
		writeError(w, r, h.logger, fmt.Errorf("handler: archive prefix %q: %w", prefix, domain.ErrInvalidInput))
		return
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "archives": infos})
}
