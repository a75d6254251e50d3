package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// EntitlementService is what the entitlement endpoints need.
type EntitlementService interface {
	GrantAccess(ctx context.Context, wallet, txRef string) (domain.Entitlement, domain.SharedDataset, error)
	AccessStatus(ctx context.Context, wallet string) (domain.EntitlementStatus, error)
}

// EntitlementHandler grants and checks wallet access to datasets.
type EntitlementHandler struct {
	svc    EntitlementService
	logger *slog.Logger
}

// NewEntitlementHandler creates an EntitlementHandler.
func NewEntitlementHandler(svc EntitlementService, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{svc: svc, logger: logger}
}

type grantRequest struct {
	Wallet string `json:"wallet"`
	TxRef  string `json:"tx_ref"`
}

type grantResponse struct {
	Entitlement domain.Entitlement   `json:"entitlement"`
	Dataset     domain.DatasetHeader `json:"dataset"`
}

// Grant records that wallet paid for the current dataset.
// POST /api/entitlements {"wallet":"0x...","tx_ref":"..."}
func (h *EntitlementHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, h.logger, fmt.Errorf("handler: decode body: %v: %w", err, domain.ErrInvalidInput))
		return
	}

	ent, ds, err := h.svc.GrantAccess(r.Context(), req.Wallet, req.TxRef)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: entitlement granted",
		slog.String("wallet", ent.Wallet),
		slog.String("dataset_id", ds.ID),
	)
	writeJSON(w, http.StatusCreated, grantResponse{Entitlement: ent, Dataset: ds.Header()})
}

// Status reports the wallet's latest entitlement and whether it is still
// valid.
// GET /api/entitlements/{wallet}
func (h *EntitlementHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.AccessStatus(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
