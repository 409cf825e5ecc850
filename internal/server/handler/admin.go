package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// AdminService is the operator surface of the ledger.
type AdminService interface {
	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
	UpdateRegistry(ctx context.Context, caller common.Address, next domain.Addresses) (domain.Addresses, error)
	Paused() bool
	Addresses() domain.Addresses
}

// AdminHandler serves pause control and the collaborator registry.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logHandler(logger, "admin")}
}

// Pause halts every state-changing ledger call.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Pause(r.Context(), caller(r)); err != nil {
		writeDomainError(w, r, h.logger, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.admin.Paused()})
}

// Unpause resumes state-changing ledger calls.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Unpause(r.Context(), caller(r)); err != nil {
		writeDomainError(w, r, h.logger, "unpause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.admin.Paused()})
}

// GetRegistry returns the current collaborator addresses.
// GET /api/registry
func (h *AdminHandler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Addresses())
}

// UpdateRegistry replaces the non-zero collaborator addresses in the body.
// PUT /api/admin/registry
func (h *AdminHandler) UpdateRegistry(w http.ResponseWriter, r *http.Request) {
	var next domain.Addresses
	if err := decodeJSON(r, &next); err != nil {
		writeDomainError(w, r, h.logger, "update registry", err)
		return
	}
	current, err := h.admin.UpdateRegistry(r.Context(), caller(r), next)
	if err != nil {
		writeDomainError(w, r, h.logger, "update registry", err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}
