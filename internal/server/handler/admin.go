package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/lifecycle"
	"github.com/alanyoungcy/adboard/internal/sweeper"
)

// AdminService is the moderation slice of the lifecycle service.
type AdminService interface {
	Approve(ctx context.Context, id string) (domain.Listing, error)
	Reject(ctx context.Context, id, reason string) (domain.Listing, error)
	ListPending(ctx context.Context, limit int) ([]domain.Listing, error)
	ListActiveByTier(ctx context.Context, tier domain.TierID) ([]lifecycle.RankedListing, error)
	Boost(ctx context.Context, id string) (domain.BoostSchedule, error)
}

// SweepRunner triggers an out-of-band expiry sweep.
type SweepRunner interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
}

// AdminHandler serves the moderation endpoints.
type AdminHandler struct {
	admin   AdminService
	sweeper SweepRunner
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler. sweeper may be nil, in which case
// the sweep endpoint answers 503.
func NewAdminHandler(admin AdminService, sweeper SweepRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, sweeper: sweeper, logger: logHandler(logger, "admin")}
}

// Approve activates a pending listing and assigns its slot.
// POST /api/admin/listings/{id}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	l, err := h.admin.Approve(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "approve listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject declines a pending listing. An empty body uses the default reason.
// POST /api/admin/listings/{id}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	l, err := h.admin.Reject(r.Context(), pathParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, r, h.logger, "reject listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// Pending returns the approval queue.
// GET /api/admin/listings/pending?limit=50
func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	out, err := h.admin.ListPending(r.Context(), parseLimit(r, 50))
	if err != nil {
		writeDomainError(w, r, h.logger, "list pending", err)
		return
	}
	if out == nil {
		out = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// TierListings returns a tier's active listings in display order.
// GET /api/admin/tiers/{tier}/listings
func (h *AdminHandler) TierListings(w http.ResponseWriter, r *http.Request) {
	tier := domain.TierID(pathParam(r, "tier"))
	out, err := h.admin.ListActiveByTier(r.Context(), tier)
	if err != nil {
		writeDomainError(w, r, h.logger, "list tier", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier_id": tier, "listings": out})
}

// Sweep runs one expiry sweep now.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper not available")
		return
	}
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Boost fires a listing's boost schedule immediately.
// POST /api/admin/listings/{id}/boost
func (h *AdminHandler) Boost(w http.ResponseWriter, r *http.Request) {
	b, err := h.admin.Boost(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "boost listing", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
