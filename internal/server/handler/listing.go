package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/lifecycle"
)

// ListingService is the owner-facing slice of the lifecycle service.
type ListingService interface {
	CreateListing(ctx context.Context, req lifecycle.CreateRequest) (domain.Listing, domain.Quote, error)
	Get(ctx context.Context, id string) (domain.Listing, error)
	Extend(ctx context.Context, id string, periods int) (domain.Listing, error)
	Close(ctx context.Context, id string) (domain.Listing, error)
	ListMine(ctx context.Context, ownerID string) ([]domain.Listing, error)
	GetStats(ctx context.Context, ownerID string) (domain.OwnerStats, error)
	GetBoostSchedule(ctx context.Context, id string) (domain.BoostSchedule, error)
	RecordView(ctx context.Context, id string) error
	RecordInquiry(ctx context.Context, id string) error
}

// ListingHandler serves owner endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logHandler(logger, "listing")}
}

type createListingResponse struct {
	Listing domain.Listing `json:"listing"`
	Quote   domain.Quote   `json:"quote"`
}

// Create submits a listing for review.
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, q, err := h.listings.CreateListing(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, createListingResponse{Listing: l, Quote: q})
}

type listingResponse struct {
	Listing domain.Listing        `json:"listing"`
	Boost   *domain.BoostSchedule `json:"boost,omitempty"`
}

// Get returns a listing and its boost schedule when it has one.
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get listing", err)
		return
	}
	resp := listingResponse{Listing: l}
	if l.BoostScheduleID != "" {
		b, err := h.listings.GetBoostSchedule(r.Context(), l.ID)
		if err == nil {
			resp.Boost = &b
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type extendRequest struct {
	Periods int `json:"periods"`
}

// Extend buys more periods for an active or expired listing.
// POST /api/listings/{id}/extend
func (h *ListingHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.listings.Extend(r.Context(), pathParam(r, "id"), req.Periods)
	if err != nil {
		writeDomainError(w, r, h.logger, "extend listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// Close withdraws an active listing.
// POST /api/listings/{id}/close
func (h *ListingHandler) Close(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.Close(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "close listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListMine returns an owner's listings.
// GET /api/owners/{owner}/listings
func (h *ListingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	out, err := h.listings.ListMine(r.Context(), pathParam(r, "owner"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list owner listings", err)
		return
	}
	if out == nil {
		out = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// Stats returns an owner's dashboard counters.
// GET /api/owners/{owner}/stats
func (h *ListingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.listings.GetStats(r.Context(), pathParam(r, "owner"))
	if err != nil {
		writeDomainError(w, r, h.logger, "owner stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RecordView counts a page view.
// POST /api/listings/{id}/views
func (h *ListingHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	if err := h.listings.RecordView(r.Context(), pathParam(r, "id")); err != nil {
		writeDomainError(w, r, h.logger, "record view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordInquiry counts a buyer inquiry.
// POST /api/listings/{id}/inquiries
func (h *ListingHandler) RecordInquiry(w http.ResponseWriter, r *http.Request) {
	if err := h.listings.RecordInquiry(r.Context(), pathParam(r, "id")); err != nil {
		writeDomainError(w, r, h.logger, "record inquiry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
