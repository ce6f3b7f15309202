package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// CatalogService exposes the tier catalog and pricing.
type CatalogService interface {
	Tiers() []domain.TierDefinition
	Quote(order domain.Order) (domain.Quote, error)
}

// OccupancyService reports live slot usage.
type OccupancyService interface {
	Occupancy() ([]domain.Occupancy, error)
}

// CatalogHandler serves the public tier listing and quotes.
type CatalogHandler struct {
	catalog   CatalogService
	occupancy OccupancyService
	logger    *slog.Logger
}

func NewCatalogHandler(catalog CatalogService, occupancy OccupancyService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog:   catalog,
		occupancy: occupancy,
		logger:    logHandler(logger, "catalog"),
	}
}

type tierView struct {
	domain.TierDefinition
	Used int `json:"used"`
	Free int `json:"free"`
}

// ListTiers returns the catalog with current free slots per tier.
// GET /api/tiers
func (h *CatalogHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	occ, err := h.occupancy.Occupancy()
	if err != nil {
		writeDomainError(w, r, h.logger, "list tiers", err)
		return
	}
	byTier := make(map[domain.TierID]domain.Occupancy, len(occ))
	for _, o := range occ {
		byTier[o.TierID] = o
	}

	tiers := h.catalog.Tiers()
	out := make([]tierView, 0, len(tiers))
	for _, t := range tiers {
		o := byTier[t.ID]
		out = append(out, tierView{TierDefinition: t, Used: o.Used, Free: t.Capacity - o.Used})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}

// Quote prices an order without creating anything.
// POST /api/quote
func (h *CatalogHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var order domain.Order
	if err := decodeJSON(w, r, &order); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := h.catalog.Quote(order)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
