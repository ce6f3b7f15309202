package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// CreateRequest is an owner's submission from the intake form.
type CreateRequest struct {
	OwnerID   string                  `json:"owner_id"`
	Title     string                  `json:"title"`
	Order     domain.Order            `json:"order"`
	Highlight *domain.HighlightConfig `json:"highlight,omitempty"`
}

// CreateListing validates the order against the catalog and stores a pending
// listing. Purchased boost credits are seeded as a disabled schedule that
// Approve switches on.
func (s *Service) CreateListing(ctx context.Context, req CreateRequest) (domain.Listing, domain.Quote, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Title = strings.TrimSpace(req.Title)
	if req.OwnerID == "" || req.Title == "" {
		return domain.Listing{}, domain.Quote{}, fmt.Errorf("lifecycle: create: owner and title are required: %w", domain.ErrInvalidConfig)
	}

	tier, periods, err := s.catalog.Placement(req.Order)
	if err != nil {
		return domain.Listing{}, domain.Quote{}, fmt.Errorf("lifecycle: create: %w", err)
	}
	quote, err := s.catalog.Quote(req.Order)
	if err != nil {
		return domain.Listing{}, domain.Quote{}, fmt.Errorf("lifecycle: create: %w", err)
	}

	now := s.clock.Now()
	l := domain.Listing{
		ID:               uuid.NewString(),
		OwnerID:          req.OwnerID,
		Title:            req.Title,
		RequestedTier:    tier,
		PurchasedPeriods: periods,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.Order.Highlight {
		hl := domain.HighlightConfig{}
		if req.Highlight != nil {
			hl = *req.Highlight
		}
		l.Highlight = &hl
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if req.Order.WantsBoost() {
			sched, err := s.boosts.Create(ctx, l.ID, req.Order.BoostIntervalDays, req.Order.BoostCredits)
			if err != nil {
				return err
			}
			l.BoostScheduleID = sched.ID
		}
		return s.listings.Create(ctx, l)
	})
	if err != nil {
		return domain.Listing{}, domain.Quote{}, fmt.Errorf("lifecycle: create: %w", err)
	}

	s.record(ctx, domain.EventListingCreated, l, map[string]any{
		"owner_id": l.OwnerID,
		"total":    quote.Total,
		"periods":  periods,
	})
	return l, quote, nil
}

// RecordView bumps the listing's view counter.
func (s *Service) RecordView(ctx context.Context, id string) error {
	if err := s.listings.IncrementCounters(ctx, id, 1, 0); err != nil {
		return fmt.Errorf("lifecycle: record view %s: %w", id, err)
	}
	return nil
}

// RecordInquiry bumps the listing's inquiry counter.
func (s *Service) RecordInquiry(ctx context.Context, id string) error {
	if err := s.listings.IncrementCounters(ctx, id, 0, 1); err != nil {
		return fmt.Errorf("lifecycle: record inquiry %s: %w", id, err)
	}
	return nil
}
