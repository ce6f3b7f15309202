// Package lifecycle is the listing state machine. Every status change goes
// through one of its commands, each of which runs inside the listing's
// critical section and commits with a compare-and-swap on the listing
// version.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/adboard/internal/boost"
	"github.com/alanyoungcy/adboard/internal/catalog"
	"github.com/alanyoungcy/adboard/internal/clock"
	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/events"
	"github.com/alanyoungcy/adboard/internal/keylock"
	"github.com/alanyoungcy/adboard/internal/placement"
)

// Service implements intake, the admin and owner commands, and the queries
// behind the admin and owner surfaces.
type Service struct {
	catalog  *catalog.Catalog
	listings domain.ListingStore
	alloc    *placement.Allocator
	boosts   *boost.Scheduler
	locks    *keylock.Map
	clock    clock.Clock
	recorder *events.Recorder
	tx       domain.TxRunner
	logger   *slog.Logger
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NewService creates a Service. locks must be the same map the boost
// scheduler was built with.
func NewService(
	cat *catalog.Catalog,
	listings domain.ListingStore,
	alloc *placement.Allocator,
	boosts *boost.Scheduler,
	locks *keylock.Map,
	clk clock.Clock,
	recorder *events.Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		catalog:  cat,
		listings: listings,
		alloc:    alloc,
		boosts:   boosts,
		locks:    locks,
		clock:    clk,
		recorder: recorder,
		tx:       inlineTx{},
		logger:   logger.With(slog.String("component", "lifecycle")),
	}
}

// WithTx makes intake write the listing and its boost schedule in one
// storage transaction.
func (s *Service) WithTx(tx domain.TxRunner) *Service {
	s.tx = tx
	return s
}

// Catalog exposes the tier catalog for quoting.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Service) record(ctx context.Context, event string, l domain.Listing, detail map[string]any) {
	s.recorder.Record(ctx, domain.ListingEvent{
		Event:     event,
		ListingID: l.ID,
		Status:    l.Status,
		TierID:    l.TierID,
		Detail:    detail,
		At:        s.clock.Now(),
	})
}

// releaseAfterCommit frees the listing's slot once its new status is
// committed. A failure leaves an orphaned slot that the sweeper reclaims.
func (s *Service) releaseAfterCommit(ctx context.Context, id string) {
	if err := s.alloc.Release(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "slot release failed, left for reclaim",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
	if err := s.boosts.Disable(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "boost disable failed",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
}
