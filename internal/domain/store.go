package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listings. Every status mutation goes through
// CompareAndSwap so concurrent writers cannot lose updates.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	Get(ctx context.Context, id string) (Listing, error)
	GetMany(ctx context.Context, ids []string) ([]Listing, error)
	// CompareAndSwap writes next only if the stored version still equals
	// next.Version, returning the stored row with its version incremented.
	// It returns ErrConcurrencyConflict when the version moved.
	CompareAndSwap(ctx context.Context, next Listing) (Listing, error)
	ListByStatus(ctx context.Context, status Status, opts ListOpts) ([]Listing, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Listing, error)
	// ListOverdue returns active listings whose expiry is at or before now,
	// oldest expiry first.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Listing, error)
	IncrementCounters(ctx context.Context, id string, views, inquiries int64) error
	Stats(ctx context.Context, ownerID string) (OwnerStats, error)
}

// SlotStore persists slot assignments. Implementations must reject a second
// row for the same (tier, slot index) or the same listing with ErrAlreadyExists.
type SlotStore interface {
	List(ctx context.Context) ([]SlotAssignment, error)
	// ListTier returns the assignments of one tier ordered by slot index.
	ListTier(ctx context.Context, tierID TierID) ([]SlotAssignment, error)
	Occupy(ctx context.Context, a SlotAssignment) error
	Free(ctx context.Context, listingID string) error
	SetRank(ctx context.Context, listingID string, rank int64) error
}

// BoostStore persists boost schedules keyed by listing id.
type BoostStore interface {
	Create(ctx context.Context, s BoostSchedule) error
	Get(ctx context.Context, listingID string) (BoostSchedule, error)
	// CompareAndSwap writes the mutable fields of next if the stored version
	// still equals next.Version and returns the stored schedule. A stale
	// version fails with ErrConcurrencyConflict.
	CompareAndSwap(ctx context.Context, next BoostSchedule) (BoostSchedule, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]BoostSchedule, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	// DeleteBefore removes entries created before the cutoff once they are
	// archived, returning how many were removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TxRunner runs fn in one storage transaction. Stores called with the
// context handed to fn take part in it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
