package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// SlotStore implements domain.SlotStore using PostgreSQL. The primary key on
// (tier_id, slot_index) and the unique listing_id reject double bookings.
type SlotStore struct {
	pool *pgxpool.Pool
}

// NewSlotStore creates a new SlotStore backed by the given connection pool.
func NewSlotStore(pool *pgxpool.Pool) *SlotStore {
	return &SlotStore{pool: pool}
}

// List returns every assignment ordered by tier and slot.
func (s *SlotStore) List(ctx context.Context) ([]domain.SlotAssignment, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT tier_id, slot_index, listing_id, rank FROM slot_assignments ORDER BY tier_id, slot_index`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list slots: %w", err)
	}
	return collectSlots(rows)
}

// ListTier returns the assignments of one tier ordered by slot.
func (s *SlotStore) ListTier(ctx context.Context, tierID domain.TierID) ([]domain.SlotAssignment, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT tier_id, slot_index, listing_id, rank FROM slot_assignments WHERE tier_id = $1 ORDER BY slot_index`,
		string(tierID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list slots of %s: %w", tierID, err)
	}
	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]domain.SlotAssignment, error) {
	defer rows.Close()

	var out []domain.SlotAssignment
	for rows.Next() {
		var (
			a    domain.SlotAssignment
			tier string
		)
		if err := rows.Scan(&tier, &a.SlotIndex, &a.ListingID, &a.Rank); err != nil {
			return nil, fmt.Errorf("postgres: scan slot: %w", err)
		}
		a.TierID = domain.TierID(tier)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list slots rows: %w", err)
	}
	return out, nil
}

// Occupy inserts an assignment row.
func (s *SlotStore) Occupy(ctx context.Context, a domain.SlotAssignment) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO slot_assignments (tier_id, slot_index, listing_id, rank) VALUES ($1, $2, $3, $4)`,
		string(a.TierID), a.SlotIndex, a.ListingID, a.Rank)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("postgres: occupy %s/%d: %w", a.TierID, a.SlotIndex, domain.ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("postgres: occupy %s/%d: listing %s: %w", a.TierID, a.SlotIndex, a.ListingID, domain.ErrNotFound)
	default:
		return fmt.Errorf("postgres: occupy %s/%d: %w", a.TierID, a.SlotIndex, err)
	}
}

// Free deletes the listing's assignment; a missing row is not an error.
func (s *SlotStore) Free(ctx context.Context, listingID string) error {
	if _, err := conn(ctx, s.pool).Exec(ctx, `DELETE FROM slot_assignments WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("postgres: free slot of %s: %w", listingID, err)
	}
	return nil
}

// SetRank updates the display rank of the listing's assignment.
func (s *SlotStore) SetRank(ctx context.Context, listingID string, rank int64) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `UPDATE slot_assignments SET rank = $2 WHERE listing_id = $1`, listingID, rank)
	if err != nil {
		return fmt.Errorf("postgres: set rank %s: %w", listingID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set rank %s: %w", listingID, domain.ErrNotFound)
	}
	return nil
}

var _ domain.SlotStore = (*SlotStore)(nil)
