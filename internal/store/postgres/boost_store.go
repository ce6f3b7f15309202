package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// BoostStore implements domain.BoostStore using PostgreSQL.
type BoostStore struct {
	pool *pgxpool.Pool
}

// NewBoostStore creates a new BoostStore backed by the given connection pool.
func NewBoostStore(pool *pgxpool.Pool) *BoostStore {
	return &BoostStore{pool: pool}
}

const boostCols = `id, listing_id, interval_days, total_credits, remaining_credits,
	next_boost_at, enabled, last_boost_at, updated_at, version`

func scanBoost(scanner interface{ Scan(dest ...any) error }) (domain.BoostSchedule, error) {
	var b domain.BoostSchedule
	err := scanner.Scan(
		&b.ID, &b.ListingID, &b.IntervalDays, &b.TotalCredits, &b.RemainingCredits,
		&b.NextBoostAt, &b.Enabled, &b.LastBoostAt, &b.UpdatedAt, &b.Version,
	)
	return b, err
}

// Create inserts a schedule. A second schedule for one listing is rejected.
func (s *BoostStore) Create(ctx context.Context, b domain.BoostSchedule) error {
	_, err := conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO boost_schedules (`+boostCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.ListingID, b.IntervalDays, b.TotalCredits, b.RemainingCredits,
		b.NextBoostAt, b.Enabled, b.LastBoostAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create boost schedule for %s: %w", b.ListingID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create boost schedule for %s: %w", b.ListingID, err)
	}
	return nil
}

// Get returns the schedule of a listing.
func (s *BoostStore) Get(ctx context.Context, listingID string) (domain.BoostSchedule, error) {
	row := conn(ctx, s.pool).QueryRow(ctx, `SELECT `+boostCols+` FROM boost_schedules WHERE listing_id = $1`, listingID)
	b, err := scanBoost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BoostSchedule{}, fmt.Errorf("postgres: get boost schedule for %s: %w", listingID, domain.ErrNotFound)
		}
		return domain.BoostSchedule{}, fmt.Errorf("postgres: get boost schedule for %s: %w", listingID, err)
	}
	return b, nil
}

// CompareAndSwap writes the mutable fields of next if the stored version
// still equals next.Version.
func (s *BoostStore) CompareAndSwap(ctx context.Context, next domain.BoostSchedule) (domain.BoostSchedule, error) {
	const query = `
		UPDATE boost_schedules SET
			remaining_credits = $3, next_boost_at = $4, enabled = $5,
			last_boost_at = $6, updated_at = $7, version = version + 1
		WHERE listing_id = $1 AND version = $2
		RETURNING ` + boostCols

	q := conn(ctx, s.pool)
	row := q.QueryRow(ctx, query,
		next.ListingID, next.Version,
		next.RemainingCredits, next.NextBoostAt, next.Enabled, next.LastBoostAt, next.UpdatedAt,
	)
	saved, err := scanBoost(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.BoostSchedule{}, fmt.Errorf("postgres: swap boost schedule for %s: %w", next.ListingID, err)
	}

	var exists bool
	err = q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM boost_schedules WHERE listing_id = $1)`, next.ListingID).Scan(&exists)
	if err != nil {
		return domain.BoostSchedule{}, fmt.Errorf("postgres: swap boost schedule for %s: %w", next.ListingID, err)
	}
	if !exists {
		return domain.BoostSchedule{}, fmt.Errorf("postgres: swap boost schedule for %s: %w", next.ListingID, domain.ErrNotFound)
	}
	return domain.BoostSchedule{}, fmt.Errorf("postgres: swap boost schedule for %s at version %d: %w",
		next.ListingID, next.Version, domain.ErrConcurrencyConflict)
}

// ListDue returns enabled schedules with credits left whose next boost is at
// or before now, earliest first.
func (s *BoostStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.BoostSchedule, error) {
	const query = `SELECT ` + boostCols + ` FROM boost_schedules
		WHERE enabled AND remaining_credits > 0 AND next_boost_at <= $1
		ORDER BY next_boost_at
		LIMIT NULLIF($2::int, 0)`

	rows, err := conn(ctx, s.pool).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due boosts: %w", err)
	}
	defer rows.Close()

	var out []domain.BoostSchedule
	for rows.Next() {
		b, err := scanBoost(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan boost schedule: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due boosts rows: %w", err)
	}
	return out, nil
}

var _ domain.BoostStore = (*BoostStore)(nil)
