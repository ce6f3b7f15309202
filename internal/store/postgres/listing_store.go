package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. Commands
// commit through CompareAndSwap, which bumps listings.version.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `id, owner_id, title, requested_tier, purchased_periods, tier_id, status,
	created_at, approved_at, expires_at, rejection_reason, highlight, boost_schedule_id,
	views, inquiries, version, updated_at`

func scanListing(scanner interface{ Scan(dest ...any) error }) (domain.Listing, error) {
	var (
		l         domain.Listing
		requested string
		tierID    *string
		status    string
		highlight []byte
	)
	err := scanner.Scan(
		&l.ID, &l.OwnerID, &l.Title, &requested, &l.PurchasedPeriods, &tierID, &status,
		&l.CreatedAt, &l.ApprovedAt, &l.ExpiresAt, &l.RejectionReason, &highlight, &l.BoostScheduleID,
		&l.Views, &l.Inquiries, &l.Version, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}

	l.RequestedTier = domain.TierID(requested)
	if tierID != nil {
		l.TierID = domain.TierID(*tierID)
	}
	if l.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Listing{}, err
	}
	if len(highlight) > 0 {
		l.Highlight = &domain.HighlightConfig{}
		if err := json.Unmarshal(highlight, l.Highlight); err != nil {
			return domain.Listing{}, fmt.Errorf("unmarshal highlight: %w", err)
		}
	}
	return l, nil
}

func collectListings(rows pgx.Rows) ([]domain.Listing, error) {
	defer rows.Close()
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullableTier(id domain.TierID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}

func highlightJSON(h *domain.HighlightConfig) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}

// Create inserts a new listing.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	hl, err := highlightJSON(l.Highlight)
	if err != nil {
		return fmt.Errorf("postgres: marshal highlight %s: %w", l.ID, err)
	}
	updated := l.UpdatedAt
	if updated.IsZero() {
		updated = l.CreatedAt
	}

	const query = `
		INSERT INTO listings (` + listingCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = conn(ctx, s.pool).Exec(ctx, query,
		l.ID, l.OwnerID, l.Title, string(l.RequestedTier), l.PurchasedPeriods, nullableTier(l.TierID), string(l.Status),
		l.CreatedAt, l.ApprovedAt, l.ExpiresAt, l.RejectionReason, hl, l.BoostScheduleID,
		l.Views, l.Inquiries, l.Version, updated,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create listing %s: %w", l.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create listing %s: %w", l.ID, err)
	}
	return nil
}

// Get returns a single listing by id.
func (s *ListingStore) Get(ctx context.Context, id string) (domain.Listing, error) {
	row := conn(ctx, s.pool).QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, domain.ErrNotFound)
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// GetMany returns the listings that exist, preserving the order of ids.
func (s *ListingStore) GetMany(ctx context.Context, ids []string) ([]domain.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := conn(ctx, s.pool).Query(ctx, `SELECT `+listingCols+` FROM listings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get listings: %w", err)
	}
	found, err := collectListings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: get listings: %w", err)
	}

	byID := make(map[string]domain.Listing, len(found))
	for _, l := range found {
		byID[l.ID] = l
	}
	out := make([]domain.Listing, 0, len(found))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// CompareAndSwap writes next if the stored version still equals
// next.Version. Counters are left to IncrementCounters.
func (s *ListingStore) CompareAndSwap(ctx context.Context, next domain.Listing) (domain.Listing, error) {
	hl, err := highlightJSON(next.Highlight)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: marshal highlight %s: %w", next.ID, err)
	}
	updated := next.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	const query = `
		UPDATE listings SET
			title = $3, requested_tier = $4, purchased_periods = $5, tier_id = $6, status = $7,
			approved_at = $8, expires_at = $9, rejection_reason = $10, highlight = $11,
			boost_schedule_id = $12, updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING ` + listingCols

	q := conn(ctx, s.pool)
	row := q.QueryRow(ctx, query,
		next.ID, next.Version,
		next.Title, string(next.RequestedTier), next.PurchasedPeriods, nullableTier(next.TierID), string(next.Status),
		next.ApprovedAt, next.ExpiresAt, next.RejectionReason, hl,
		next.BoostScheduleID, updated,
	)
	saved, err := scanListing(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("postgres: swap listing %s: %w", next.ID, err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: swap listing %s: %w", next.ID, err)
	}
	if !exists {
		return domain.Listing{}, fmt.Errorf("postgres: swap listing %s: %w", next.ID, domain.ErrNotFound)
	}
	return domain.Listing{}, fmt.Errorf("postgres: swap listing %s at version %d: %w",
		next.ID, next.Version, domain.ErrConcurrencyConflict)
}

// ListByStatus returns listings in status ordered by creation time.
func (s *ListingStore) ListByStatus(ctx context.Context, status domain.Status, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `SELECT ` + listingCols + ` FROM listings WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by status %s: %w", status, err)
	}
	out, err := collectListings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by status %s: %w", status, err)
	}
	return out, nil
}

// ListByOwner returns an owner's listings, newest first.
func (s *ListingStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Listing, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+listingCols+` FROM listings WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings of %s: %w", ownerID, err)
	}
	out, err := collectListings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings of %s: %w", ownerID, err)
	}
	return out, nil
}

// ListOverdue returns active listings whose expiry is at or before now.
func (s *ListingStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	const query = `SELECT ` + listingCols + ` FROM listings
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT NULLIF($2::int, 0)`

	rows, err := conn(ctx, s.pool).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list overdue listings: %w", err)
	}
	out, err := collectListings(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list overdue listings: %w", err)
	}
	return out, nil
}

// IncrementCounters adds to the view and inquiry counters without touching
// the version.
func (s *ListingStore) IncrementCounters(ctx context.Context, id string, views, inquiries int64) error {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE listings SET views = views + $2, inquiries = inquiries + $3 WHERE id = $1`,
		id, views, inquiries)
	if err != nil {
		return fmt.Errorf("postgres: increment counters %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: increment counters %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Stats aggregates an owner's listings per status.
func (s *ListingStore) Stats(ctx context.Context, ownerID string) (domain.OwnerStats, error) {
	const query = `
		SELECT status, COUNT(*), COALESCE(SUM(views), 0), COALESCE(SUM(inquiries), 0)
		FROM listings WHERE owner_id = $1
		GROUP BY status`

	rows, err := conn(ctx, s.pool).Query(ctx, query, ownerID)
	if err != nil {
		return domain.OwnerStats{}, fmt.Errorf("postgres: stats %s: %w", ownerID, err)
	}
	defer rows.Close()

	st := domain.OwnerStats{OwnerID: ownerID}
	for rows.Next() {
		var (
			status           string
			count            int
			views, inquiries int64
		)
		if err := rows.Scan(&status, &count, &views, &inquiries); err != nil {
			return domain.OwnerStats{}, fmt.Errorf("postgres: scan stats: %w", err)
		}
		parsed, err := domain.ParseStatus(status)
		if err != nil {
			return domain.OwnerStats{}, fmt.Errorf("postgres: stats %s: %w", ownerID, err)
		}
		switch parsed {
		case domain.StatusActive:
			st.Active = count
		case domain.StatusPending:
			st.Pending = count
		case domain.StatusExpired:
			st.Expired = count
		case domain.StatusRejected:
			st.Rejected = count
		case domain.StatusClosed:
			st.Closed = count
		}
		st.Views += views
		st.Inquiries += inquiries
	}
	if err := rows.Err(); err != nil {
		return domain.OwnerStats{}, fmt.Errorf("postgres: stats rows: %w", err)
	}
	return st, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
