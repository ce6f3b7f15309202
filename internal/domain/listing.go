package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusClosed   Status = "closed"
)

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusActive, StatusRejected, StatusExpired, StatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown listing status %q", s)
	}
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusRejected
	case StatusActive:
		// Active -> Active is an in-place extension.
		return next == StatusActive || next == StatusExpired || next == StatusClosed
	case StatusExpired:
		return next == StatusActive
	case StatusRejected, StatusClosed:
		return false
	default:
		panic(fmt.Sprintf("domain: unhandled listing status %q", string(s)))
	}
}

// Terminal reports whether no further command can change the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusClosed:
		return true
	case StatusPending, StatusActive, StatusExpired:
		return false
	default:
		panic(fmt.Sprintf("domain: unhandled listing status %q", string(s)))
	}
}

// DefaultRejectionReason is stored when an admin rejects without a reason.
const DefaultRejectionReason = "listing violates marketplace policy"

// HighlightConfig is a purely cosmetic add-on with no capacity impact.
type HighlightConfig struct {
	Color string `json:"color,omitempty"`
	Badge string `json:"badge,omitempty"`
}

// Listing is the sellable unit moved through the approval workflow.
type Listing struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	// RequestedTier and PurchasedPeriods come from the order at intake.
	RequestedTier    TierID `json:"requested_tier"`
	PurchasedPeriods int    `json:"purchased_periods"`
	// TierID stays empty until the listing is approved.
	TierID          TierID           `json:"tier_id,omitempty"`
	Status          Status           `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Highlight       *HighlightConfig `json:"highlight,omitempty"`
	BoostScheduleID string           `json:"boost_schedule_id,omitempty"`
	Views           int64            `json:"views"`
	Inquiries       int64            `json:"inquiries"`
	// Version is bumped on every committed status mutation and used for
	// compare-and-swap updates.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overdue reports whether an active listing has reached its expiry at now.
func (l Listing) Overdue(now time.Time) bool {
	return l.Status == StatusActive && l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// OwnerStats aggregates an owner's listings for the owner dashboard.
type OwnerStats struct {
	OwnerID   string `json:"owner_id"`
	Active    int    `json:"active"`
	Pending   int    `json:"pending"`
	Expired   int    `json:"expired"`
	Rejected  int    `json:"rejected"`
	Closed    int    `json:"closed"`
	Views     int64  `json:"views"`
	Inquiries int64  `json:"inquiries"`
}
