package domain

import "time"

// Audit event names recorded for every committed command.
const (
	EventListingCreated  = "listing.created"
	EventListingApproved = "listing.approved"
	EventListingRejected = "listing.rejected"
	EventListingExtended = "listing.extended"
	EventListingClosed   = "listing.closed"
	EventListingExpired  = "listing.expired"
	EventBoostFired      = "boost.fired"
	EventBoostDisabled   = "boost.disabled"

	// Operational events; they record no state change.
	EventApprovalBlocked = "listing.approval_blocked"
	EventSlotReclaimed   = "slot.reclaimed"
	EventSweepCompleted  = "sweep.completed"
)

// ListingEvent is the payload published on ListingEventsChannel.
type ListingEvent struct {
	Event     string         `json:"event"`
	ListingID string         `json:"listing_id"`
	Status    Status         `json:"status,omitempty"`
	TierID    TierID         `json:"tier_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}
