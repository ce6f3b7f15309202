package domain

import "time"

// BoostSchedule is a prepaid, recurring promotion of a listing to the front
// of its tier. TotalCredits never changes; RemainingCredits only decreases.
// Version is bumped by every CompareAndSwap.
type BoostSchedule struct {
	ID               string     `json:"id"`
	ListingID        string     `json:"listing_id"`
	IntervalDays     int        `json:"interval_days"`
	TotalCredits     int        `json:"total_credits"`
	RemainingCredits int        `json:"remaining_credits"`
	NextBoostAt      time.Time  `json:"next_boost_at"`
	Enabled          bool       `json:"enabled"`
	LastBoostAt      *time.Time `json:"last_boost_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// Due reports whether the schedule should fire at now.
func (b BoostSchedule) Due(now time.Time) bool {
	return b.Enabled && b.RemainingCredits > 0 && !b.NextBoostAt.After(now)
}

// Exhausted reports whether Fire must refuse the schedule.
func (b BoostSchedule) Exhausted() bool {
	return !b.Enabled || b.RemainingCredits <= 0
}
