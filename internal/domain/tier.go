package domain

import "time"

// TierID identifies a capacity tier from the catalog. Valid values are the
// ids loaded at boot; anything else is rejected with ErrNotFound.
type TierID string

// TierDefinition is one immutable entry of the tier catalog.
type TierDefinition struct {
	ID           TierID `json:"id"`
	Name         string `json:"name"`
	DisplayRank  int    `json:"display_rank"`
	Capacity     int    `json:"capacity"`
	DurationDays int    `json:"duration_days"`
	// Price is per purchased period in minor currency units.
	Price int64 `json:"price"`
}

// Duration returns the wall-clock length of the given number of periods.
func (t TierDefinition) Duration(periods int) time.Duration {
	return Days(t.DurationDays * periods)
}

// Days converts a day count into a time.Duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
