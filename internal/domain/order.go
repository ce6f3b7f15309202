package domain

// Order is the ephemeral purchase input consumed once at intake.
type Order struct {
	// Tiers maps each selected tier to its number of purchased periods.
	Tiers             map[TierID]int `json:"tiers"`
	BoostCredits      int            `json:"boost_credits,omitempty"`
	BoostIntervalDays int            `json:"boost_interval_days,omitempty"`
	Highlight         bool           `json:"highlight,omitempty"`
}

// WantsBoost reports whether the order purchases boost credits.
func (o Order) WantsBoost() bool {
	return o.BoostCredits != 0 || o.BoostIntervalDays != 0
}

// Quote is the priced breakdown of an order, in minor currency units.
type Quote struct {
	TierTotal    int64 `json:"tier_total"`
	HighlightFee int64 `json:"highlight_fee"`
	BoostTotal   int64 `json:"boost_total"`
	Total        int64 `json:"total"`
	DurationDays int   `json:"duration_days"`
}
