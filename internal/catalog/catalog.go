// Package catalog holds the immutable tier catalog and prices orders against
// it. All amounts are integer minor currency units.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// DefaultBoostIntervals is the allow-list used when none is configured.
var DefaultBoostIntervals = []int{1, 3, 7}

// Pricing holds the add-on prices and the boost interval allow-list.
type Pricing struct {
	HighlightFee     int64
	BoostCreditPrice int64
	BoostIntervals   []int
}

// Catalog is the validated, read-only tier configuration.
type Catalog struct {
	tiers     map[domain.TierID]domain.TierDefinition
	ordered   []domain.TierDefinition
	pricing   Pricing
	intervals map[int]bool
}

// New validates the tier definitions and builds a Catalog. A tier with a
// non-positive capacity or duration is a fatal configuration error.
func New(tiers []domain.TierDefinition, pricing Pricing) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("catalog: no tiers defined: %w", domain.ErrInvalidConfig)
	}
	if pricing.HighlightFee < 0 || pricing.BoostCreditPrice < 0 {
		return nil, fmt.Errorf("catalog: add-on prices must be >= 0: %w", domain.ErrInvalidConfig)
	}

	c := &Catalog{
		tiers:     make(map[domain.TierID]domain.TierDefinition, len(tiers)),
		pricing:   pricing,
		intervals: make(map[int]bool),
	}
	for _, t := range tiers {
		switch {
		case t.ID == "":
			return nil, fmt.Errorf("catalog: tier with empty id: %w", domain.ErrInvalidConfig)
		case t.Capacity <= 0:
			return nil, fmt.Errorf("catalog: tier %q capacity %d must be > 0: %w", t.ID, t.Capacity, domain.ErrInvalidConfig)
		case t.DurationDays <= 0:
			return nil, fmt.Errorf("catalog: tier %q duration_days %d must be > 0: %w", t.ID, t.DurationDays, domain.ErrInvalidConfig)
		case t.Price < 0:
			return nil, fmt.Errorf("catalog: tier %q price must be >= 0: %w", t.ID, domain.ErrInvalidConfig)
		}
		if _, dup := c.tiers[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate tier %q: %w", t.ID, domain.ErrInvalidConfig)
		}
		c.tiers[t.ID] = t
		c.ordered = append(c.ordered, t)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].DisplayRank < c.ordered[j].DisplayRank
	})

	intervals := pricing.BoostIntervals
	if len(intervals) == 0 {
		intervals = DefaultBoostIntervals
	}
	for _, d := range intervals {
		if d <= 0 {
			return nil, fmt.Errorf("catalog: boost interval %d must be > 0: %w", d, domain.ErrInvalidConfig)
		}
		c.intervals[d] = true
	}
	c.pricing.BoostIntervals = append([]int(nil), intervals...)
	sort.Ints(c.pricing.BoostIntervals)

	return c, nil
}

// Tier returns the definition for id.
func (c *Catalog) Tier(id domain.TierID) (domain.TierDefinition, error) {
	t, ok := c.tiers[id]
	if !ok {
		return domain.TierDefinition{}, fmt.Errorf("catalog: tier %q: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Tiers returns every tier ordered by display rank.
func (c *Catalog) Tiers() []domain.TierDefinition {
	return append([]domain.TierDefinition(nil), c.ordered...)
}

// Pricing returns the add-on price list.
func (c *Catalog) Pricing() Pricing {
	p := c.pricing
	p.BoostIntervals = append([]int(nil), c.pricing.BoostIntervals...)
	return p
}

// IntervalAllowed reports whether days is on the boost interval allow-list.
func (c *Catalog) IntervalAllowed(days int) bool {
	return c.intervals[days]
}

// Duration returns duration(t) * periods.
func (c *Catalog) Duration(id domain.TierID, periods int) (time.Duration, error) {
	t, err := c.Tier(id)
	if err != nil {
		return 0, err
	}
	if periods <= 0 {
		return 0, fmt.Errorf("catalog: periods %d must be > 0: %w", periods, domain.ErrInvalidConfig)
	}
	return t.Duration(periods), nil
}

// Validate checks an order before any listing is created.
func (c *Catalog) Validate(order domain.Order) error {
	if len(order.Tiers) == 0 {
		return fmt.Errorf("catalog: order selects no tier: %w", domain.ErrInvalidConfig)
	}
	for id, periods := range order.Tiers {
		if _, err := c.Tier(id); err != nil {
			return err
		}
		if periods <= 0 {
			return fmt.Errorf("catalog: tier %q periods %d must be > 0: %w", id, periods, domain.ErrInvalidConfig)
		}
	}
	if order.WantsBoost() {
		if order.BoostCredits <= 0 {
			return fmt.Errorf("catalog: boost credits %d must be > 0: %w", order.BoostCredits, domain.ErrInvalidConfig)
		}
		if !c.IntervalAllowed(order.BoostIntervalDays) {
			return fmt.Errorf("catalog: boost interval %d days not allowed (allowed %v): %w",
				order.BoostIntervalDays, c.pricing.BoostIntervals, domain.ErrInvalidConfig)
		}
	}
	return nil
}

// Price returns the order total:
//
//	sum(price(t) * periods(t)) + highlightFee*[highlight] + boostCreditPrice*credits
func (c *Catalog) Price(order domain.Order) (int64, error) {
	q, err := c.Quote(order)
	if err != nil {
		return 0, err
	}
	return q.Total, nil
}

// Quote validates the order and returns its price breakdown. DurationDays is
// the longest placement the order buys.
func (c *Catalog) Quote(order domain.Order) (domain.Quote, error) {
	if err := c.Validate(order); err != nil {
		return domain.Quote{}, err
	}

	var q domain.Quote
	for id, periods := range order.Tiers {
		t := c.tiers[id]
		q.TierTotal += t.Price * int64(periods)
		if d := t.DurationDays * periods; d > q.DurationDays {
			q.DurationDays = d
		}
	}
	if order.Highlight {
		q.HighlightFee = c.pricing.HighlightFee
	}
	if order.WantsBoost() {
		q.BoostTotal = c.pricing.BoostCreditPrice * int64(order.BoostCredits)
	}
	q.Total = q.TierTotal + q.HighlightFee + q.BoostTotal
	return q, nil
}

// Placement extracts the single capacity tier an order buys. A listing holds
// at most one slot at a time, so orders naming several tiers are rejected.
func (c *Catalog) Placement(order domain.Order) (domain.TierID, int, error) {
	if err := c.Validate(order); err != nil {
		return "", 0, err
	}
	if len(order.Tiers) != 1 {
		return "", 0, fmt.Errorf("catalog: order selects %d tiers, a listing occupies exactly one: %w",
			len(order.Tiers), domain.ErrInvalidConfig)
	}
	var (
		tier    domain.TierID
		periods int
	)
	for id, p := range order.Tiers {
		tier, periods = id, p
	}
	return tier, periods, nil
}
