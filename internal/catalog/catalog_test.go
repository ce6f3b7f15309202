package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/domain"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New([]domain.TierDefinition{
		{ID: "silver", Name: "Silver", DisplayRank: 2, Capacity: 20, DurationDays: 7, Price: 50_000},
		{ID: "gold", Name: "Gold", DisplayRank: 1, Capacity: 5, DurationDays: 30, Price: 1_000_000},
	}, Pricing{HighlightFee: 30_000, BoostCreditPrice: 5_000})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadTiers(t *testing.T) {
	tests := []struct {
		name  string
		tiers []domain.TierDefinition
	}{
		{"empty", nil},
		{"zero capacity", []domain.TierDefinition{{ID: "gold", Capacity: 0, DurationDays: 30}}},
		{"negative capacity", []domain.TierDefinition{{ID: "gold", Capacity: -1, DurationDays: 30}}},
		{"zero duration", []domain.TierDefinition{{ID: "gold", Capacity: 5, DurationDays: 0}}},
		{"missing id", []domain.TierDefinition{{Capacity: 5, DurationDays: 30}}},
		{"duplicate", []domain.TierDefinition{
			{ID: "gold", Capacity: 5, DurationDays: 30},
			{ID: "gold", Capacity: 3, DurationDays: 30},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.tiers, Pricing{})
			require.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestTiersOrderedByDisplayRank(t *testing.T) {
	c := testCatalog(t)
	tiers := c.Tiers()
	require.Len(t, tiers, 2)
	assert.Equal(t, domain.TierID("gold"), tiers[0].ID)
	assert.Equal(t, domain.TierID("silver"), tiers[1].ID)
}

func TestGoldTwoPeriods(t *testing.T) {
	c := testCatalog(t)
	order := domain.Order{Tiers: map[domain.TierID]int{"gold": 2}}

	d, err := c.Duration("gold", 2)
	require.NoError(t, err)
	assert.Equal(t, 60*24*time.Hour, d)

	price, err := c.Price(order)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), price)
}

func TestQuoteWithAddOns(t *testing.T) {
	c := testCatalog(t)
	q, err := c.Quote(domain.Order{
		Tiers:             map[domain.TierID]int{"silver": 3},
		Highlight:         true,
		BoostCredits:      10,
		BoostIntervalDays: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), q.TierTotal)
	assert.Equal(t, int64(30_000), q.HighlightFee)
	assert.Equal(t, int64(50_000), q.BoostTotal)
	assert.Equal(t, int64(230_000), q.Total)
	assert.Equal(t, 21, q.DurationDays)
}

func TestValidate(t *testing.T) {
	c := testCatalog(t)
	tests := []struct {
		name    string
		order   domain.Order
		wantErr error
	}{
		{"no tiers", domain.Order{}, domain.ErrInvalidConfig},
		{"zero periods", domain.Order{Tiers: map[domain.TierID]int{"gold": 0}}, domain.ErrInvalidConfig},
		{"unknown tier", domain.Order{Tiers: map[domain.TierID]int{"platinum": 1}}, domain.ErrNotFound},
		{"boost without credits", domain.Order{Tiers: map[domain.TierID]int{"gold": 1}, BoostIntervalDays: 3}, domain.ErrInvalidConfig},
		{"boost bad interval", domain.Order{Tiers: map[domain.TierID]int{"gold": 1}, BoostCredits: 2, BoostIntervalDays: 5}, domain.ErrInvalidConfig},
		{"valid boost", domain.Order{Tiers: map[domain.TierID]int{"gold": 1}, BoostCredits: 2, BoostIntervalDays: 7}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Validate(tc.order)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPlacementRequiresSingleTier(t *testing.T) {
	c := testCatalog(t)

	_, _, err := c.Placement(domain.Order{Tiers: map[domain.TierID]int{"gold": 1, "silver": 1}})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	tier, periods, err := c.Placement(domain.Order{Tiers: map[domain.TierID]int{"silver": 4}})
	require.NoError(t, err)
	assert.Equal(t, domain.TierID("silver"), tier)
	assert.Equal(t, 4, periods)
}

func TestCustomIntervals(t *testing.T) {
	c, err := New([]domain.TierDefinition{{ID: "gold", Capacity: 1, DurationDays: 1}},
		Pricing{BoostIntervals: []int{14, 2}})
	require.NoError(t, err)
	assert.True(t, c.IntervalAllowed(14))
	assert.False(t, c.IntervalAllowed(3))
	assert.Equal(t, []int{2, 14}, c.Pricing().BoostIntervals)
}
