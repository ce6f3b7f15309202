package domain

// SlotAssignment binds one listing to one slot of a tier. Rank orders the
// occupants of a tier for display; lower ranks are shown first.
type SlotAssignment struct {
	TierID    TierID `json:"tier_id"`
	SlotIndex int    `json:"slot_index"`
	ListingID string `json:"listing_id"`
	Rank      int64  `json:"rank"`
}

// Occupancy summarises a tier's slot table.
type Occupancy struct {
	TierID   TierID `json:"tier_id"`
	Capacity int    `json:"capacity"`
	Used     int    `json:"used"`
}

// Free returns the number of unoccupied slots.
func (o Occupancy) Free() int {
	return o.Capacity - o.Used
}
