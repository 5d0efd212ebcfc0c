package domain

// DepthSide identifies which side of the book a level rests on.
type DepthSide string

const (
	DepthBid DepthSide = "bid"
	DepthAsk DepthSide = "ask"
)

// DepthLevel is one resting order in the book. The feed-assigned ID is used
// to apply deletions on subsequent updates.
type DepthLevel struct {
	ID     int64     // Feed-assigned level identifier
	Side   DepthSide // bid or ask
	Price  float64   // Level price
	Volume float64   // Resting volume at this price
}

// DepthUpdate is one incremental book update from the feed: levels to add
// plus identifiers of levels that no longer exist.
type DepthUpdate struct {
	SymbolID   int64
	NewLevels  []DepthLevel
	DeletedIDs []int64
}
