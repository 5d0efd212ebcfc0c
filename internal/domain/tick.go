package domain

import "time"

// Tick represents a single price observation for a symbol.
type Tick struct {
	SymbolID      int64     // Feed symbol identifier
	Bid           float64   // Best bid at observation time
	Ask           float64   // Best ask at observation time
	Price         float64   // Reference price (bid when both sides present)
	Spread        float64   // Ask minus bid (0 if one side missing)
	Timestamp     time.Time // Exchange-supplied timestamp
	Direction     int       // +1 up, -1 down, 0 neutral vs previous stored price
	PreviousPrice float64   // Price of the previously stored tick (0 for the first)
}

// HasPrice reports whether the tick carries a usable reference price.
func (t Tick) HasPrice() bool {
	return t.Price > 0
}
