package domain

import "time"

// Position represents one potential or actual trade for a symbol. It is
// created when an order is placed and mutated only by the lifecycle manager
// under its locks. At most one non-terminal Position exists per symbol.
type Position struct {
	SymbolID           int64          // Symbol this position belongs to
	Side               OrderSide      // Entry side (BUY or SELL)
	Quantity           float64        // Size in lots
	Status             PositionStatus // Current lifecycle state
	ClientOrderID      string         // Locally generated id of the opening order
	CloseClientOrderID string         // Id of the closing order (set on CLOSING)
	MaintenanceRef     string         // Broker-assigned position reference (set on opening fill)
	EntryPrice         float64        // Fill price of the opening order
	ExitPrice          float64        // Fill price of the closing order
	StopLossPips       float64        // Fixed stop-loss distance in pips
	TakeProfitPips     float64        // Fixed take-profit distance in pips
	OrderTime          time.Time      // When the opening order was sent
	EntryTime          time.Time      // When the opening fill was received
	ExitTime           time.Time      // When the closing fill was received
	CloseReason        CloseReason    // Why the position was (being) closed
}

// IsOpen reports whether the position is live in the market.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// PnLPips returns the signed profit in pips at the given price.
// Buy positions profit when price rises, sell positions when it falls.
func (p *Position) PnLPips(price, pipValue float64) float64 {
	if p.Side == Buy {
		return (price - p.EntryPrice) / pipValue
	}
	return (p.EntryPrice - price) / pipValue
}
