package domain

import "time"

// Trade represents a completed round trip, archived when a position reaches
// CLOSED.
type Trade struct {
	ID             int64       // Assigned by the archive repository
	SymbolID       int64       // Symbol traded
	SymbolName     string      // Display name at archive time
	Side           OrderSide   // Entry side
	Quantity       float64     // Size in lots
	EntryPrice     float64     // Opening fill price
	ExitPrice      float64     // Closing fill price
	PnlPips        float64     // Signed profit in pips
	EntryTime      time.Time   // Opening fill time
	ExitTime       time.Time   // Closing fill time
	CloseReason    CloseReason // Why the position was closed
	ClientOrderID  string      // Opening order id, for correlation in the archive
	MaintenanceRef string      // Broker position reference
}
