package lifecycle

import "fmt"

// RefusalReason classifies why an order placement was declined.
type RefusalReason string

const (
	RefusalPositionExists  RefusalReason = "position_exists"
	RefusalSymbolBusy      RefusalReason = "symbol_busy"
	RefusalGlobalTradeOpen RefusalReason = "global_trade_open"
	RefusalSessionNotReady RefusalReason = "session_not_ready"
	RefusalSpreadTooWide   RefusalReason = "spread_too_wide"
	RefusalInvalidSide     RefusalReason = "invalid_side"
	RefusalUnknownSymbol   RefusalReason = "unknown_symbol"
)

// Refusal is the error returned when a placement precondition fails.
// Refusals are a normal outcome of the decision loop, not faults; callers
// inspect the reason and move on to the next event.
type Refusal struct {
	SymbolID int64
	Reason   RefusalReason
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("order refused for symbol %d: %s", r.SymbolID, r.Reason)
}

func refuse(symbolID int64, reason RefusalReason) *Refusal {
	return &Refusal{SymbolID: symbolID, Reason: reason}
}
