package lifecycle

import (
	"fmt"
	"sync"
)

// TradeGate enforces the single-concurrent-trade rule across all symbols.
// It tracks whether any position is currently live in the market. Critical
// sections are brief; callers never hold the gate while doing I/O.
type TradeGate struct {
	mu       sync.Mutex
	open     bool
	symbolID int64
}

// NewTradeGate creates a closed gate.
func NewTradeGate() *TradeGate {
	return &TradeGate{}
}

// MarkOpen records that symbolID now holds the single live position.
// A second open while the gate is already held is unreachable by
// construction; hitting it means the lifecycle preconditions were bypassed,
// so it panics rather than trading with corrupted state.
func (g *TradeGate) MarkOpen(symbolID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		panic(fmt.Sprintf("trade gate double-open: symbol %d opening while symbol %d holds the gate", symbolID, g.symbolID))
	}
	g.open = true
	g.symbolID = symbolID
}

// MarkClosed releases the gate. Safe to call when already closed.
func (g *TradeGate) MarkClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.open = false
	g.symbolID = 0
}

// IsOpen reports whether any symbol holds the gate.
func (g *TradeGate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Holder returns the symbol currently holding the gate, ok=false when closed.
func (g *TradeGate) Holder() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.symbolID, g.open
}
