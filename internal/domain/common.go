package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// IsValid reports whether the side is one of the two known values.
func (s OrderSide) IsValid() bool {
	return s == Buy || s == Sell
}

// PositionStatus represents the lifecycle state of a position.
// PENDING -> OPEN -> CLOSING -> CLOSED is the happy path; REJECTED and
// CANCELLED are terminal side exits from PENDING.
type PositionStatus string

const (
	StatusPending   PositionStatus = "PENDING"
	StatusOpen      PositionStatus = "OPEN"
	StatusClosing   PositionStatus = "CLOSING"
	StatusClosed    PositionStatus = "CLOSED"
	StatusRejected  PositionStatus = "REJECTED"
	StatusCancelled PositionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusRejected || s == StatusCancelled
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit CloseReason = "TAKE_PROFIT"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonShutdown   CloseReason = "SHUTDOWN"
)

// TradeIntent is the output of the decision engine.
type TradeIntent string

const (
	IntentBuy  TradeIntent = "BUY"
	IntentSell TradeIntent = "SELL"
	IntentHold TradeIntent = "HOLD"
)

// ExecOutcome is the outcome reported by an execution event.
type ExecOutcome string

const (
	ExecFill      ExecOutcome = "FILL"
	ExecRejected  ExecOutcome = "REJECTED"
	ExecCancelled ExecOutcome = "CANCELLED"
)
