package domain

import "time"

// ExecutionEvent is an asynchronous notification from the order gateway
// reporting the outcome of a previously sent order.
type ExecutionEvent struct {
	ClientOrderID  string      // Echo of the order's client id
	Outcome        ExecOutcome // FILL, REJECTED or CANCELLED
	FillPrice      float64     // Average fill price (FILL only)
	MaintenanceRef string      // Broker-assigned position reference, when present
	Timestamp      time.Time   // Broker-reported event time
}
