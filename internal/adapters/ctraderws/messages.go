package ctraderws

import (
	"encoding/json"
	"time"

	"fxscalper/internal/domain"
)

// Message types exchanged with the broker bridge.
const (
	msgTypeLogon     = "logon"
	msgTypeLogonAck  = "logon_ack"
	msgTypeSubscribe = "subscribe"
	msgTypeTick      = "tick"
	msgTypeDepth     = "depth"
	msgTypeNewOrder  = "new_order"
	msgTypeClose     = "close_order"
	msgTypeExecution = "execution"
	msgTypeHeartbeat = "heartbeat"
)

// envelope wraps every message on the wire.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(msgType string, payload interface{}) (envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Type: msgType, Payload: raw}, nil
}

type subscribeMsg struct {
	SymbolIDs []int64 `json:"symbolIds"`
}

type tickMsg struct {
	SymbolID    int64   `json:"symbolId"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	TimestampMs int64   `json:"timestamp"`
}

// toDomain derives the reference price and spread. The bid is the reference
// when present; a one-sided quote carries no spread.
func (m tickMsg) toDomain() domain.Tick {
	tick := domain.Tick{
		SymbolID:  m.SymbolID,
		Bid:       m.Bid,
		Ask:       m.Ask,
		Timestamp: time.UnixMilli(m.TimestampMs),
	}
	switch {
	case m.Bid > 0 && m.Ask > 0:
		tick.Price = m.Bid
		tick.Spread = m.Ask - m.Bid
	case m.Bid > 0:
		tick.Price = m.Bid
	case m.Ask > 0:
		tick.Price = m.Ask
	}
	return tick
}

type depthLevelMsg struct {
	ID     int64   `json:"id"`
	Side   string  `json:"side"` // "bid" or "ask"
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

type depthMsg struct {
	SymbolID   int64           `json:"symbolId"`
	NewLevels  []depthLevelMsg `json:"newLevels,omitempty"`
	DeletedIDs []int64         `json:"deletedIds,omitempty"`
}

func (m depthMsg) toDomain() domain.DepthUpdate {
	update := domain.DepthUpdate{
		SymbolID:   m.SymbolID,
		DeletedIDs: m.DeletedIDs,
	}
	for _, lvl := range m.NewLevels {
		side := domain.DepthBid
		if lvl.Side == "ask" {
			side = domain.DepthAsk
		}
		update.NewLevels = append(update.NewLevels, domain.DepthLevel{
			ID:     lvl.ID,
			Side:   side,
			Price:  lvl.Price,
			Volume: lvl.Volume,
		})
	}
	return update
}

type orderMsg struct {
	SymbolID       int64   `json:"symbolId"`
	Side           string  `json:"side"`
	Volume         float64 `json:"volume"`
	ClOrdID        string  `json:"clOrdId"`
	MaintenanceRef string  `json:"posMaintRptId,omitempty"`
}

type executionMsg struct {
	ClOrdID        string  `json:"clOrdId"`
	Status         string  `json:"status"` // FILLED, REJECTED or CANCELLED
	FillPrice      float64 `json:"price"`
	MaintenanceRef string  `json:"posMaintRptId"`
	TimestampMs    int64   `json:"timestamp"`
}

func (m executionMsg) toDomain() domain.ExecutionEvent {
	outcome := domain.ExecOutcome(m.Status)
	switch m.Status {
	case "FILLED":
		outcome = domain.ExecFill
	case "REJECTED":
		outcome = domain.ExecRejected
	case "CANCELLED", "CANCELED":
		outcome = domain.ExecCancelled
	}
	return domain.ExecutionEvent{
		ClientOrderID:  m.ClOrdID,
		Outcome:        outcome,
		FillPrice:      m.FillPrice,
		MaintenanceRef: m.MaintenanceRef,
		Timestamp:      time.UnixMilli(m.TimestampMs),
	}
}
