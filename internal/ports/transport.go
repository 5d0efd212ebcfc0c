package ports

import (
	"context"

	"fxscalper/internal/domain"
)

// TickHandler receives price observations pushed by the feed.
type TickHandler func(tick domain.Tick)

// DepthHandler receives incremental book updates pushed by the feed.
type DepthHandler func(update domain.DepthUpdate)

// ExecutionHandler receives execution events pushed by the order gateway.
type ExecutionHandler func(event domain.ExecutionEvent)

// MarketDataFeed is the push-only market data boundary. The wire session
// (authentication, subscription acknowledgement, heartbeats, reconnection)
// lives behind this interface; the core only sees callbacks.
type MarketDataFeed interface {
	// Subscribe starts delivery of tick and depth events for the given
	// symbols. Handlers are invoked from the feed's own goroutine and must
	// not block. Returns channels to observe (doneCh) and request (stopCh)
	// stream shutdown, or an error if the stream cannot be started.
	Subscribe(ctx context.Context, symbolIDs []int64, onTick TickHandler, onDepth DepthHandler, errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}

// OrderRequest carries everything the gateway needs to place a market order.
type OrderRequest struct {
	SymbolID       int64
	Side           domain.OrderSide
	Quantity       float64 // Lots
	ClientOrderID  string
	MaintenanceRef string // Set only on closing orders, targets the open position
}

// OrderGateway is the outbound order boundary. Sends are fire-and-forget;
// outcomes arrive asynchronously as execution events.
type OrderGateway interface {
	// IsReady reports whether the trading session is authenticated and able
	// to accept orders. Consulted as a gating precondition before every send.
	IsReady() bool

	// SendOpen submits a market order opening a new position.
	SendOpen(ctx context.Context, req OrderRequest) error

	// SendClose submits a market order closing the position identified by
	// req.MaintenanceRef.
	SendClose(ctx context.Context, req OrderRequest) error

	// StreamExecutions starts delivery of execution events. The handler is
	// invoked in the order events are received from the broker.
	StreamExecutions(ctx context.Context, handler ExecutionHandler, errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
