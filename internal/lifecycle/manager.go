package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fxscalper/internal/domain"
	"fxscalper/internal/ports"
)

// exitTolerancePips absorbs the representation error of pip divisions so a
// price exactly at the stop or target distance still triggers the exit.
const exitTolerancePips = 1e-9

// Config holds the lifecycle manager's trading parameters.
type Config struct {
	Symbols        domain.SymbolSet
	LotSize        float64
	StopLossPips   float64
	TakeProfitPips float64
	MaxSpreadPips  float64
}

// Stats is a point-in-time view of the session's trading performance.
type Stats struct {
	TotalTrades     int
	Wins            int
	Losses          int
	TotalPips       float64
	WinRate         float64 // Percentage, 0 when no trades yet
	AvgPips         float64 // Mean pips across all completed trades
	ActivePositions int     // Non-terminal positions, PENDING and CLOSING included
}

// slot holds the per-symbol trading state. At most one non-terminal position
// exists per slot; the trading flag stays set from order placement until the
// position reaches a terminal state.
type slot struct {
	mu          sync.Mutex
	symbol      domain.Symbol
	active      *domain.Position
	trading     bool
	lastTradeAt time.Time
}

// Manager owns every position's lifecycle: placement preconditions, state
// transitions driven by execution events, and risk exits. Order sends happen
// outside its locks; a failed send rolls the state back so no phantom order
// is tracked.
type Manager struct {
	cfg     Config
	logger  ports.Logger
	gateway ports.OrderGateway
	repo    ports.TradeRepository
	gate    *TradeGate

	slots map[int64]*slot

	// mu guards the order-id index and the session counters.
	mu          sync.Mutex
	orderIndex  map[string]int64 // ClOrdID (entry or close) -> symbol id
	totalTrades int
	wins        int
	losses      int
	totalPips   float64
}

// NewManager creates a manager with one slot per configured symbol.
func NewManager(cfg Config, gateway ports.OrderGateway, repo ports.TradeRepository, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for lifecycle manager")
	}
	if gateway == nil {
		return nil, fmt.Errorf("order gateway is required for lifecycle manager")
	}
	if repo == nil {
		return nil, fmt.Errorf("trade repository is required for lifecycle manager")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.LotSize <= 0 || cfg.StopLossPips <= 0 || cfg.TakeProfitPips <= 0 || cfg.MaxSpreadPips <= 0 {
		return nil, fmt.Errorf("lot size, stop loss, take profit and max spread must be positive")
	}

	slots := make(map[int64]*slot, len(cfg.Symbols))
	for id, sym := range cfg.Symbols {
		slots[id] = &slot{symbol: sym}
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		gateway:    gateway,
		repo:       repo,
		gate:       NewTradeGate(),
		slots:      slots,
		orderIndex: make(map[string]int64),
	}, nil
}

// PlaceOrder validates every entry precondition and, if all pass, registers a
// PENDING position and sends the opening order. A failed precondition returns
// a *Refusal; a failed send removes the record again so the slot is left as
// if nothing happened.
func (m *Manager) PlaceOrder(ctx context.Context, symbolID int64, side domain.OrderSide, spread float64) (*domain.Position, error) {
	if !side.IsValid() {
		return nil, refuse(symbolID, RefusalInvalidSide)
	}
	s, ok := m.slots[symbolID]
	if !ok {
		return nil, refuse(symbolID, RefusalUnknownSymbol)
	}
	// Gate consulted before the slot lock, never while holding it.
	if m.gate.IsOpen() {
		return nil, refuse(symbolID, RefusalGlobalTradeOpen)
	}
	if !m.gateway.IsReady() {
		return nil, refuse(symbolID, RefusalSessionNotReady)
	}
	if spread/s.symbol.PipValue > m.cfg.MaxSpreadPips {
		return nil, refuse(symbolID, RefusalSpreadTooWide)
	}

	clOrdID := uuid.NewString()
	pos := &domain.Position{
		SymbolID:       symbolID,
		Side:           side,
		Quantity:       m.cfg.LotSize,
		Status:         domain.StatusPending,
		ClientOrderID:  clOrdID,
		StopLossPips:   m.cfg.StopLossPips,
		TakeProfitPips: m.cfg.TakeProfitPips,
		OrderTime:      time.Now(),
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, refuse(symbolID, RefusalPositionExists)
	}
	if s.trading {
		s.mu.Unlock()
		return nil, refuse(symbolID, RefusalSymbolBusy)
	}
	s.active = pos
	s.trading = true
	s.lastTradeAt = time.Now()
	s.mu.Unlock()

	m.registerOrder(clOrdID, symbolID)

	req := ports.OrderRequest{
		SymbolID:      symbolID,
		Side:          side,
		Quantity:      m.cfg.LotSize,
		ClientOrderID: clOrdID,
	}
	if err := m.gateway.SendOpen(ctx, req); err != nil {
		// Roll back: no order is in flight, the slot must not stay blocked.
		s.mu.Lock()
		s.active = nil
		s.trading = false
		s.mu.Unlock()
		m.deregisterOrder(clOrdID)
		m.logger.Error(ctx, err, "Opening order send failed, placement rolled back",
			map[string]interface{}{"symbol": s.symbol.Name, "clOrdID": clOrdID})
		return nil, fmt.Errorf("%w: %v", ports.ErrOrderSendFailed, err)
	}

	m.logger.Info(ctx, "Opening order sent",
		map[string]interface{}{"symbol": s.symbol.Name, "side": side, "clOrdID": clOrdID, "lots": m.cfg.LotSize})
	posCopy := *pos
	return &posCopy, nil
}

// OnExecution applies one execution event to the position it belongs to.
// Events are expected in broker order; callers feed them from a single
// goroutine. Unmatched events fall back to a maintenance-ref scan before
// being dropped.
func (m *Manager) OnExecution(ctx context.Context, ev domain.ExecutionEvent) {
	refMatched := false
	symbolID, matched := m.lookupOrder(ev.ClientOrderID)
	if !matched {
		symbolID, refMatched = m.matchByMaintenanceRef(ev.MaintenanceRef)
		if !refMatched {
			m.logger.Warn(ctx, "Execution event matches no tracked order, dropping",
				map[string]interface{}{"clOrdID": ev.ClientOrderID, "maintenanceRef": ev.MaintenanceRef, "outcome": ev.Outcome})
			return
		}
		m.logger.Info(ctx, "Execution event matched by maintenance reference",
			map[string]interface{}{"maintenanceRef": ev.MaintenanceRef, "symbolID": symbolID})
	}

	s := m.slots[symbolID]
	s.mu.Lock()
	pos := s.active
	if pos == nil {
		s.mu.Unlock()
		m.logger.Warn(ctx, "Execution event for symbol without active position, dropping",
			map[string]interface{}{"symbolID": symbolID, "clOrdID": ev.ClientOrderID})
		return
	}

	isEntry := !refMatched && pos.ClientOrderID == ev.ClientOrderID
	isClose := refMatched ||
		(pos.CloseClientOrderID != "" && pos.CloseClientOrderID == ev.ClientOrderID)

	switch {
	case isEntry && pos.Status == domain.StatusPending && ev.Outcome == domain.ExecFill:
		pos.Status = domain.StatusOpen
		pos.EntryPrice = ev.FillPrice
		pos.EntryTime = ev.Timestamp
		pos.MaintenanceRef = ev.MaintenanceRef
		s.mu.Unlock()
		m.gate.MarkOpen(symbolID)
		m.logger.Info(ctx, "Position opened",
			map[string]interface{}{"symbol": s.symbol.Name, "side": pos.Side, "entryPrice": ev.FillPrice, "maintenanceRef": ev.MaintenanceRef})

	case isEntry && pos.Status == domain.StatusPending:
		// REJECTED or CANCELLED before any fill: nothing reached the market.
		entryID := pos.ClientOrderID
		s.active = nil
		s.trading = false
		s.mu.Unlock()
		m.deregisterOrder(entryID)
		m.logger.Warn(ctx, "Opening order did not fill",
			map[string]interface{}{"symbol": s.symbol.Name, "clOrdID": entryID, "outcome": ev.Outcome})

	case isClose && pos.Status == domain.StatusClosing && ev.Outcome == domain.ExecFill:
		pos.Status = domain.StatusClosed
		pos.ExitPrice = ev.FillPrice
		pos.ExitTime = ev.Timestamp
		closed := *pos
		entryID, closeID := pos.ClientOrderID, pos.CloseClientOrderID
		s.active = nil
		s.trading = false
		s.mu.Unlock()
		m.deregisterOrder(entryID)
		m.deregisterOrder(closeID)
		m.gate.MarkClosed()
		m.finishTrade(ctx, s.symbol, closed)

	case isClose && pos.Status == domain.StatusClosing:
		// Close order bounced; the position is still live in the market.
		closeID := pos.CloseClientOrderID
		pos.Status = domain.StatusOpen
		pos.CloseClientOrderID = ""
		pos.CloseReason = ""
		s.mu.Unlock()
		m.deregisterOrder(closeID)
		m.logger.Warn(ctx, "Closing order did not fill, position remains open",
			map[string]interface{}{"symbol": s.symbol.Name, "clOrdID": closeID, "outcome": ev.Outcome})

	default:
		status := pos.Status
		s.mu.Unlock()
		m.logger.Warn(ctx, "Execution event does not fit the position's state, dropping",
			map[string]interface{}{"symbol": s.symbol.Name, "status": status, "clOrdID": ev.ClientOrderID, "outcome": ev.Outcome})
	}
}

// finishTrade updates the session counters and archives the round trip.
// Archive failures are logged, not propagated: the in-memory state is already
// consistent and a dead database must not stop trading.
func (m *Manager) finishTrade(ctx context.Context, sym domain.Symbol, pos domain.Position) {
	pnlPips := pos.PnLPips(pos.ExitPrice, sym.PipValue)

	m.mu.Lock()
	m.totalTrades++
	if pnlPips > 0 {
		m.wins++
	} else {
		m.losses++
	}
	m.totalPips += pnlPips
	m.mu.Unlock()

	m.logger.Info(ctx, "Position closed",
		map[string]interface{}{"symbol": sym.Name, "side": pos.Side, "pnlPips": pnlPips, "reason": pos.CloseReason})

	trade := &domain.Trade{
		SymbolID:       pos.SymbolID,
		SymbolName:     sym.Name,
		Side:           pos.Side,
		Quantity:       pos.Quantity,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      pos.ExitPrice,
		PnlPips:        pnlPips,
		EntryTime:      pos.EntryTime,
		ExitTime:       pos.ExitTime,
		CloseReason:    pos.CloseReason,
		ClientOrderID:  pos.ClientOrderID,
		MaintenanceRef: pos.MaintenanceRef,
	}
	if _, err := m.repo.CreateTrade(ctx, trade); err != nil {
		m.logger.Error(ctx, err, "Failed to archive completed trade",
			map[string]interface{}{"symbol": sym.Name, "clOrdID": pos.ClientOrderID})
	}
}

// ClosePosition sends a closing order for the symbol's OPEN position. The
// position moves to CLOSING before the send; a failed send reverts it to OPEN
// and deregisters the close order id.
func (m *Manager) ClosePosition(ctx context.Context, symbolID int64, reason domain.CloseReason) error {
	s, ok := m.slots[symbolID]
	if !ok {
		return fmt.Errorf("%w: unknown symbol %d", ports.ErrInvalidRequest, symbolID)
	}

	s.mu.Lock()
	pos := s.active
	if pos == nil || !pos.IsOpen() {
		s.mu.Unlock()
		return fmt.Errorf("%w: no open position for symbol %d", ports.ErrInvalidRequest, symbolID)
	}
	if pos.MaintenanceRef == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: position for symbol %d has no maintenance reference", ports.ErrInvalidRequest, symbolID)
	}

	closeID := uuid.NewString()
	pos.CloseClientOrderID = closeID
	pos.CloseReason = reason
	pos.Status = domain.StatusClosing
	side := pos.Side.Opposite()
	quantity := pos.Quantity
	maintenanceRef := pos.MaintenanceRef
	s.mu.Unlock()

	m.registerOrder(closeID, symbolID)

	req := ports.OrderRequest{
		SymbolID:       symbolID,
		Side:           side,
		Quantity:       quantity,
		ClientOrderID:  closeID,
		MaintenanceRef: maintenanceRef,
	}
	if err := m.gateway.SendClose(ctx, req); err != nil {
		s.mu.Lock()
		if s.active == pos && pos.Status == domain.StatusClosing {
			pos.Status = domain.StatusOpen
			pos.CloseClientOrderID = ""
			pos.CloseReason = ""
		}
		s.mu.Unlock()
		m.deregisterOrder(closeID)
		m.logger.Error(ctx, err, "Closing order send failed, position reverted to open",
			map[string]interface{}{"symbol": s.symbol.Name, "clOrdID": closeID})
		return fmt.Errorf("%w: %v", ports.ErrOrderSendFailed, err)
	}

	m.logger.Info(ctx, "Closing order sent",
		map[string]interface{}{"symbol": s.symbol.Name, "clOrdID": closeID, "reason": reason})
	return nil
}

// CheckExit evaluates the stop-loss and take-profit rules against the given
// price and sends a close when either triggers. A position already CLOSING is
// left alone, so repeated calls while a close is in flight are no-ops.
func (m *Manager) CheckExit(ctx context.Context, symbolID int64, price float64) error {
	s, ok := m.slots[symbolID]
	if !ok {
		return nil
	}

	s.mu.Lock()
	pos := s.active
	if pos == nil || !pos.IsOpen() {
		s.mu.Unlock()
		return nil
	}
	pnlPips := pos.PnLPips(price, s.symbol.PipValue)
	var reason domain.CloseReason
	switch {
	case pnlPips <= -pos.StopLossPips+exitTolerancePips:
		reason = domain.CloseReasonStopLoss
	case pnlPips >= pos.TakeProfitPips-exitTolerancePips:
		reason = domain.CloseReasonTakeProfit
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	m.logger.Info(ctx, "Exit rule triggered",
		map[string]interface{}{"symbol": s.symbol.Name, "pnlPips": pnlPips, "reason": reason, "price": price})
	return m.ClosePosition(ctx, symbolID, reason)
}

// CloseAll sends a close for every OPEN position. Positions already CLOSING
// are skipped; their in-flight close will complete on its own.
func (m *Manager) CloseAll(ctx context.Context, reason domain.CloseReason) error {
	var firstErr error
	for symbolID, s := range m.slots {
		s.mu.Lock()
		open := s.active != nil && s.active.IsOpen()
		s.mu.Unlock()
		if !open {
			continue
		}
		if err := m.ClosePosition(ctx, symbolID, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActivePosition returns a copy of the symbol's non-terminal position, if any.
func (m *Manager) ActivePosition(symbolID int64) (domain.Position, bool) {
	s, ok := m.slots[symbolID]
	if !ok {
		return domain.Position{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return domain.Position{}, false
	}
	return *s.active, true
}

// ActiveCount returns the number of non-terminal positions across all
// symbols, PENDING and CLOSING ones included.
func (m *Manager) ActiveCount() int {
	count := 0
	for _, s := range m.slots {
		s.mu.Lock()
		if s.active != nil {
			count++
		}
		s.mu.Unlock()
	}
	return count
}

// Stats returns the session performance counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		TotalTrades: m.totalTrades,
		Wins:        m.wins,
		Losses:      m.losses,
		TotalPips:   m.totalPips,
	}
	m.mu.Unlock()

	if st.TotalTrades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.TotalTrades) * 100
		st.AvgPips = st.TotalPips / float64(st.TotalTrades)
	}
	st.ActivePositions = m.ActiveCount()
	return st
}

// GateOpen reports whether the global single-trade gate is currently held.
func (m *Manager) GateOpen() bool {
	return m.gate.IsOpen()
}

func (m *Manager) registerOrder(clOrdID string, symbolID int64) {
	m.mu.Lock()
	m.orderIndex[clOrdID] = symbolID
	m.mu.Unlock()
}

func (m *Manager) deregisterOrder(clOrdID string) {
	m.mu.Lock()
	delete(m.orderIndex, clOrdID)
	m.mu.Unlock()
}

func (m *Manager) lookupOrder(clOrdID string) (int64, bool) {
	if clOrdID == "" {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	symbolID, ok := m.orderIndex[clOrdID]
	return symbolID, ok
}

// matchByMaintenanceRef scans CLOSING positions for one whose broker
// reference matches. Some brokers echo only the position reference, not the
// close order's client id, on the closing fill.
func (m *Manager) matchByMaintenanceRef(maintenanceRef string) (int64, bool) {
	if maintenanceRef == "" {
		return 0, false
	}
	for symbolID, s := range m.slots {
		s.mu.Lock()
		match := s.active != nil &&
			s.active.Status == domain.StatusClosing &&
			s.active.MaintenanceRef == maintenanceRef
		s.mu.Unlock()
		if match {
			return symbolID, true
		}
	}
	return 0, false
}
