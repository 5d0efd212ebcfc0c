package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fxscalper/internal/domain"
	"fxscalper/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockGateway implements ports.OrderGateway, recording sends.
type mockGateway struct {
	mu       sync.Mutex
	ready    bool
	openErr  error
	closeErr error
	opens    []ports.OrderRequest
	closes   []ports.OrderRequest
}

func (g *mockGateway) IsReady() bool { return g.ready }

func (g *mockGateway) SendOpen(ctx context.Context, req ports.OrderRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return g.openErr
	}
	g.opens = append(g.opens, req)
	return nil
}

func (g *mockGateway) SendClose(ctx context.Context, req ports.OrderRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeErr != nil {
		return g.closeErr
	}
	g.closes = append(g.closes, req)
	return nil
}

func (g *mockGateway) StreamExecutions(ctx context.Context, handler ports.ExecutionHandler, errHandler func(error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}), nil
}

// mockRepo implements ports.TradeRepository, recording archived trades.
type mockRepo struct {
	mu        sync.Mutex
	trades    []*domain.Trade
	createErr error
}

func (r *mockRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return 0, r.createErr
	}
	r.trades = append(r.trades, trade)
	return int64(len(r.trades)), nil
}

func (r *mockRepo) FindBySymbol(ctx context.Context, symbolID int64, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

func (r *mockRepo) CountTodayBySymbol(ctx context.Context, symbolID int64) (int, error) {
	return 0, nil
}

func (r *mockRepo) TotalPips(ctx context.Context) (float64, error) { return 0, nil }

var testSymbols = domain.SymbolSet{
	1: {ID: 1, Name: "EURUSD", PipValue: 0.0001},
	2: {ID: 2, Name: "GBPUSD", PipValue: 0.0001},
}

func testConfig() Config {
	return Config{
		Symbols:        testSymbols,
		LotSize:        0.25,
		StopLossPips:   10,
		TakeProfitPips: 20,
		MaxSpreadPips:  2.0,
	}
}

func newTestManager(t *testing.T) (*Manager, *mockGateway, *mockRepo, *mockLogger) {
	t.Helper()
	gw := &mockGateway{ready: true}
	repo := &mockRepo{}
	logger := &mockLogger{}
	mgr, err := NewManager(testConfig(), gw, repo, logger)
	require.NoError(t, err)
	return mgr, gw, repo, logger
}

// openPosition drives a symbol through PENDING to OPEN and returns the position.
func openPosition(t *testing.T, mgr *Manager, gw *mockGateway, symbolID int64, side domain.OrderSide, entryPrice float64, maintenanceRef string) domain.Position {
	t.Helper()
	ctx := context.Background()

	pos, err := mgr.PlaceOrder(ctx, symbolID, side, 0.0001)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, pos.Status)

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID:  pos.ClientOrderID,
		Outcome:        domain.ExecFill,
		FillPrice:      entryPrice,
		MaintenanceRef: maintenanceRef,
		Timestamp:      time.Now(),
	})
	opened, ok := mgr.ActivePosition(symbolID)
	require.True(t, ok)
	require.Equal(t, domain.StatusOpen, opened.Status)
	return opened
}

func TestNewManagerValidation(t *testing.T) {
	gw := &mockGateway{}
	repo := &mockRepo{}
	logger := &mockLogger{}

	tests := []struct {
		name    string
		cfg     Config
		gateway ports.OrderGateway
		repo    ports.TradeRepository
		logger  ports.Logger
		wantErr bool
	}{
		{"valid", testConfig(), gw, repo, logger, false},
		{"nil logger", testConfig(), gw, repo, nil, true},
		{"nil gateway", testConfig(), nil, repo, logger, true},
		{"nil repo", testConfig(), gw, nil, logger, true},
		{"no symbols", Config{LotSize: 1, StopLossPips: 1, TakeProfitPips: 1, MaxSpreadPips: 1}, gw, repo, logger, true},
		{"bad lot size", Config{Symbols: testSymbols, StopLossPips: 1, TakeProfitPips: 1, MaxSpreadPips: 1}, gw, repo, logger, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg, tt.gateway, tt.repo, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlaceOrderRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid side", func(t *testing.T) {
		mgr, _, _, _ := newTestManager(t)
		_, err := mgr.PlaceOrder(ctx, 1, domain.OrderSide("LONG"), 0.0001)
		var refusal *Refusal
		require.ErrorAs(t, err, &refusal)
		assert.Equal(t, RefusalInvalidSide, refusal.Reason)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		mgr, _, _, _ := newTestManager(t)
		_, err := mgr.PlaceOrder(ctx, 99, domain.Buy, 0.0001)
		var refusal *Refusal
		require.ErrorAs(t, err, &refusal)
		assert.Equal(t, RefusalUnknownSymbol, refusal.Reason)
	})

	t.Run("session not ready", func(t *testing.T) {
		mgr, gw, _, _ := newTestManager(t)
		gw.ready = false
		_, err := mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
		var refusal *Refusal
		require.ErrorAs(t, err, &refusal)
		assert.Equal(t, RefusalSessionNotReady, refusal.Reason)
	})

	t.Run("spread too wide", func(t *testing.T) {
		mgr, _, _, _ := newTestManager(t)
		_, err := mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0003)
		var refusal *Refusal
		require.ErrorAs(t, err, &refusal)
		assert.Equal(t, RefusalSpreadTooWide, refusal.Reason)
	})

	t.Run("pending position blocks the slot", func(t *testing.T) {
		mgr, _, _, _ := newTestManager(t)
		_, err := mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
		require.NoError(t, err)
		_, err = mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
		var refusal *Refusal
		require.ErrorAs(t, err, &refusal)
		assert.Equal(t, RefusalPositionExists, refusal.Reason)
	})

	t.Run("open position on another symbol holds the gate", func(t *testing.T) {
		mgr, gw, _, _ := newTestManager(t)
		openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")

		_, err := mgr.PlaceOrder(ctx, 2, domain.Buy, 0.0001)
		var refusal *Refusal
		require.ErrorAs(t, err, &refusal)
		assert.Equal(t, RefusalGlobalTradeOpen, refusal.Reason)
	})
}

func TestPlaceOrderSendFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mgr, gw, _, _ := newTestManager(t)
	gw.openErr = errors.New("connection reset")

	_, err := mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
	require.ErrorIs(t, err, ports.ErrOrderSendFailed)

	// The slot is free again and a retry succeeds.
	_, ok := mgr.ActivePosition(1)
	assert.False(t, ok)
	gw.openErr = nil
	_, err = mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
	assert.NoError(t, err)
}

func TestBuyRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, gw, repo, _ := newTestManager(t)

	pos := openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")
	assert.True(t, mgr.GateOpen())
	assert.InDelta(t, 1.1000, pos.EntryPrice, 1e-9)

	// 20 pips above entry triggers the take profit.
	require.NoError(t, mgr.CheckExit(ctx, 1, 1.1020))
	closing, ok := mgr.ActivePosition(1)
	require.True(t, ok)
	assert.Equal(t, domain.StatusClosing, closing.Status)
	require.Len(t, gw.closes, 1)
	assert.Equal(t, domain.Sell, gw.closes[0].Side)
	assert.Equal(t, "pos-1", gw.closes[0].MaintenanceRef)

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID: closing.CloseClientOrderID,
		Outcome:       domain.ExecFill,
		FillPrice:     1.1020,
		Timestamp:     time.Now(),
	})

	_, ok = mgr.ActivePosition(1)
	assert.False(t, ok)
	assert.False(t, mgr.GateOpen())

	stats := mgr.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.Wins)
	assert.InDelta(t, 20.0, stats.TotalPips, 1e-6)

	require.Len(t, repo.trades, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, repo.trades[0].CloseReason)
	assert.InDelta(t, 20.0, repo.trades[0].PnlPips, 1e-6)
}

func TestSellRoundTripPnlSign(t *testing.T) {
	ctx := context.Background()
	mgr, gw, repo, _ := newTestManager(t)

	pos := openPosition(t, mgr, gw, 1, domain.Sell, 1.1000, "pos-7")

	// Price rising 10 pips against a short is the stop loss.
	require.NoError(t, mgr.CheckExit(ctx, 1, 1.1010))
	closing, _ := mgr.ActivePosition(1)
	require.Equal(t, domain.StatusClosing, closing.Status)
	assert.Equal(t, domain.Buy, gw.closes[0].Side, "short closes with a buy")

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID: closing.CloseClientOrderID,
		Outcome:       domain.ExecFill,
		FillPrice:     1.1010,
		Timestamp:     time.Now(),
	})

	stats := mgr.Stats()
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, -10.0, stats.TotalPips, 1e-6)
	require.Len(t, repo.trades, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, repo.trades[0].CloseReason)
	assert.Equal(t, pos.Side, repo.trades[0].Side)
}

func TestCheckExitTriggersAtExactDistance(t *testing.T) {
	// Prices exactly one stop or target distance from entry produce pip
	// divisions like (1.1000-1.1010)/0.0001 = -9.9999999999989; the exit must
	// still trigger on both sides.
	tests := []struct {
		name   string
		side   domain.OrderSide
		price  float64
		reason domain.CloseReason
	}{
		{"short at stop distance", domain.Sell, 1.1010, domain.CloseReasonStopLoss},
		{"long at stop distance", domain.Buy, 1.0990, domain.CloseReasonStopLoss},
		{"long at target distance", domain.Buy, 1.1020, domain.CloseReasonTakeProfit},
		{"short at target distance", domain.Sell, 1.0980, domain.CloseReasonTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mgr, gw, _, _ := newTestManager(t)
			openPosition(t, mgr, gw, 1, tt.side, 1.1000, "pos-1")

			require.NoError(t, mgr.CheckExit(ctx, 1, tt.price))
			pos, ok := mgr.ActivePosition(1)
			require.True(t, ok)
			assert.Equal(t, domain.StatusClosing, pos.Status)
			assert.Equal(t, tt.reason, pos.CloseReason)
		})
	}
}

func TestCheckExitHoldsInsideTheBand(t *testing.T) {
	ctx := context.Background()
	mgr, gw, _, _ := newTestManager(t)

	openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")

	require.NoError(t, mgr.CheckExit(ctx, 1, 1.1005))
	pos, _ := mgr.ActivePosition(1)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Empty(t, gw.closes)
}

func TestCheckExitIdempotentWhileClosing(t *testing.T) {
	ctx := context.Background()
	mgr, gw, _, _ := newTestManager(t)

	openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")
	require.NoError(t, mgr.CheckExit(ctx, 1, 1.0990))
	require.Len(t, gw.closes, 1)

	// Further breaching prices must not stack a second close order.
	require.NoError(t, mgr.CheckExit(ctx, 1, 1.0985))
	require.NoError(t, mgr.CheckExit(ctx, 1, 1.0980))
	assert.Len(t, gw.closes, 1)
}

func TestEntryRejectionClearsSlot(t *testing.T) {
	ctx := context.Background()
	mgr, _, repo, _ := newTestManager(t)

	pos, err := mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
	require.NoError(t, err)

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID: pos.ClientOrderID,
		Outcome:       domain.ExecRejected,
		Timestamp:     time.Now(),
	})

	_, ok := mgr.ActivePosition(1)
	assert.False(t, ok)
	assert.False(t, mgr.GateOpen())
	assert.Empty(t, repo.trades, "rejected orders are not archived")
	assert.Equal(t, 0, mgr.Stats().TotalTrades)

	// The slot accepts a fresh order.
	_, err = mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
	assert.NoError(t, err)
}

func TestCloseRejectionRevertsToOpen(t *testing.T) {
	ctx := context.Background()
	mgr, gw, _, _ := newTestManager(t)

	openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")
	require.NoError(t, mgr.ClosePosition(ctx, 1, domain.CloseReasonManual))
	closing, _ := mgr.ActivePosition(1)

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID: closing.CloseClientOrderID,
		Outcome:       domain.ExecRejected,
		Timestamp:     time.Now(),
	})

	pos, ok := mgr.ActivePosition(1)
	require.True(t, ok)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Empty(t, pos.CloseClientOrderID)
	assert.True(t, mgr.GateOpen(), "position is still live in the market")
}

func TestCloseSendFailureReverts(t *testing.T) {
	ctx := context.Background()
	mgr, gw, _, _ := newTestManager(t)

	openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")
	gw.closeErr = errors.New("gateway down")

	err := mgr.ClosePosition(ctx, 1, domain.CloseReasonManual)
	require.ErrorIs(t, err, ports.ErrOrderSendFailed)

	pos, ok := mgr.ActivePosition(1)
	require.True(t, ok)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Empty(t, pos.CloseClientOrderID)

	// Once the gateway recovers the close goes through.
	gw.closeErr = nil
	assert.NoError(t, mgr.ClosePosition(ctx, 1, domain.CloseReasonManual))
}

func TestClosePositionRequiresOpen(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, _ := newTestManager(t)

	err := mgr.ClosePosition(ctx, 1, domain.CloseReasonManual)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	// PENDING is not closable either.
	_, err = mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
	require.NoError(t, err)
	err = mgr.ClosePosition(ctx, 1, domain.CloseReasonManual)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestOnExecutionMatchesByMaintenanceRef(t *testing.T) {
	ctx := context.Background()
	mgr, gw, repo, _ := newTestManager(t)

	openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-42")
	require.NoError(t, mgr.ClosePosition(ctx, 1, domain.CloseReasonManual))

	// The broker reports the closing fill under its own order id, echoing
	// only the position reference.
	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID:  "broker-generated-id",
		Outcome:        domain.ExecFill,
		FillPrice:      1.1004,
		MaintenanceRef: "pos-42",
		Timestamp:      time.Now(),
	})

	_, ok := mgr.ActivePosition(1)
	assert.False(t, ok)
	assert.False(t, mgr.GateOpen())
	require.Len(t, repo.trades, 1)
	assert.InDelta(t, 4.0, repo.trades[0].PnlPips, 1e-6)
}

func TestOnExecutionDropsUnmatchedEvent(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, logger := newTestManager(t)

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID:  "nobody-knows-this",
		Outcome:        domain.ExecFill,
		FillPrice:      1.1000,
		MaintenanceRef: "pos-unknown",
		Timestamp:      time.Now(),
	})

	assert.NotEmpty(t, logger.warnMsgs)
	assert.Equal(t, 0, mgr.ActiveCount())
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	mgr, gw, _, _ := newTestManager(t)

	openPosition(t, mgr, gw, 1, domain.Buy, 1.1000, "pos-1")

	require.NoError(t, mgr.CloseAll(ctx, domain.CloseReasonShutdown))
	require.Len(t, gw.closes, 1)
	pos, _ := mgr.ActivePosition(1)
	assert.Equal(t, domain.StatusClosing, pos.Status)
	assert.Equal(t, domain.CloseReasonShutdown, pos.CloseReason)

	// A second sweep skips the already-closing position.
	require.NoError(t, mgr.CloseAll(ctx, domain.CloseReasonShutdown))
	assert.Len(t, gw.closes, 1)
}

func TestActiveCountTracksNonTerminalPositions(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, _ := newTestManager(t)
	assert.Equal(t, 0, mgr.ActiveCount())

	pos, err := mgr.PlaceOrder(ctx, 1, domain.Buy, 0.0001)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.ActiveCount(), "pending positions are counted")
	assert.Equal(t, 1, mgr.Stats().ActivePositions)

	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID:  pos.ClientOrderID,
		Outcome:        domain.ExecFill,
		FillPrice:      1.1000,
		MaintenanceRef: "pos-1",
		Timestamp:      time.Now(),
	})
	require.NoError(t, mgr.CheckExit(ctx, 1, 1.0990))
	assert.Equal(t, 1, mgr.ActiveCount(), "closing positions are counted")

	closing, _ := mgr.ActivePosition(1)
	mgr.OnExecution(ctx, domain.ExecutionEvent{
		ClientOrderID: closing.CloseClientOrderID,
		Outcome:       domain.ExecFill,
		FillPrice:     1.0990,
		Timestamp:     time.Now(),
	})
	assert.Equal(t, 0, mgr.ActiveCount())
	assert.Equal(t, 0, mgr.Stats().ActivePositions)
}

func TestTradeGateDoubleOpenPanics(t *testing.T) {
	gate := NewTradeGate()
	gate.MarkOpen(1)

	holder, open := gate.Holder()
	assert.True(t, open)
	assert.Equal(t, int64(1), holder)

	assert.Panics(t, func() { gate.MarkOpen(2) })

	gate.MarkClosed()
	assert.False(t, gate.IsOpen())
	assert.NotPanics(t, func() { gate.MarkClosed() })
	assert.NotPanics(t, func() { gate.MarkOpen(2) })
}
