package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"fxscalper/config"
	"fxscalper/internal/domain"
	"fxscalper/internal/lifecycle"
	"fxscalper/internal/marketdata"
	"fxscalper/internal/ports"
)

const (
	symbolQueueSize    = 256 // Per-symbol event buffer; overflow drops
	executionQueueSize = 64  // Execution events are few, buffer is headroom
	shutdownTimeout    = 5 * time.Second
)

// symbolEvent is one market data item queued for a symbol worker. Exactly one
// of the two fields is set.
type symbolEvent struct {
	tick  *domain.Tick
	depth *domain.DepthUpdate
}

// StatusSnapshot is a point-in-time view of the running service.
type StatusSnapshot struct {
	FeedConnected bool
	SessionReady  bool
	ReadySymbols  int
	TotalSymbols  int
	DroppedEvents int64
	Uptime        time.Duration
	Performance   lifecycle.Stats
}

// TradingService orchestrates the whole pipeline: market data fan-out to
// per-symbol workers, decisions, order placement and execution processing.
// Feed callbacks only enqueue; all work happens on the service's goroutines.
type TradingService struct {
	cfg       *config.Config
	logger    ports.Logger
	feed      ports.MarketDataFeed
	gateway   ports.OrderGateway
	tradeRepo ports.TradeRepository
	engine    ports.DecisionEngine
	manager   *lifecycle.Manager

	ticks  map[int64]*marketdata.TickAggregator
	depths map[int64]*marketdata.DepthAggregator

	symbolCh map[int64]chan symbolEvent
	execCh   chan domain.ExecutionEvent

	feedConnected atomic.Bool
	droppedEvents atomic.Int64
	startedAt     time.Time
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	feed ports.MarketDataFeed,
	gateway ports.OrderGateway,
	tradeRepo ports.TradeRepository,
	engine ports.DecisionEngine,
	manager *lifecycle.Manager,
) (*TradingService, error) {

	if cfg == nil || logger == nil || feed == nil || gateway == nil || tradeRepo == nil || engine == nil || manager == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("configuration must list at least one symbol")
	}

	s := &TradingService{
		cfg:       cfg,
		logger:    logger,
		feed:      feed,
		gateway:   gateway,
		tradeRepo: tradeRepo,
		engine:    engine,
		manager:   manager,
		ticks:     make(map[int64]*marketdata.TickAggregator, len(cfg.Symbols)),
		depths:    make(map[int64]*marketdata.DepthAggregator, len(cfg.Symbols)),
		symbolCh:  make(map[int64]chan symbolEvent, len(cfg.Symbols)),
		execCh:    make(chan domain.ExecutionEvent, executionQueueSize),
	}
	for id, sym := range cfg.Symbols {
		s.ticks[id] = marketdata.NewTickAggregator(sym, logger)
		s.depths[id] = marketdata.NewDepthAggregator(sym, logger)
		s.symbolCh[id] = make(chan symbolEvent, symbolQueueSize)
	}
	return s, nil
}

// Start runs the service until the context is cancelled, a shutdown signal
// arrives, or a stream dies for good.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trading service",
		map[string]interface{}{"symbols": s.cfg.Symbols.Names(), "lotSize": s.cfg.LotSize})
	s.startedAt = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The streams get their own context: cancelling the run context must not
	// tear the broker session down before the shutdown closes are sent. The
	// streams are stopped through their stop channels once shutdown is done.
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Start the workers before any event can arrive.
	var wg sync.WaitGroup
	for symbolID, ch := range s.symbolCh {
		wg.Add(1)
		go func(symbolID int64, ch chan symbolEvent) {
			defer wg.Done()
			s.symbolWorker(ctx, symbolID, ch)
		}(symbolID, ch)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.executionWorker(ctx)
	}()

	// 2. Bring up the trading session.
	execDoneCh, execStopCh, err := s.gateway.StreamExecutions(streamCtx, s.enqueueExecution, s.handleStreamError)
	if err != nil {
		return fmt.Errorf("failed to start execution stream: %w", err)
	}

	// 3. Subscribe to market data for all symbols.
	symbolIDs := make([]int64, 0, len(s.cfg.Symbols))
	for id := range s.cfg.Symbols {
		symbolIDs = append(symbolIDs, id)
	}
	feedDoneCh, feedStopCh, err := s.feed.Subscribe(streamCtx, symbolIDs, s.enqueueTick, s.enqueueDepth, s.handleStreamError)
	if err != nil {
		close(execStopCh)
		return fmt.Errorf("failed to subscribe to market data: %w", err)
	}
	s.feedConnected.Store(true)
	s.logger.Info(ctx, "Market data subscription active", map[string]interface{}{"symbols": len(symbolIDs)})

	// 4. Periodic status report until something stops us.
	statusTicker := time.NewTicker(s.cfg.StatusInterval)
	defer statusTicker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Context cancelled, initiating shutdown")
			break loop
		case <-feedDoneCh:
			s.feedConnected.Store(false)
			runErr = errors.New("market data feed stopped unexpectedly")
			s.logger.Error(ctx, runErr, "Feed terminated, shutting down")
			cancel()
			break loop
		case <-execDoneCh:
			runErr = errors.New("execution stream stopped unexpectedly")
			s.logger.Error(ctx, runErr, "Execution stream terminated, shutting down")
			cancel()
			break loop
		case <-statusTicker.C:
			s.logStatus(ctx)
		}
	}

	s.shutdown(feedStopCh, feedDoneCh, execStopCh, execDoneCh)
	wg.Wait()
	s.feedConnected.Store(false)

	s.logger.Info(context.Background(), "Trading service stopped")
	return runErr
}

// shutdown closes every open position, then tears the streams down. It waits
// a bounded time for closing fills so the session ends flat when the broker
// cooperates.
func (s *TradingService) shutdown(feedStopCh, feedDoneCh, execStopCh, execDoneCh chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.manager.CloseAll(ctx, domain.CloseReasonShutdown); err != nil {
		s.logger.Error(ctx, err, "Failed to close all positions on shutdown")
	}

	// Bounded wait for the closing fills to drain through the exec stream.
	waitTicker := time.NewTicker(100 * time.Millisecond)
	defer waitTicker.Stop()
	for s.manager.ActiveCount() > 0 {
		select {
		case ev := <-s.execCh:
			// The execution worker may already be gone; apply events here.
			s.manager.OnExecution(ctx, ev)
		case <-waitTicker.C:
		case <-ctx.Done():
			s.logger.Warn(ctx, "Shutdown wait expired with positions still tracked",
				map[string]interface{}{"activePositions": s.manager.ActiveCount()})
			goto teardown
		}
	}

teardown:
	for _, stopCh := range []chan struct{}{feedStopCh, execStopCh} {
		select {
		case stopCh <- struct{}{}:
		default:
			close(stopCh)
		}
	}
	for _, doneCh := range []chan struct{}{feedDoneCh, execDoneCh} {
		select {
		case <-doneCh:
		case <-time.After(shutdownTimeout):
			s.logger.Warn(ctx, "Timeout waiting for stream to shut down")
		}
	}
}

// --- Feed callbacks: enqueue only, never block ---

func (s *TradingService) enqueueTick(tick domain.Tick) {
	ch, ok := s.symbolCh[tick.SymbolID]
	if !ok {
		return // Unconfigured symbol, feed noise
	}
	t := tick
	select {
	case ch <- symbolEvent{tick: &t}:
	default:
		s.droppedEvents.Add(1)
		s.logger.Warn(context.Background(), "Symbol queue full, dropping tick",
			map[string]interface{}{"symbolID": tick.SymbolID, "droppedTotal": s.droppedEvents.Load()})
	}
}

func (s *TradingService) enqueueDepth(update domain.DepthUpdate) {
	ch, ok := s.symbolCh[update.SymbolID]
	if !ok {
		return
	}
	u := update
	select {
	case ch <- symbolEvent{depth: &u}:
	default:
		s.droppedEvents.Add(1)
		s.logger.Warn(context.Background(), "Symbol queue full, dropping depth update",
			map[string]interface{}{"symbolID": update.SymbolID, "droppedTotal": s.droppedEvents.Load()})
	}
}

func (s *TradingService) enqueueExecution(ev domain.ExecutionEvent) {
	select {
	case s.execCh <- ev:
	default:
		// Execution events must not be lost; block rather than drop.
		s.logger.Warn(context.Background(), "Execution queue full, blocking enqueue",
			map[string]interface{}{"clOrdID": ev.ClientOrderID})
		s.execCh <- ev
	}
}

func (s *TradingService) handleStreamError(err error) {
	s.logger.Warn(context.Background(), "Stream error reported", map[string]interface{}{"error": err.Error()})
}

// --- Workers ---

// symbolWorker consumes one symbol's event queue. Tick and depth events from
// the same symbol are therefore processed strictly in arrival order.
func (s *TradingService) symbolWorker(ctx context.Context, symbolID int64, ch chan symbolEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			switch {
			case ev.tick != nil:
				s.handleTick(ctx, symbolID, *ev.tick)
			case ev.depth != nil:
				s.depths[symbolID].ApplyUpdate(ev.depth.NewLevels, ev.depth.DeletedIDs)
			}
		}
	}
}

// executionWorker applies execution events one at a time, preserving broker
// order across all symbols.
func (s *TradingService) executionWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.execCh:
			s.manager.OnExecution(ctx, ev)
		}
	}
}

// handleTick runs the per-tick pipeline. The risk exit check comes before any
// entry evaluation so an open position is never widened into.
func (s *TradingService) handleTick(ctx context.Context, symbolID int64, tick domain.Tick) {
	tickAgg := s.ticks[symbolID]
	tickAgg.Observe(tick)
	if !tick.HasPrice() {
		return
	}

	if err := s.manager.CheckExit(ctx, symbolID, tick.Price); err != nil {
		s.logger.Error(ctx, err, "Exit check failed", map[string]interface{}{"symbolID": symbolID})
		return
	}

	if !tickAgg.IsReady(s.cfg.MinTicks) || !s.depths[symbolID].IsReady(s.cfg.MinDepthUpdates) {
		return
	}

	spread, ok := tickAgg.CurrentSpread()
	if !ok {
		return
	}
	imbalance := s.depths[symbolID].Imbalance()
	sym := s.cfg.Symbols[symbolID]

	decision := s.engine.Decide(ports.DecisionInputs{
		Spread:      spread,
		PipValue:    sym.PipValue,
		Bias:        tickAgg.DirectionBias(s.cfg.BiasLookback),
		Imbalance:   imbalance.Current,
		ImbalanceOK: imbalance.DataPoints > 0,
	})
	if decision.Intent == domain.IntentHold {
		return
	}

	side := domain.Buy
	if decision.Intent == domain.IntentSell {
		side = domain.Sell
	}

	pos, err := s.manager.PlaceOrder(ctx, symbolID, side, spread)
	if err != nil {
		var refusal *lifecycle.Refusal
		if errors.As(err, &refusal) {
			// Refusals are routine; most ticks cannot become trades.
			s.logger.Debug(ctx, "Order refused", map[string]interface{}{"symbol": sym.Name, "reason": refusal.Reason})
			return
		}
		s.logger.Error(ctx, err, "Order placement failed", map[string]interface{}{"symbol": sym.Name})
		return
	}
	s.logger.Info(ctx, "Trade signal executed",
		map[string]interface{}{"symbol": sym.Name, "side": side, "confidence": decision.Confidence, "clOrdID": pos.ClientOrderID})
}

// --- Status reporting ---

// StatusSnapshot returns the current service state for tooling and tests.
func (s *TradingService) StatusSnapshot() StatusSnapshot {
	ready := 0
	for id, tickAgg := range s.ticks {
		if tickAgg.IsReady(s.cfg.MinTicks) && s.depths[id].IsReady(s.cfg.MinDepthUpdates) {
			ready++
		}
	}
	return StatusSnapshot{
		FeedConnected: s.feedConnected.Load(),
		SessionReady:  s.gateway.IsReady(),
		ReadySymbols:  ready,
		TotalSymbols:  len(s.cfg.Symbols),
		DroppedEvents: s.droppedEvents.Load(),
		Uptime:        time.Since(s.startedAt),
		Performance:   s.manager.Stats(),
	}
}

func (s *TradingService) logStatus(ctx context.Context) {
	snap := s.StatusSnapshot()
	archivedPips, err := s.tradeRepo.TotalPips(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Failed to read archived pips for status report", map[string]interface{}{"error": err.Error()})
	}
	s.logger.Info(ctx, "Status report", map[string]interface{}{
		"archivedPips":    fmt.Sprintf("%.1f", archivedPips),
		"uptime":          snap.Uptime.Round(time.Second).String(),
		"feedConnected":   snap.FeedConnected,
		"sessionReady":    snap.SessionReady,
		"readySymbols":    fmt.Sprintf("%d/%d", snap.ReadySymbols, snap.TotalSymbols),
		"activePositions": snap.Performance.ActivePositions,
		"trades":          snap.Performance.TotalTrades,
		"winRate":         fmt.Sprintf("%.1f%%", snap.Performance.WinRate),
		"totalPips":       fmt.Sprintf("%.1f", snap.Performance.TotalPips),
		"droppedEvents":   snap.DroppedEvents,
	})
}
