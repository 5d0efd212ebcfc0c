package marketdata

import (
	"context"
	"math"
	"sync"

	"fxscalper/internal/domain"
	"fxscalper/internal/ports"
)

const (
	maxStoredTicks    = 1000 // Rolling window of raw ticks
	maxPriceChanges   = 100  // Rolling window of price deltas for volatility
	maxTickDirections = 50   // Rolling window of tick directions for bias
	defaultMinTicks   = 10   // Warm-up threshold for IsReady
	volatilityPeriod  = 20   // Deltas considered by Volatility by default
)

// MovementStats summarises tick direction counters for a symbol.
type MovementStats struct {
	TotalTicks      int
	UpTicks         int
	DownTicks       int
	NeutralTicks    int
	UpPercentage    float64
	DownPercentage  float64
	LatestDirection int
}

// TickAggregator maintains a bounded rolling window of price observations for
// one symbol and derives direction bias, spread and volatility from it.
// All methods are safe for concurrent use; the lock is held only for the
// duration of in-memory reads and appends.
type TickAggregator struct {
	symbol domain.Symbol
	logger ports.Logger

	mu           sync.Mutex
	ticks        []domain.Tick
	priceChanges []float64
	directions   []int
	lastPrice    float64
	hasLast      bool

	upTicks      int
	downTicks    int
	neutralTicks int
}

// NewTickAggregator creates an aggregator for the given symbol.
func NewTickAggregator(symbol domain.Symbol, logger ports.Logger) *TickAggregator {
	return &TickAggregator{
		symbol:       symbol,
		logger:       logger,
		ticks:        make([]domain.Tick, 0, maxStoredTicks),
		priceChanges: make([]float64, 0, maxPriceChanges),
		directions:   make([]int, 0, maxTickDirections),
	}
}

// Observe appends a new tick, computing its direction relative to the last
// stored price. A tick without a usable price is logged and discarded without
// mutating state.
func (a *TickAggregator) Observe(tick domain.Tick) {
	if !tick.HasPrice() {
		a.logger.Warn(context.Background(), "Discarding tick without usable price", map[string]interface{}{"symbol": a.symbol.Name})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	direction := 0
	if a.hasLast {
		switch {
		case tick.Price > a.lastPrice:
			direction = 1
			a.upTicks++
		case tick.Price < a.lastPrice:
			direction = -1
			a.downTicks++
		default:
			a.neutralTicks++
		}
		tick.PreviousPrice = a.lastPrice
		a.priceChanges = append(a.priceChanges, tick.Price-a.lastPrice)
		if len(a.priceChanges) > maxPriceChanges {
			a.priceChanges = a.priceChanges[len(a.priceChanges)-maxPriceChanges:]
		}
	}
	tick.Direction = direction

	a.ticks = append(a.ticks, tick)
	if len(a.ticks) > maxStoredTicks {
		a.ticks = a.ticks[len(a.ticks)-maxStoredTicks:]
	}
	a.directions = append(a.directions, direction)
	if len(a.directions) > maxTickDirections {
		a.directions = a.directions[len(a.directions)-maxTickDirections:]
	}

	a.lastPrice = tick.Price
	a.hasLast = true
}

// DirectionBias returns the mean of the last lookback stored directions, in
// [-1, 1]. Returns 0 until lookback directions have been observed.
func (a *TickAggregator) DirectionBias(lookback int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lookback <= 0 || len(a.directions) < lookback {
		return 0.0
	}
	recent := a.directions[len(a.directions)-lookback:]
	sum := 0
	for _, d := range recent {
		sum += d
	}
	return float64(sum) / float64(len(recent))
}

// Volatility returns the population standard deviation of the last period
// price deltas (the default period for period <= 0). Returns 0 until period
// deltas have been observed.
func (a *TickAggregator) Volatility(period int) float64 {
	if period <= 0 {
		period = volatilityPeriod
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if period <= 1 || len(a.priceChanges) < period {
		return 0.0
	}
	recent := a.priceChanges[len(a.priceChanges)-period:]

	mean := 0.0
	for _, c := range recent {
		mean += c
	}
	mean /= float64(len(recent))

	variance := 0.0
	for _, c := range recent {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(recent))

	return math.Sqrt(variance)
}

// LatestPrice returns the most recent reference price, or ok=false before the
// first tick.
func (a *TickAggregator) LatestPrice() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.ticks) == 0 {
		return 0, false
	}
	return a.ticks[len(a.ticks)-1].Price, true
}

// CurrentSpread returns the spread of the most recent tick, or ok=false
// before the first tick.
func (a *TickAggregator) CurrentSpread() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.ticks) == 0 {
		return 0, false
	}
	return a.ticks[len(a.ticks)-1].Spread, true
}

// Recent returns the last count stored ticks (all of them for count <= 0).
func (a *TickAggregator) Recent(count int) []domain.Tick {
	a.mu.Lock()
	defer a.mu.Unlock()

	if count <= 0 || count >= len(a.ticks) {
		out := make([]domain.Tick, len(a.ticks))
		copy(out, a.ticks)
		return out
	}
	out := make([]domain.Tick, count)
	copy(out, a.ticks[len(a.ticks)-count:])
	return out
}

// IsReady reports whether enough ticks exist for meaningful statistics.
// A minTicks <= 0 falls back to the default warm-up threshold.
func (a *TickAggregator) IsReady(minTicks int) bool {
	if minTicks <= 0 {
		minTicks = defaultMinTicks
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ticks) >= minTicks
}

// Stats returns the up/down/neutral counters for the session.
func (a *TickAggregator) Stats() MovementStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.upTicks + a.downTicks + a.neutralTicks
	stats := MovementStats{
		TotalTicks:   total,
		UpTicks:      a.upTicks,
		DownTicks:    a.downTicks,
		NeutralTicks: a.neutralTicks,
	}
	if total > 0 {
		stats.UpPercentage = float64(a.upTicks) / float64(total) * 100
		stats.DownPercentage = float64(a.downTicks) / float64(total) * 100
	}
	if len(a.directions) > 0 {
		stats.LatestDirection = a.directions[len(a.directions)-1]
	}
	return stats
}

// ResetStats clears the session counters and derived windows, keeping the
// last price so direction computation stays continuous across sessions.
func (a *TickAggregator) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.upTicks = 0
	a.downTicks = 0
	a.neutralTicks = 0
	a.priceChanges = a.priceChanges[:0]
	a.directions = a.directions[:0]
}
