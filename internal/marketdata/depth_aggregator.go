package marketdata

import (
	"math"
	"sort"
	"sync"

	"fxscalper/internal/domain"
	"fxscalper/internal/ports"
)

const (
	maxImbalanceWindow  = 50 // Rolling window of imbalance samples
	maxSnapshotHistory  = 100
	defaultMinUpdates   = 5    // Warm-up threshold for IsReady
	trendSampleCount    = 3    // Samples averaged for the trend classifier
	trendThreshold      = 0.1  // |trailing average| above which one side dominates
	priceMatchTolerance = 1e-5 // VolumeAtPrice matching tolerance
)

// Imbalance trend classifications.
const (
	TrendBidDominant      = "bid_dominant"
	TrendAskDominant      = "ask_dominant"
	TrendBalanced         = "balanced"
	TrendInsufficientData = "insufficient_data"
)

// ImbalanceStats summarises the current and recent book imbalance.
type ImbalanceStats struct {
	Current    float64
	Average    float64
	Trend      string
	DataPoints int
}

// PriceVolume is one (price, volume) pair in a sorted depth view.
type PriceVolume struct {
	Price  float64
	Volume float64
}

// depthSnapshot captures aggregate volumes at one point in time.
type depthSnapshot struct {
	totalBidVolume float64
	totalAskVolume float64
	bidLevels      int
	askLevels      int
}

// DepthAggregator maintains the current order-book snapshot for one symbol.
// The feed sends incremental updates (new levels plus deleted level ids);
// ApplyUpdate diff-applies them. All methods are safe for concurrent use.
type DepthAggregator struct {
	symbol domain.Symbol
	logger ports.Logger

	mu           sync.Mutex
	levels       []domain.DepthLevel
	history      []depthSnapshot
	imbalances   []float64
	totalUpdates int
}

// NewDepthAggregator creates an aggregator for the given symbol.
func NewDepthAggregator(symbol domain.Symbol, logger ports.Logger) *DepthAggregator {
	return &DepthAggregator{
		symbol:     symbol,
		logger:     logger,
		imbalances: make([]float64, 0, maxImbalanceWindow),
	}
}

// ApplyUpdate replaces the snapshot: levels whose id is in deletedIDs are
// dropped, then newLevels are unioned in. Aggregate statistics are refreshed
// from the resulting book.
func (a *DepthAggregator) ApplyUpdate(newLevels []domain.DepthLevel, deletedIDs []int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(deletedIDs) > 0 {
		deleted := make(map[int64]struct{}, len(deletedIDs))
		for _, id := range deletedIDs {
			deleted[id] = struct{}{}
		}
		kept := a.levels[:0]
		for _, lvl := range a.levels {
			if _, gone := deleted[lvl.ID]; !gone {
				kept = append(kept, lvl)
			}
		}
		a.levels = kept
	}
	a.levels = append(a.levels, newLevels...)
	a.totalUpdates++

	snapshot := a.snapshotLocked()
	a.history = append(a.history, snapshot)
	if len(a.history) > maxSnapshotHistory {
		a.history = a.history[len(a.history)-maxSnapshotHistory:]
	}

	// A one-sided book yields no imbalance sample; both-sides-empty is 0.
	if imb, ok := imbalanceOf(snapshot); ok {
		a.imbalances = append(a.imbalances, imb)
		if len(a.imbalances) > maxImbalanceWindow {
			a.imbalances = a.imbalances[len(a.imbalances)-maxImbalanceWindow:]
		}
	}
}

func (a *DepthAggregator) snapshotLocked() depthSnapshot {
	var s depthSnapshot
	for _, lvl := range a.levels {
		switch lvl.Side {
		case domain.DepthBid:
			s.totalBidVolume += lvl.Volume
			s.bidLevels++
		case domain.DepthAsk:
			s.totalAskVolume += lvl.Volume
			s.askLevels++
		}
	}
	return s
}

// imbalanceOf computes (bid-ask)/(bid+ask) volume imbalance for a snapshot.
// ok is false when either side of the book is empty (no signal); a book with
// levels on both sides but zero volume yields 0.
func imbalanceOf(s depthSnapshot) (float64, bool) {
	if s.bidLevels == 0 || s.askLevels == 0 {
		return 0, false
	}
	total := s.totalBidVolume + s.totalAskVolume
	if total == 0 {
		return 0, true
	}
	return (s.totalBidVolume - s.totalAskVolume) / total, true
}

// BestBidAsk scans the current snapshot for the maximum bid price and minimum
// ask price. ok is false when either side is empty.
func (a *DepthAggregator) BestBidAsk() (bestBid, bestAsk float64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var haveBid, haveAsk bool
	for _, lvl := range a.levels {
		switch lvl.Side {
		case domain.DepthBid:
			if !haveBid || lvl.Price > bestBid {
				bestBid = lvl.Price
				haveBid = true
			}
		case domain.DepthAsk:
			if !haveAsk || lvl.Price < bestAsk {
				bestAsk = lvl.Price
				haveAsk = true
			}
		}
	}
	if !haveBid || !haveAsk {
		return 0, 0, false
	}
	return bestBid, bestAsk, true
}

// Spread returns the current best-ask minus best-bid, or ok=false when the
// book is one-sided.
func (a *DepthAggregator) Spread() (float64, bool) {
	bid, ask, ok := a.BestBidAsk()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// Imbalance returns the statistics over the trailing imbalance window. The
// trend classifies the 3-sample trailing average against fixed thresholds.
func (a *DepthAggregator) Imbalance() ImbalanceStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := ImbalanceStats{Trend: TrendInsufficientData}
	if len(a.imbalances) == 0 {
		return stats
	}

	stats.Current = a.imbalances[len(a.imbalances)-1]
	stats.DataPoints = len(a.imbalances)

	sum := 0.0
	for _, imb := range a.imbalances {
		sum += imb
	}
	stats.Average = sum / float64(len(a.imbalances))

	if len(a.imbalances) >= trendSampleCount {
		recent := a.imbalances[len(a.imbalances)-trendSampleCount:]
		recentSum := 0.0
		for _, imb := range recent {
			recentSum += imb
		}
		recentAvg := recentSum / float64(len(recent))
		switch {
		case recentAvg > trendThreshold:
			stats.Trend = TrendBidDominant
		case recentAvg < -trendThreshold:
			stats.Trend = TrendAskDominant
		default:
			stats.Trend = TrendBalanced
		}
	}
	return stats
}

// Levels returns the top n levels of each side, bids sorted descending and
// asks ascending by price.
func (a *DepthAggregator) Levels(n int) (bids, asks []PriceVolume) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, lvl := range a.levels {
		switch lvl.Side {
		case domain.DepthBid:
			bids = append(bids, PriceVolume{Price: lvl.Price, Volume: lvl.Volume})
		case domain.DepthAsk:
			asks = append(asks, PriceVolume{Price: lvl.Price, Volume: lvl.Volume})
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if n > 0 && len(bids) > n {
		bids = bids[:n]
	}
	if n > 0 && len(asks) > n {
		asks = asks[:n]
	}
	return bids, asks
}

// VolumeAtPrice sums the resting volume at or near a specific price level.
func (a *DepthAggregator) VolumeAtPrice(price float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0.0
	for _, lvl := range a.levels {
		if math.Abs(lvl.Price-price) <= priceMatchTolerance {
			total += lvl.Volume
		}
	}
	return total
}

// IsReady requires both a minimum update count and a non-empty current
// snapshot. A minUpdates <= 0 falls back to the default threshold.
func (a *DepthAggregator) IsReady(minUpdates int) bool {
	if minUpdates <= 0 {
		minUpdates = defaultMinUpdates
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalUpdates >= minUpdates && len(a.levels) > 0
}

// UpdateCount returns the number of updates applied since creation or reset.
func (a *DepthAggregator) UpdateCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalUpdates
}

// ResetStats clears the derived statistics, keeping the current book.
func (a *DepthAggregator) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalUpdates = 0
	a.history = a.history[:0]
	a.imbalances = a.imbalances[:0]
}
