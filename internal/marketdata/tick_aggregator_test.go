package marketdata

import (
	"context"
	"testing"
	"time"

	"fxscalper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

var testSymbol = domain.Symbol{ID: 1, Name: "EURUSD", PipValue: 0.0001}

func tickAt(price float64) domain.Tick {
	return domain.Tick{
		SymbolID:  testSymbol.ID,
		Bid:       price,
		Ask:       price + 0.0001,
		Price:     price,
		Spread:    0.0001,
		Timestamp: time.Now(),
	}
}

func TestTickAggregatorObserve(t *testing.T) {
	logger := &mockLogger{}
	agg := NewTickAggregator(testSymbol, logger)

	agg.Observe(tickAt(1.1000))
	agg.Observe(tickAt(1.1002))
	agg.Observe(tickAt(1.1001))
	agg.Observe(tickAt(1.1001))

	stats := agg.Stats()
	assert.Equal(t, 3, stats.TotalTicks, "first tick has no direction and is not counted")
	assert.Equal(t, 1, stats.UpTicks)
	assert.Equal(t, 1, stats.DownTicks)
	assert.Equal(t, 1, stats.NeutralTicks)
	assert.Equal(t, 0, stats.LatestDirection)

	price, ok := agg.LatestPrice()
	require.True(t, ok)
	assert.InDelta(t, 1.1001, price, 1e-9)

	spread, ok := agg.CurrentSpread()
	require.True(t, ok)
	assert.InDelta(t, 0.0001, spread, 1e-9)
}

func TestTickAggregatorDiscardsUnusableTick(t *testing.T) {
	logger := &mockLogger{}
	agg := NewTickAggregator(testSymbol, logger)

	agg.Observe(domain.Tick{SymbolID: testSymbol.ID, Price: 0})

	_, ok := agg.LatestPrice()
	assert.False(t, ok)
	assert.Len(t, logger.warnMsgs, 1)
	assert.Empty(t, agg.Recent(0))
}

func TestTickAggregatorDirectionBias(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		lookback int
		want     float64
	}{
		{
			name:     "not enough directions returns zero",
			prices:   []float64{1.1000, 1.1001},
			lookback: 5,
			want:     0.0,
		},
		{
			name:     "all rising",
			prices:   []float64{1.1000, 1.1001, 1.1002, 1.1003, 1.1004},
			lookback: 4,
			want:     1.0,
		},
		{
			name:     "mixed directions average",
			prices:   []float64{1.1000, 1.1001, 1.1002, 1.1001, 1.1000},
			lookback: 4,
			want:     0.0,
		},
		{
			name:     "lookback includes leading neutral direction",
			prices:   []float64{1.1000, 1.1001, 1.1002},
			lookback: 3,
			want:     2.0 / 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewTickAggregator(testSymbol, &mockLogger{})
			for _, p := range tt.prices {
				agg.Observe(tickAt(p))
			}
			assert.InDelta(t, tt.want, agg.DirectionBias(tt.lookback), 1e-9)
		})
	}
}

func TestTickAggregatorVolatility(t *testing.T) {
	agg := NewTickAggregator(testSymbol, &mockLogger{})

	// Constant deltas: zero variance.
	for i := 0; i < 6; i++ {
		agg.Observe(tickAt(1.1000 + float64(i)*0.0001))
	}
	assert.InDelta(t, 0.0, agg.Volatility(5), 1e-12)

	// Not enough deltas yet for a larger period.
	assert.Equal(t, 0.0, agg.Volatility(50))

	// Alternating deltas of +0.0002/-0.0001 have nonzero spread.
	agg2 := NewTickAggregator(testSymbol, &mockLogger{})
	prices := []float64{1.1000, 1.1002, 1.1001, 1.1003, 1.1002}
	for _, p := range prices {
		agg2.Observe(tickAt(p))
	}
	assert.Greater(t, agg2.Volatility(4), 0.0)
}

func TestTickAggregatorWindowsAreBounded(t *testing.T) {
	agg := NewTickAggregator(testSymbol, &mockLogger{})

	for i := 0; i < maxStoredTicks+100; i++ {
		agg.Observe(tickAt(1.1000 + float64(i%7)*0.0001))
	}

	all := agg.Recent(0)
	assert.Len(t, all, maxStoredTicks)
	assert.Len(t, agg.Recent(25), 25)
	assert.True(t, agg.IsReady(maxStoredTicks))
	assert.False(t, agg.IsReady(maxStoredTicks+1))
}

func TestTickAggregatorIsReadyDefault(t *testing.T) {
	agg := NewTickAggregator(testSymbol, &mockLogger{})
	for i := 0; i < defaultMinTicks-1; i++ {
		agg.Observe(tickAt(1.1000 + float64(i)*0.0001))
	}
	assert.False(t, agg.IsReady(0))
	agg.Observe(tickAt(1.2000))
	assert.True(t, agg.IsReady(0))
}

func TestTickAggregatorResetStats(t *testing.T) {
	agg := NewTickAggregator(testSymbol, &mockLogger{})
	agg.Observe(tickAt(1.1000))
	agg.Observe(tickAt(1.1001))

	agg.ResetStats()

	stats := agg.Stats()
	assert.Equal(t, 0, stats.TotalTicks)
	assert.Equal(t, 0.0, agg.DirectionBias(1))

	// Direction computation stays continuous against the pre-reset price, and
	// the total follows the per-direction counters across the reset.
	agg.Observe(tickAt(1.1000))
	stats = agg.Stats()
	assert.Equal(t, 1, stats.DownTicks)
	assert.Equal(t, 1, stats.TotalTicks)
}
