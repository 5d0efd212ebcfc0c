package ports

import "fxscalper/internal/domain"

// DecisionInputs are the aggregator outputs the decision engine consumes.
type DecisionInputs struct {
	Spread      float64 // Current spread in price units
	PipValue    float64 // Pip value of the symbol under evaluation
	Bias        float64 // Tick direction bias in [-1, 1]
	Imbalance   float64 // Current book imbalance in [-1, 1]
	ImbalanceOK bool    // False when the book has no signal (one side empty)
}

// Decision is a trade intent plus the reasoning behind it.
type Decision struct {
	Intent     domain.TradeIntent
	Confidence float64
	Reason     string // Populated for HOLD decisions
}

// DecisionEngine turns aggregator outputs into a trade intent. It is a pure
// function of its inputs and must not mutate trading state.
type DecisionEngine interface {
	Decide(in DecisionInputs) Decision
}
