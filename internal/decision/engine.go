package decision

import (
	"fmt"
	"math"

	"fxscalper/internal/domain"
	"fxscalper/internal/ports"
)

// Hold reasons surfaced in Decision.Reason.
const (
	ReasonSpreadTooWide = "spread_too_wide"
	ReasonLowConfidence = "low_confidence"
	ReasonNoSignal      = "no_signal"
	ReasonNoDepthSignal = "no_depth_signal"
)

// Config holds parameters for the scalping decision logic.
type Config struct {
	MaxSpreadPips      float64 // e.g., 2.0
	MinConfidence      float64 // e.g., 0.7
	BiasThreshold      float64 // e.g., 0.3
	ImbalanceThreshold float64 // e.g., 0.2
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSpreadPips:      2.0,
		MinConfidence:      0.7,
		BiasThreshold:      0.3,
		ImbalanceThreshold: 0.2,
	}
}

// Engine turns aggregator outputs into a trade intent. The bias and the book
// imbalance must both clear their thresholds and agree in sign before a
// directional intent is produced.
type Engine struct {
	cfg    Config
	logger ports.Logger
}

// New creates a new Engine instance.
func New(cfg Config, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for decision engine")
	}
	if cfg.MaxSpreadPips <= 0 {
		return nil, fmt.Errorf("max spread must be positive")
	}
	if cfg.MinConfidence < 0 {
		return nil, fmt.Errorf("min confidence cannot be negative")
	}
	if cfg.BiasThreshold <= 0 || cfg.BiasThreshold > 1 {
		return nil, fmt.Errorf("bias threshold must be in (0, 1]")
	}
	if cfg.ImbalanceThreshold <= 0 || cfg.ImbalanceThreshold > 1 {
		return nil, fmt.Errorf("imbalance threshold must be in (0, 1]")
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Decide evaluates one symbol's current inputs. It holds no state between
// calls; cheap gates (spread, data availability) run before the confidence
// check so a wide spread short-circuits everything else.
func (e *Engine) Decide(in ports.DecisionInputs) ports.Decision {
	if in.PipValue > 0 && in.Spread/in.PipValue > e.cfg.MaxSpreadPips {
		return ports.Decision{Intent: domain.IntentHold, Reason: ReasonSpreadTooWide}
	}
	if !in.ImbalanceOK {
		return ports.Decision{Intent: domain.IntentHold, Reason: ReasonNoDepthSignal}
	}

	confidence := math.Abs(in.Bias) + 0.5*math.Abs(in.Imbalance)
	if confidence < e.cfg.MinConfidence {
		return ports.Decision{Intent: domain.IntentHold, Confidence: confidence, Reason: ReasonLowConfidence}
	}

	switch {
	case in.Bias > e.cfg.BiasThreshold && in.Imbalance > e.cfg.ImbalanceThreshold:
		return ports.Decision{Intent: domain.IntentBuy, Confidence: confidence}
	case in.Bias < -e.cfg.BiasThreshold && in.Imbalance < -e.cfg.ImbalanceThreshold:
		return ports.Decision{Intent: domain.IntentSell, Confidence: confidence}
	}
	return ports.Decision{Intent: domain.IntentHold, Confidence: confidence, Reason: ReasonNoSignal}
}
