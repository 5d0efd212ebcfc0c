package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fxscalper/internal/adapters/logger" // Import the logger package for LogLevel
	"fxscalper/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Transport endpoints
	FeedURL    string // Market data websocket endpoint
	GatewayURL string // Order gateway websocket endpoint

	// Symbols, parsed from SYMBOLS ("id:name:pipValue,...")
	Symbols domain.SymbolSet

	// Trading Parameters
	LotSize        float64 // Order size in lots
	StopLossPips   float64 // Fixed stop-loss distance in pips
	TakeProfitPips float64 // Fixed take-profit distance in pips

	// Decision Parameters
	MaxSpreadPips      float64 // Maximum spread (in pips) to allow entries
	MinConfidence      float64 // Minimum confidence score for a trade
	BiasLookback       int     // Ticks considered for direction bias
	BiasThreshold      float64 // Minimum |bias| for a directional intent
	ImbalanceThreshold float64 // Minimum |imbalance| agreeing with the bias
	MinTicks           int     // Ticks required before a symbol is warm
	MinDepthUpdates    int     // Depth updates required before a symbol is warm

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int

	// Status reporting
	StatusInterval time.Duration
}

// defaultSymbols mirrors the standard four-pair setup used when SYMBOLS is unset.
const defaultSymbols = "1:EURUSD:0.0001,2:GBPUSD:0.0001,3:USDJPY:0.01,4:AUDUSD:0.0001"

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Transport endpoints
	cfg.FeedURL = getEnv("FEED_URL", "ws://localhost:8081/marketdata")
	if cfg.FeedURL == "" {
		errs = append(errs, "FEED_URL must be set")
	}
	cfg.GatewayURL = getEnv("GATEWAY_URL", "ws://localhost:8082/trade")
	if cfg.GatewayURL == "" {
		errs = append(errs, "GATEWAY_URL must be set")
	}

	// Symbols
	cfg.Symbols, err = parseSymbols(getEnv("SYMBOLS", defaultSymbols))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SYMBOLS: %v", err))
	} else if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	// Trading Parameters
	cfg.LotSize, err = getEnvAsFloatRequired("LOT_SIZE", 0.25)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LOT_SIZE: %v", err))
	} else if cfg.LotSize <= 0 {
		errs = append(errs, "LOT_SIZE must be positive")
	}

	cfg.StopLossPips, err = getEnvAsFloatRequired("STOP_LOSS_PIPS", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PIPS: %v", err))
	} else if cfg.StopLossPips <= 0 {
		errs = append(errs, "STOP_LOSS_PIPS must be positive")
	}

	cfg.TakeProfitPips, err = getEnvAsFloatRequired("TAKE_PROFIT_PIPS", 20.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PIPS: %v", err))
	} else if cfg.TakeProfitPips <= 0 {
		errs = append(errs, "TAKE_PROFIT_PIPS must be positive")
	}

	// Decision Parameters (using defaults if not set)
	cfg.MaxSpreadPips = getEnvAsFloat("MAX_SPREAD_PIPS", 2.0)
	cfg.MinConfidence = getEnvAsFloat("MIN_CONFIDENCE", 0.7)
	cfg.BiasLookback = getEnvAsInt("BIAS_LOOKBACK", 10)
	cfg.BiasThreshold = getEnvAsFloat("BIAS_THRESHOLD", 0.3)
	cfg.ImbalanceThreshold = getEnvAsFloat("IMBALANCE_THRESHOLD", 0.2)
	cfg.MinTicks = getEnvAsInt("MIN_TICKS", 10)
	cfg.MinDepthUpdates = getEnvAsInt("MIN_DEPTH_UPDATES", 5)

	if cfg.MaxSpreadPips <= 0 {
		errs = append(errs, "MAX_SPREAD_PIPS must be positive")
	}
	if cfg.MinConfidence < 0 {
		errs = append(errs, "MIN_CONFIDENCE cannot be negative")
	}
	if cfg.BiasLookback <= 0 {
		errs = append(errs, "BIAS_LOOKBACK must be positive")
	}
	if cfg.BiasThreshold <= 0 || cfg.BiasThreshold > 1 {
		errs = append(errs, "BIAS_THRESHOLD must be between 0 and 1")
	}
	if cfg.ImbalanceThreshold <= 0 || cfg.ImbalanceThreshold > 1 {
		errs = append(errs, "IMBALANCE_THRESHOLD must be between 0 and 1")
	}
	if cfg.MinTicks <= 0 || cfg.MinDepthUpdates <= 0 {
		errs = append(errs, "MIN_TICKS and MIN_DEPTH_UPDATES must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/fxscalper.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelayMs := getEnvAsInt("RECONNECT_DELAY_MS", 500)
	if reconnectDelayMs <= 0 {
		errs = append(errs, "RECONNECT_DELAY_MS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelayMs) * time.Millisecond

	maxReconnectDelaySec := getEnvAsInt("MAX_RECONNECT_DELAY_SECONDS", 30)
	if maxReconnectDelaySec <= 0 {
		errs = append(errs, "MAX_RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.MaxReconnectDelay = time.Duration(maxReconnectDelaySec) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Status reporting
	statusIntervalSec := getEnvAsInt("STATUS_INTERVAL_SECONDS", 30)
	if statusIntervalSec <= 0 {
		errs = append(errs, "STATUS_INTERVAL_SECONDS must be positive")
	}
	cfg.StatusInterval = time.Duration(statusIntervalSec) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseSymbols turns "id:name:pipValue,..." into a SymbolSet.
func parseSymbols(raw string) (domain.SymbolSet, error) {
	symbols := make(domain.SymbolSet)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("symbol entry %q must be id:name:pipValue", entry)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("symbol entry %q has invalid id: %w", entry, err)
		}
		pip, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("symbol entry %q has invalid pip value: %w", entry, err)
		}
		if pip <= 0 {
			return nil, fmt.Errorf("symbol entry %q pip value must be positive", entry)
		}
		name := strings.TrimSpace(parts[1])
		if name == "" {
			return nil, fmt.Errorf("symbol entry %q has empty name", entry)
		}
		if _, exists := symbols[id]; exists {
			return nil, fmt.Errorf("duplicate symbol id %d", id)
		}
		symbols[id] = domain.Symbol{ID: id, Name: name, PipValue: pip}
	}
	return symbols, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
