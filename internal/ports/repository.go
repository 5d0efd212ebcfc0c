package ports

import (
	"context"

	"fxscalper/internal/domain"
)

// TradeRepository defines the interface for storing and retrieving completed
// trades. Positions live in memory only; the archive is append-mostly.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbolID int64, limit int) ([]*domain.Trade, error)
	// CountTodayBySymbol counts the number of trades completed today for a given symbol.
	CountTodayBySymbol(ctx context.Context, symbolID int64) (int, error)
	// TotalPips returns the sum of archived pip profits across all symbols.
	TotalPips(ctx context.Context) (float64, error)
}
