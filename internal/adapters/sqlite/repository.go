package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxscalper/internal/domain"
	"fxscalper/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository using SQLite. Only completed
// round trips are persisted; live positions stay in memory.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/fxscalper.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol_id INTEGER NOT NULL,
		symbol_name TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		pnl_pips REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NOT NULL,
		client_order_id TEXT NOT NULL,
		maintenance_ref TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades (symbol_id, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (symbol_id, symbol_name, side, quantity, entry_price, exit_price,
	                    pnl_pips, entry_time, exit_time, close_reason, client_order_id, maintenance_ref)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.SymbolID, trade.SymbolName, trade.Side, trade.Quantity, trade.EntryPrice, trade.ExitPrice,
		trade.PnlPips, trade.EntryTime, trade.ExitTime, trade.CloseReason, trade.ClientOrderID, trade.MaintenanceRef)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.SymbolName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.SymbolName, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade archived", map[string]interface{}{"tradeID": id, "symbol": trade.SymbolName, "pnlPips": trade.PnlPips})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbolID int64, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol_id, symbol_name, side, quantity, entry_price, exit_price,
	       pnl_pips, entry_time, exit_time, close_reason, client_order_id, COALESCE(maintenance_ref, '')
	FROM trades
	WHERE symbol_id = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbolID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %d: %w", symbolID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade := &domain.Trade{}
		if err := rows.Scan(
			&trade.ID, &trade.SymbolID, &trade.SymbolName, &trade.Side, &trade.Quantity,
			&trade.EntryPrice, &trade.ExitPrice, &trade.PnlPips, &trade.EntryTime, &trade.ExitTime,
			&trade.CloseReason, &trade.ClientOrderID, &trade.MaintenanceRef,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindBySymbol: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// CountTodayBySymbol counts the number of trades completed today for a given symbol.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbolID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE symbol_id = ? AND exit_time >= ?`

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var count int
	if err := r.db.QueryRowContext(ctx, query, symbolID, startOfDay).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count today's trades for symbol %d: %w", symbolID, err)
	}
	return count, nil
}

// TotalPips returns the sum of archived pip profits across all symbols.
func (r *Repository) TotalPips(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl_pips), 0) FROM trades`

	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum archived pips: %w", err)
	}
	return total, nil
}
