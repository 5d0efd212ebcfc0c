// Command tradestats summarises the trade archive: per-symbol performance
// plus an optional CSV export for spreadsheet analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"fxscalper/config"
	"fxscalper/internal/adapters/logger"
	"fxscalper/internal/adapters/sqlite"
	"fxscalper/internal/domain"
	"fxscalper/internal/utils"
)

func main() {
	limit := flag.Int("limit", 100, "max trades per symbol to analyse")
	csvPath := flag.String("csv", "", "optional path to export the analysed trades as CSV")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(logger.LevelWarn) // Quiet; this is a reporting tool

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Failed to open trade archive: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Symbol\tTrades\tWins\tLosses\tWinRate\tAvgPips\tTotalPips\t")

	var all []*domain.Trade
	for _, sym := range cfg.Symbols {
		trades, err := repo.FindBySymbol(ctx, sym.ID, *limit)
		if err != nil {
			log.Printf("Error reading trades for %s: %v", sym.Name, err)
			continue
		}
		all = append(all, trades...)

		stats := calculateStats(trades)
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.1f\t%.1f\t\n",
			sym.Name, stats.trades, stats.wins, stats.losses, stats.winRate, stats.avgPips, stats.totalPips)
	}
	w.Flush()

	total, err := repo.TotalPips(ctx)
	if err != nil {
		log.Fatalf("Failed to sum archived pips: %v", err)
	}
	fmt.Printf("\nArchived total: %.1f pips\n", total)

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(all, *csvPath); err != nil {
			log.Fatalf("CSV export failed: %v", err)
		}
		fmt.Printf("Exported %d trades to %s\n", len(all), *csvPath)
	}
}

type tradeStats struct {
	trades    int
	wins      int
	losses    int
	winRate   float64
	avgPips   float64
	totalPips float64
}

func calculateStats(trades []*domain.Trade) tradeStats {
	var stats tradeStats
	stats.trades = len(trades)
	for _, t := range trades {
		if t.PnlPips > 0 {
			stats.wins++
		} else {
			stats.losses++
		}
		stats.totalPips += t.PnlPips
	}
	if stats.trades > 0 {
		stats.winRate = float64(stats.wins) / float64(stats.trades) * 100
		stats.avgPips = stats.totalPips / float64(stats.trades)
	}
	return stats
}
