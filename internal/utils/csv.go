package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"fxscalper/internal/domain"
)

// WriteTradesToCSV exports archived trades for spreadsheet analysis.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"symbol", "side", "quantity", "entry_price", "exit_price", "pnl_pips", "entry_time", "exit_time", "close_reason"})

	for _, t := range trades {
		writer.Write([]string{
			t.SymbolName,
			string(t.Side),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.PnlPips, 'f', -1, 64),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			string(t.CloseReason),
		})
	}
	return writer.Error()
}
