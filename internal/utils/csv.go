package utils

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"cryptoScalper/internal/domain"
)

var tradeHeader = []string{
	"id", "symbol", "entry_time", "exit_time", "entry_price", "exit_price", "quantity",
	"entry_fee", "exit_fee", "pnl", "scale_count", "close_reason",
}

// WriteTrades writes closed trades as CSV rows with a header.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if t == nil {
			continue
		}
		if err := writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Symbol,
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			formatFloat(t.EntryFee),
			formatFloat(t.ExitFee),
			formatFloat(t.PNL),
			strconv.Itoa(t.ScaleCount),
			string(t.CloseReason),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesToCSV writes closed trades to filename, replacing any existing file.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTrades(file, trades); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
