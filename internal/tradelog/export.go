package tradelog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "timestamp", "symbol", "direction", "entry_price", "sl", "tp", "lot", "prediction", "confidence",
	"atr", "balance", "exit_price", "exit_time", "exit_reason", "pnl", "ticket", "model_version",
}

// ExportCSV writes every logged trade in id order. Missing exit fields are empty cells.
func ExportCSV(ctx context.Context, s Store, w io.Writer) (int, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		log.Warn("No trades to export")
		return 0, nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(record(e)); err != nil {
			return 0, fmt.Errorf("failed to write trade %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func record(e Entry) []string {
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Symbol,
		string(e.Direction),
		formatFloat(e.EntryPrice),
		formatFloat(e.SL),
		formatFloat(e.TP),
		formatFloat(e.Lot),
		formatFloat(e.Prediction),
		formatFloat(e.Confidence),
		formatFloat(e.ATR),
		formatFloat(e.Balance),
		optFloat(e.ExitPrice),
		optTime(e.ExitTime),
		optString(e.ExitReason),
		optFloat(e.PnL),
		strconv.FormatInt(e.Ticket, 10),
		e.ModelVersion,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
