package tradingview

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jwtly10/fxbot/internal/account"
)

func allowDump() bool {
	// DEBUG_DUMP=1 prints the markers after a backtest
	if os.Getenv("DEBUG_DUMP") == "1" {
		slog.Info("DEBUG_DUMP=1, dumping pine script to stdout")
		return true
	}
	return false
}

func DumpPineScript(trades []account.Trade) {
	if !allowDump() {
		return
	}
	if err := Write(os.Stdout, trades); err != nil {
		slog.Error("Failed to dump pine script", "error", err)
	}
}

// Write renders entry and exit markers for every trade as Pine Script so a backtest
// can be checked against a TradingView chart.
func Write(w io.Writer, trades []account.Trade) error {
	_, err := io.WriteString(w, generateTradePinescript(trades))
	return err
}

func generateTradePinescript(trades []account.Trade) string {
	var sb strings.Builder

	sb.WriteString("// ============================================\n")
	sb.WriteString("// TRADE VALIDATION MARKERS\n")
	sb.WriteString("// ============================================\n\n")

	for _, trade := range trades {
		side := strings.ToUpper(string(trade.Side))

		entryText := fmt.Sprintf("#%d %s %.2f\\nEntry: %.5f\\nTP: %.5f\\nSL: %.5f",
			trade.ID, side, trade.Lot, trade.EntryPrice, trade.TP, trade.SL)
		fmt.Fprintf(&sb, "t%d_entry = time == %s\n", trade.ID, formatPineTimestamp(trade.EntryTime))
		fmt.Fprintf(&sb, "plotshape(t%d_entry, title=\"#%d %s Entry\", location=location.bottom, color=color.blue, style=shape.labelup, size=size.small, text=\"%s\", textcolor=color.white)\n\n",
			trade.ID, trade.ID, side, entryText)

		exitText := fmt.Sprintf("#%d EXIT\\nExit: %.5f\\nP&L: %.2f\\n%s",
			trade.ID, trade.ExitPrice, trade.PnL, strings.ToUpper(string(trade.ExitReason)))
		fmt.Fprintf(&sb, "t%d_exit = time == %s\n", trade.ID, formatPineTimestamp(trade.ExitTime))
		fmt.Fprintf(&sb, "plotshape(t%d_exit, title=\"#%d EXIT\", location=location.top, color=%s, style=shape.labeldown, size=size.small, text=\"%s\", textcolor=color.white)\n\n",
			trade.ID, trade.ID, exitColor(trade.ExitReason), exitText)
	}

	return sb.String()
}

func exitColor(reason account.ExitReason) string {
	switch reason {
	case account.ExitStopLoss:
		return "color.red"
	case account.ExitTrailing:
		return "color.orange"
	case account.ExitEnd:
		return "color.gray"
	}
	return "color.green"
}

func formatPineTimestamp(t time.Time) string {
	utc := t.UTC()
	return fmt.Sprintf("timestamp(\"UTC\", %d, %d, %d, %d, %d)",
		utc.Year(), int(utc.Month()), utc.Day(), utc.Hour(), utc.Minute())
}
