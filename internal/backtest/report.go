package backtest

import (
	"io"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteReport prints a human readable summary of a run with grouped thousands.
func WriteReport(w io.Writer, r *Result, m *Metrics) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\n=== Backtest Results ===\n")
	p.Fprintf(w, "Bars:             %d\n", len(r.Equity))
	p.Fprintf(w, "Initial Balance:  %.2f\n", r.Settings.InitialBalance)
	p.Fprintf(w, "Final Balance:    %.2f\n", r.FinalBalance)
	p.Fprintf(w, "Spread (pips):    %.1f\n\n", r.Settings.SpreadPips)

	if m == nil {
		p.Fprintf(w, "No metrics\n")
		return
	}

	p.Fprintf(w, "Total Trades:     %d\n", m.NumTrades)
	p.Fprintf(w, "Win Rate:         %.2f%%\n", m.WinRate*100)
	p.Fprintf(w, "Profit Factor:    %s\n\n", formatRatio(p, float64(m.ProfitFactor)))

	p.Fprintf(w, "Total P&L:        %.2f (%.2f%%)\n", m.TotalPnL, m.TotalReturn*100)
	p.Fprintf(w, "Avg P&L:          %.2f\n", m.AvgPnL)
	p.Fprintf(w, "Avg Win:          %.2f\n", m.AvgWin)
	p.Fprintf(w, "Avg Loss:         %.2f\n\n", m.AvgLoss)

	p.Fprintf(w, "Sharpe:           %.3f\n", m.Sharpe)
	p.Fprintf(w, "Sortino:          %.3f\n", m.Sortino)
	p.Fprintf(w, "Max Drawdown:     %.2f (%.2f%%)\n", m.MaxDrawdown, m.MaxDrawdownPct*100)

	if monthly := MonthlyReturns(r.Equity); len(monthly) > 0 {
		p.Fprintf(w, "\n=== Monthly Returns ===\n")
		for _, mr := range monthly {
			p.Fprintf(w, "%s  %+.2f%%\n", mr.Month, mr.Return*100)
		}
	}
}

func formatRatio(p *message.Printer, v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return p.Sprintf("%.2f", v)
}
