package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/jwtly10/fxbot/internal/account"
)

type EquityPoint struct {
	Time   time.Time `json:"time" yaml:"time"`
	Equity float64   `json:"equity" yaml:"equity"`
}

type RunSettings struct {
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance"`
	SpreadPips     float64 `json:"spread_pips" yaml:"spread_pips"`
}

// Result holds one equity point per bar and every closed trade in close order.
type Result struct {
	Equity       []EquityPoint   `json:"equity"`
	Trades       []account.Trade `json:"trades"`
	Settings     RunSettings     `json:"settings"`
	FinalBalance float64         `json:"final_balance"`
}

// EquityValues returns the equity curve without timestamps.
func (r *Result) EquityValues() []float64 {
	out := make([]float64, len(r.Equity))
	for i, p := range r.Equity {
		out[i] = p.Equity
	}
	return out
}

func (r *Result) WriteTrades(w io.Writer) {
	fmt.Fprintln(w, "\n=== Trade List ===")
	for _, trade := range r.Trades {
		fmt.Fprintln(w, trade.String())
	}
}
