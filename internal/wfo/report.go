package wfo

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jwtly10/fxbot/internal/backtest"
)

type report struct {
	Symbol    string            `yaml:"symbol"`
	NumFolds  int               `yaml:"num_folds"`
	NumTrades int               `yaml:"num_trades"`
	Overall   *backtest.Metrics `yaml:"overall,omitempty"`
	Folds     []Fold            `yaml:"folds"`
}

// WriteReport writes the per fold and overall metrics as YAML. The equity curve
// and trades are left out.
func WriteReport(w io.Writer, symbol string, r *Result) error {
	out := report{
		Symbol:    symbol,
		NumFolds:  len(r.Folds),
		NumTrades: len(r.Trades),
		Overall:   r.Metrics,
		Folds:     r.Folds,
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode wfo report: %w", err)
	}
	return enc.Close()
}
