package backtest

import (
	"math"

	"github.com/jwtly10/fxbot/internal/account"
	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/risk"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("engine")

// fallbackATRRatio stands in for ATR as a fraction of close when the column is
// missing or undefined.
const fallbackATRRatio = 0.001

type Engine struct {
	cfg *config.Settings
}

func NewEngine(cfg *config.Settings) *Engine {
	return &Engine{cfg: cfg}
}

// Run simulates the predictions bar by bar. Prediction i belongs to row i and a
// shorter predictions slice means no entries for the remaining rows. point is the
// symbol's price increment used to convert the spread into price units.
func (e *Engine) Run(fm *features.Matrix, predictions []float64, point float64) *Result {
	cfg := e.cfg
	spread := cfg.Backtest.SpreadPips * point * 10

	result := &Result{
		Equity: []EquityPoint{},
		Trades: []account.Trade{},
		Settings: RunSettings{
			InitialBalance: cfg.Backtest.InitialBalance,
			SpreadPips:     cfg.Backtest.SpreadPips,
		},
		FinalBalance: cfg.Backtest.InitialBalance,
	}

	if fm.Len() == 0 {
		log.Warn("Empty feature matrix, nothing to backtest")
		return result
	}
	for _, col := range []string{features.ColOpen, features.ColHigh, features.ColLow, features.ColClose} {
		if !fm.Has(col) {
			log.Error("Feature matrix is missing a price column", "column", col)
			return result
		}
	}

	acc := account.NewAccount(cfg.Backtest.InitialBalance, account.Config{
		Spread:                spread,
		TrailingActivationATR: cfg.Risk.TrailingActivationATR,
		TrailingATRMultiplier: cfg.Risk.TrailingATRMultiplier,
	})
	atrCol, hasATR := fm.Column(features.ColATR)

	log.Debug("Starting backtest", "initial_balance", cfg.Backtest.InitialBalance, "total_bars", fm.Len(), "spread", spread)

	var bar types.Bar
	for i := 0; i < fm.Len(); i++ {
		bar = fm.Bar(i)
		atr := bar.Close * fallbackATRRatio
		if hasATR && !math.IsNaN(atrCol[i]) {
			atr = atrCol[i]
		}

		closed := acc.CheckExits(bar, atr)
		result.Trades = append(result.Trades, closed...)

		if i < len(predictions) && acc.PositionCount() < cfg.Trading.MaxPositions {
			e.maybeEnter(acc, bar, atr, predictions[i], spread)
		}

		result.Equity = append(result.Equity, EquityPoint{Time: bar.Timestamp, Equity: acc.Equity(bar.Close)})
	}

	result.Trades = append(result.Trades, acc.CloseAll(bar)...)
	result.FinalBalance = acc.Balance

	log.Info("Backtest complete", "trades", len(result.Trades), "final_balance", acc.Balance,
		"return_pct", (acc.Balance/cfg.Backtest.InitialBalance-1)*100)
	return result
}

// maybeEnter opens a position when the prediction clears the threshold. Lots are
// sized from the risk budget without prediction scaling. SL and TP are anchored
// on the close while the fill includes half the spread.
func (e *Engine) maybeEnter(acc *account.Account, bar types.Bar, atr, pred, spread float64) {
	cfg := e.cfg
	if math.IsNaN(pred) || math.Abs(pred) <= cfg.Trading.MinPredictionThreshold {
		return
	}

	lot := cfg.Trading.MinLot
	if base, ok := risk.BaseLot(acc.Balance, atr, cfg); ok {
		lot = risk.ClampLot(base, cfg)
	}

	side := types.SideFromPrediction(pred)
	slDist := atr * cfg.Risk.ATRSLMultiplier
	tpDist := atr * cfg.Risk.ATRTPMultiplier
	s := side.Sign()

	acc.OpenPosition(side, bar.Close+s*spread/2, lot, bar.Close-s*slDist, bar.Close+s*tpDist, bar.Timestamp)
}
