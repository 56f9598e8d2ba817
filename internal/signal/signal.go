package signal

import (
	"math"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/risk"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("signal")

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
	Hold Action = "hold"
)

const (
	minATRPct = 0.02
	maxATRPct = 0.5
)

// TradeSignal is the actionable outcome of one prediction. Hold signals carry
// the prediction and zeroes everywhere else.
type TradeSignal struct {
	Symbol             string  `json:"symbol"`
	Action             Action  `json:"action"`
	Prediction         float64 `json:"prediction"`
	Lot                float64 `json:"lot"`
	SL                 float64 `json:"sl"`
	TP                 float64 `json:"tp"`
	TrailingActivation float64 `json:"trailing_activation"`
	TrailingDistance   float64 `json:"trailing_distance"`
	// Reason names the gate that produced a hold.
	Reason string `json:"reason,omitempty"`
}

func (s TradeSignal) Side() (types.Side, bool) {
	switch s.Action {
	case Buy:
		return types.Long, true
	case Sell:
		return types.Short, true
	}
	return "", false
}

type Input struct {
	Symbol       string
	Prediction   float64
	CurrentPrice float64
	ATR          float64
	Balance      float64
	Point        float64
	// Confidence is 1 for regression models.
	Confidence float64
	SpreadPips float64
	// CurrentHourUTC disables the session gate when nil.
	CurrentHourUTC *int
	Regime         features.Regime
}

func hold(in Input, reason string) TradeSignal {
	return TradeSignal{Symbol: in.Symbol, Action: Hold, Prediction: in.Prediction, Reason: reason}
}

// Generate runs the market filter, confidence and threshold gates in order and
// sizes the surviving prediction. It has no side effects beyond logging.
func Generate(in Input, cfg *config.Settings) TradeSignal {
	mf := cfg.MarketFilter
	if mf.Enabled {
		if in.Regime == features.Ranging {
			log.Info("Holding in ranging market", "symbol", in.Symbol)
			return hold(in, "ranging")
		}

		if in.SpreadPips > mf.MaxSpreadPips {
			log.Info("Holding on wide spread", "symbol", in.Symbol, "spread_pips", in.SpreadPips, "max", mf.MaxSpreadPips)
			return hold(in, "spread")
		}

		if in.CurrentPrice > 0 && in.ATR > 0 {
			atrPct := in.ATR / in.CurrentPrice * 100
			if atrPct < minATRPct {
				log.Info("Holding on low volatility", "symbol", in.Symbol, "atr_pct", atrPct)
				return hold(in, "low_volatility")
			}
			if atrPct > maxATRPct {
				log.Info("Holding on extreme volatility", "symbol", in.Symbol, "atr_pct", atrPct)
				return hold(in, "high_volatility")
			}
		}

		if mf.SessionOnly && in.CurrentHourUTC != nil {
			h := *in.CurrentHourUTC
			if !features.InLondonSession(h) && !features.InNewYorkSession(h) {
				log.Info("Holding outside trading sessions", "symbol", in.Symbol, "hour_utc", h)
				return hold(in, "session")
			}
		}
	}

	if in.Confidence < cfg.Trading.MinConfidence {
		log.Info("Holding on low confidence", "symbol", in.Symbol, "confidence", in.Confidence, "min", cfg.Trading.MinConfidence)
		return hold(in, "confidence")
	}

	if math.Abs(in.Prediction) < cfg.Trading.MinPredictionThreshold {
		return hold(in, "threshold")
	}

	side := types.SideFromPrediction(in.Prediction)

	lot := risk.CalculateLot(in.Prediction, in.Balance, in.ATR, in.Point, cfg)
	if lot <= 0 {
		return hold(in, "lot")
	}

	stops := risk.CalculateStops(side, in.CurrentPrice, in.Prediction, in.ATR, cfg)

	action := Buy
	if side == types.Short {
		action = Sell
	}
	sig := TradeSignal{
		Symbol:             in.Symbol,
		Action:             action,
		Prediction:         in.Prediction,
		Lot:                lot,
		SL:                 stops.SL,
		TP:                 stops.TP,
		TrailingActivation: stops.TrailingActivation,
		TrailingDistance:   stops.TrailingDistance,
	}

	log.Info("Generated signal", "symbol", in.Symbol, "action", sig.Action, "prediction", in.Prediction,
		"confidence", in.Confidence, "lot", lot, "sl", stops.SL, "tp", stops.TP, "regime", in.Regime)
	return sig
}
