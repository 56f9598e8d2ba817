package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/types"
)

// BaseLot is the lot that loses balance*risk when an ATR*multiplier stop is hit.
// ok is false when the stop distance is not positive.
func BaseLot(balance, atr float64, cfg *config.Settings) (float64, bool) {
	slDist := atr * cfg.Risk.ATRSLMultiplier
	if math.IsNaN(slDist) || slDist <= 0 {
		return 0, false
	}
	return balance * cfg.Risk.MaxRiskPerTrade / (slDist * types.ContractSize), true
}

// ClampLot bounds lot to [min_lot, max_lot] and rounds it to two decimals.
func ClampLot(lot float64, cfg *config.Settings) float64 {
	lot = math.Max(cfg.Trading.MinLot, math.Min(cfg.Trading.MaxLot, lot))
	return RoundLot(lot)
}

func RoundLot(lot float64) float64 {
	return decimal.NewFromFloat(lot).Round(2).InexactFloat64()
}

// CalculateLot sizes a trade from the risk budget and scales it up to 2x with
// the prediction's distance above the threshold. It returns 0 when the prediction
// is not strong enough to trade and min_lot when the stop distance is degenerate.
// point is accepted for broker symmetry; sizing works in price units.
func CalculateLot(prediction, balance, atr, point float64, cfg *config.Settings) float64 {
	base, ok := BaseLot(balance, atr, cfg)
	if !ok {
		return cfg.Trading.MinLot
	}

	threshold := cfg.Trading.MinPredictionThreshold
	p := math.Abs(prediction)
	if p <= threshold {
		return 0
	}

	scale := math.Min(1+0.5*math.Log1p(p/threshold-1), 2)
	return ClampLot(base*scale, cfg)
}
