package risk

import (
	"math"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/types"
)

// StopLevels are the protective prices for one position plus the trailing
// parameters, both in price units.
type StopLevels struct {
	SL                 float64 `json:"sl"`
	TP                 float64 `json:"tp"`
	TrailingActivation float64 `json:"trailing_activation"`
	TrailingDistance   float64 `json:"trailing_distance"`
}

// predictionScaleUnit is the prediction magnitude that counts as one unit of
// conviction when widening TP and tightening SL.
const predictionScaleUnit = 0.001

// CalculateStops layers three rules: ATR multiples for SL and TP, a nudge from the
// prediction size (TP up to +20%, SL down to -10%), and ATR based trailing parameters.
func CalculateStops(side types.Side, entry, prediction, atr float64, cfg *config.Settings) StopLevels {
	scale := math.Min(math.Abs(prediction)/predictionScaleUnit, 2)
	slDist := atr * cfg.Risk.ATRSLMultiplier * (1 - 0.05*scale)
	tpDist := atr * cfg.Risk.ATRTPMultiplier * (1 + 0.1*scale)

	levels := StopLevels{
		TrailingActivation: atr * cfg.Risk.TrailingActivationATR,
		TrailingDistance:   atr * cfg.Risk.TrailingATRMultiplier,
	}
	if side == types.Long {
		levels.SL = entry - slDist
		levels.TP = entry + tpDist
	} else {
		levels.SL = entry + slDist
		levels.TP = entry - tpDist
	}
	return levels
}

// UpdateTrailingStop proposes a new stop once the position is at least the
// activation distance in profit. ok is false unless the new stop is strictly
// better than currentSL, so a trailing stop can only ever tighten.
func UpdateTrailingStop(side types.Side, current, entry, currentSL float64, stops StopLevels) (float64, bool) {
	if side == types.Long {
		if current-entry < stops.TrailingActivation {
			return 0, false
		}
		next := current - stops.TrailingDistance
		if next > currentSL {
			return next, true
		}
		return 0, false
	}

	if entry-current < stops.TrailingActivation {
		return 0, false
	}
	next := current + stops.TrailingDistance
	if next < currentSL {
		return next, true
	}
	return 0, false
}
