package model

import (
	"log/slog"
	"math"
)

const (
	DefaultBarrierMult = 2.0
	DefaultVolLookback = 20
	LabelUp            = 1.0
	LabelDown          = -1.0
	LabelNeutral       = 0.0
)

// TripleBarrierLabels scans up to horizon bars ahead of each bar and labels it by
// the first barrier touched: +1 for the upper, -1 for the lower, 0 when neither is
// hit. Barrier width is the rolling std of log returns scaled by the multipliers.
// Bars without a volatility estimate and the final bar are NaN.
func TripleBarrierLabels(closes []float64, horizon int, slMult, tpMult float64, volLookback int) []float64 {
	n := len(closes)
	labels := make([]float64, n)
	for i := range labels {
		labels[i] = math.NaN()
	}

	vol := rollingReturnStd(closes, volLookback)
	counts := map[float64]int{}

	for i := 0; i < n-1; i++ {
		if math.IsNaN(vol[i]) || vol[i] <= 0 {
			continue
		}
		upper := closes[i] * math.Exp(vol[i]*tpMult)
		lower := closes[i] * math.Exp(-vol[i]*slMult)

		label := LabelNeutral
		end := min(i+horizon+1, n)
		for j := i + 1; j < end; j++ {
			if closes[j] >= upper {
				label = LabelUp
				break
			}
			if closes[j] <= lower {
				label = LabelDown
				break
			}
		}
		labels[i] = label
		counts[label]++
	}

	slog.Debug("Triple barrier labels", "up", counts[LabelUp], "down", counts[LabelDown], "neutral", counts[LabelNeutral])
	return labels
}

// rollingReturnStd is the sample std of the lookback log returns ending at each close.
func rollingReturnStd(closes []float64, lookback int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if lookback < 2 {
		return out
	}

	rets := make([]float64, n)
	for i := 1; i < n; i++ {
		rets[i] = math.Log(closes[i] / closes[i-1])
	}
	for i := lookback; i < n; i++ {
		window := rets[i-lookback+1 : i+1]
		out[i] = sampleStd(window)
	}
	return out
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
