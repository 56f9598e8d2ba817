package features

const (
	TrendUp   Regime = "trend_up"
	TrendDown Regime = "trend_down"
	Ranging   Regime = "ranging"
)

type Regime string

// DetectRegime classifies the market from ADX and the directional indicators.
// ADX below minADX is a ranging market.
func DetectRegime(adx, diPos, diNeg, minADX float64) Regime {
	if adx < minADX {
		return Ranging
	}
	if diPos > diNeg {
		return TrendUp
	}
	return TrendDown
}

// LatestRegime reads the regime of the last row. Matrices without ADX columns are
// reported as trending up so the regime gate never blocks on missing data.
func LatestRegime(m *Matrix, minADX float64) Regime {
	if m.Len() == 0 {
		return TrendUp
	}
	adx, ok1 := m.Column(ColADX)
	pos, ok2 := m.Column(ColADXPos)
	neg, ok3 := m.Column(ColADXNeg)
	if !ok1 || !ok2 || !ok3 {
		return TrendUp
	}
	last := m.Len() - 1
	return DetectRegime(adx[last], pos[last], neg[last], minADX)
}
