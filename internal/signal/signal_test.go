package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/types"
)

func filteredSettings() *config.Settings {
	cfg := config.Default()
	cfg.MarketFilter.Enabled = true
	cfg.MarketFilter.MaxSpreadPips = 3
	cfg.MarketFilter.SessionOnly = true
	cfg.Trading.MinPredictionThreshold = 0.0005
	cfg.Trading.MinConfidence = 0.5
	return cfg
}

func hour(h int) *int { return &h }

// baseInput passes every gate: ATR% = 0.0022/1.1*100 = 0.2.
func baseInput() Input {
	return Input{
		Symbol:         "EUR_USD",
		Prediction:     0.001,
		CurrentPrice:   1.1,
		ATR:            0.0022,
		Balance:        100_000,
		Point:          0.00001,
		Confidence:     0.9,
		SpreadPips:     1,
		CurrentHourUTC: hour(10),
		Regime:         features.TrendUp,
	}
}

func TestGenerate_Buy(t *testing.T) {
	cfg := filteredSettings()
	sig := Generate(baseInput(), cfg)

	assert.Equal(t, Buy, sig.Action)
	assert.Greater(t, sig.Lot, 0.0)
	assert.Less(t, sig.SL, 1.1)
	assert.Greater(t, sig.TP, 1.1)
	side, ok := sig.Side()
	assert.True(t, ok)
	assert.Equal(t, types.Long, side)
}

func TestGenerate_Sell(t *testing.T) {
	in := baseInput()
	in.Prediction = -0.001
	sig := Generate(in, filteredSettings())

	assert.Equal(t, Sell, sig.Action)
	assert.Greater(t, sig.SL, 1.1)
	assert.Less(t, sig.TP, 1.1)
}

func TestGenerate_Gates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		reason string
	}{
		{"ranging", func(in *Input) { in.Regime = features.Ranging }, "ranging"},
		{"spread", func(in *Input) { in.SpreadPips = 3.5 }, "spread"},
		{"low volatility", func(in *Input) { in.ATR = 0.0001 }, "low_volatility"},
		{"high volatility", func(in *Input) { in.ATR = 0.01 }, "high_volatility"},
		{"session", func(in *Input) { in.CurrentHourUTC = hour(23) }, "session"},
		{"confidence", func(in *Input) { in.Confidence = 0.4 }, "confidence"},
		{"threshold", func(in *Input) { in.Prediction = 0.0004 }, "threshold"},
		{"ranging wins over spread", func(in *Input) {
			in.Regime = features.Ranging
			in.SpreadPips = 10
		}, "ranging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			sig := Generate(in, filteredSettings())
			assert.Equal(t, Hold, sig.Action)
			assert.Equal(t, tt.reason, sig.Reason)
			assert.Equal(t, in.Prediction, sig.Prediction)
			assert.Zero(t, sig.Lot)
			assert.Zero(t, sig.SL)
		})
	}
}

func TestGenerate_FilterDisabledSkipsMarketGates(t *testing.T) {
	cfg := filteredSettings()
	cfg.MarketFilter.Enabled = false

	in := baseInput()
	in.Regime = features.Ranging
	in.SpreadPips = 10
	in.CurrentHourUTC = hour(2)
	assert.Equal(t, Buy, Generate(in, cfg).Action)
}

func TestGenerate_NilHourSkipsSessionGate(t *testing.T) {
	in := baseInput()
	in.CurrentHourUTC = nil
	assert.Equal(t, Buy, Generate(in, filteredSettings()).Action)
}

func TestGenerate_ZeroATRSkipsVolatilityGate(t *testing.T) {
	in := baseInput()
	in.ATR = 0
	sig := Generate(in, filteredSettings())
	assert.Equal(t, Buy, sig.Action)
	assert.Equal(t, 0.01, sig.Lot, "Degenerate stop distance sizes at min lot")
}

func TestGenerate_IsIdempotent(t *testing.T) {
	cfg := filteredSettings()
	in := baseInput()
	assert.Equal(t, Generate(in, cfg), Generate(in, cfg))

	in.Prediction = -0.0007
	assert.Equal(t, Generate(in, cfg), Generate(in, cfg))
}
