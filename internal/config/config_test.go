package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesTradingDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Trading.MaxPositions)
	assert.Equal(t, 6, cfg.Trading.PredictionHorizon)
	assert.Equal(t, 0.0005, cfg.Trading.MinPredictionThreshold)
	assert.Equal(t, 0.1, cfg.Trading.MaxLot)
	assert.Equal(t, 0.01, cfg.Trading.MinLot)

	assert.Equal(t, 0.02, cfg.Risk.MaxRiskPerTrade)
	assert.Equal(t, 2.0, cfg.Risk.ATRSLMultiplier)
	assert.Equal(t, 3.0, cfg.Risk.ATRTPMultiplier)
	assert.Equal(t, 1.5, cfg.Risk.TrailingATRMultiplier)
	assert.Equal(t, 1.0, cfg.Risk.TrailingActivationATR)

	assert.Equal(t, 180, cfg.Backtest.TrainWindowDays)
	assert.Equal(t, 30, cfg.Backtest.TestWindowDays)
	assert.Equal(t, 1_000_000.0, cfg.Backtest.InitialBalance)
	assert.Equal(t, 1.5, cfg.Backtest.SpreadPips)
	assert.Equal(t, float64(252*24*12), cfg.Backtest.PeriodsPerYear)

	assert.Equal(t, "regression", cfg.Model.Mode)
	assert.Equal(t, 0.5, cfg.Model.ShapTopPct)
	assert.Equal(t, []string{"M15", "H1", "H4", "D1"}, cfg.Data.HigherTimeframes)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)

	assert.NoError(t, Validate(cfg), "Defaults should validate")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	yaml := `
trading:
  max_positions: 2
  min_prediction_threshold: 0.001
market_filter:
  enabled: true
  session_only: true
model:
  mode: classification
logging:
  topics: [live, tradelog]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Trading.MaxPositions)
	assert.Equal(t, 0.001, cfg.Trading.MinPredictionThreshold)
	assert.True(t, cfg.MarketFilter.Enabled)
	assert.True(t, cfg.MarketFilter.SessionOnly)
	assert.Equal(t, "classification", cfg.Model.Mode)
	assert.Equal(t, []string{"live", "tradelog"}, cfg.Logging.Topics)
	// Untouched keys keep their defaults
	assert.Equal(t, 0.1, cfg.Trading.MaxLot)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("FXBOT_BACKTEST_SPREAD_PIPS", "0.8")
	t.Setenv("OANDA_API_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Backtest.SpreadPips)
	assert.Equal(t, "secret", cfg.Account.APIKey)
}

func TestLoad_RejectsContradictoryLots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading:\n  min_lot: 0.5\n  max_lot: 0.1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "min_lot above max_lot should fail validation")
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	t.Setenv("FXBOT_MODEL_MODE", "ranking")

	_, err := Load("")
	assert.Error(t, err)
}

func TestSettings_PointFor(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.00001, cfg.PointFor("EUR_USD"))
	assert.Equal(t, 0.001, cfg.PointFor("USD_JPY"))
	assert.InDelta(t, 0.00015, cfg.SpreadPrice(cfg.PointFor("EUR_USD")), 1e-12)
}
