package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/types"
)

func TestPerSymbol(t *testing.T) {
	assert.Equal(t, "reports/wfo.yaml", perSymbol("reports/wfo.yaml", "EUR_USD", 1))
	assert.Equal(t, "reports/wfo_EUR_USD.yaml", perSymbol("reports/wfo.yaml", "EUR_USD", 2))
	assert.Equal(t, "trades_GBP_USD", perSymbol("trades", "GBP_USD", 3))
}

func TestTimeframes(t *testing.T) {
	cfg := config.Default()
	cfg.Data.HigherTimeframes = []string{"H1", "D1"}

	tfs, err := timeframes(cfg)
	require.NoError(t, err)
	assert.Equal(t, []types.Timeframe{types.M5, types.H1, types.D1}, tfs)

	cfg.Data.HigherTimeframes = []string{"W1"}
	_, err = timeframes(cfg)
	assert.Error(t, err)
}
