//go:build integration

package tradelog

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("FXBOT_TEST_DSN")
	if dsn == "" {
		t.Skip("FXBOT_TEST_DSN not set")
	}
	ctx := context.Background()

	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.ExecContext(ctx, `TRUNCATE trades RESTART IDENTITY`)
	require.NoError(t, err)

	for i, sym := range []string{"EUR_USD", "GBP_USD", "EUR_USD"} {
		_, err := s.LogEntry(ctx, entry(sym, int64(i+1)))
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateStop(ctx, 1, 1.0995))
	closeTrade(t, s, 1, 40)
	closeTrade(t, s, 2, -10)
	assert.ErrorIs(t, s.UpdateStop(ctx, 1, 1.1), ErrNotFound)
	assert.ErrorIs(t, s.LogExit(ctx, Exit{Ticket: 1}), ErrNotFound)

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(3), open[0].Ticket)

	eur, err := s.RecentTrades(ctx, 10, []string{"EUR_USD"})
	require.NoError(t, err)
	require.Len(t, eur, 2)
	assert.Equal(t, int64(3), eur[0].Ticket)

	pnl, err := RealizedPnL(ctx, s)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, pnl, 1e-9)

	m, err := s.RollingMetrics(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, Rolling([]float64{-10, 40}), m)
}
