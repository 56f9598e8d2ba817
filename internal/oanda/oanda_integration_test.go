//go:build integration

package oanda

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/types"
)

func TestFetchBars_Integration(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug},
	)))

	accountID := os.Getenv("OANDA_ACCOUNT_ID")
	if accountID == "" {
		t.Skip("OANDA_ACCOUNT_ID not set, skipping integration test")
	}

	apiKey := os.Getenv("OANDA_API_KEY")
	if apiKey == "" {
		t.Skip("OANDA_API_KEY not set, skipping integration test")
	}

	client := NewClient(accountID, apiKey, "")

	now := time.Now()
	// A week always spans trading hours, even when run at the weekend
	bars, err := client.FetchBars(context.Background(), CandleRequest{
		Instrument: "GBP_USD",
		Timeframe:  types.H1,
		From:       now.Add(-7 * 24 * time.Hour),
		To:         now,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, bars, "expected at least one bar")

	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Timestamp.After(bars[i-1].Timestamp))
	}

	t.Logf("Fetched %d bars", len(bars))
}
