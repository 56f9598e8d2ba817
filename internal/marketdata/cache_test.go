package marketdata

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/types"
)

func bars(start time.Time, closes ...float64) []types.Bar {
	out := make([]types.Bar, len(closes))
	for i, c := range closes {
		out[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c,
			High:      c + 0.0005,
			Low:       c - 0.0005,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

var start = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func TestCache_SaveAndLoad(t *testing.T) {
	c := NewCache(t.TempDir())
	want := bars(start, 1.1, 1.1002, 1.0999)

	require.NoError(t, c.Save("EUR_USD", types.M5, want))
	assert.True(t, strings.HasSuffix(c.Path("EUR_USD", types.M5), "EUR_USD_M5.csv"))

	got, err := c.Load("EUR_USD", types.M5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCache_LoadMissingIsEmpty(t *testing.T) {
	got, err := NewCache(t.TempDir()).Load("EUR_USD", types.H1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadCSV_RejectsBadRows(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("datetime,open,high,low,close,volume\n2024-02-01T00:00:00Z,1.1,x,1,1,1\n"))
	assert.ErrorContains(t, err, "invalid high value")

	_, err = ReadCSV(strings.NewReader("datetime,open,high,low,close,volume\n2024-02-01T00:00:00Z,1.1\n"))
	assert.Error(t, err)
}

func TestMerge_FreshBarsWin(t *testing.T) {
	cached := bars(start, 1.1, 1.2, 1.3)
	fresh := bars(start.Add(10*time.Minute), 1.35, 1.4)

	merged := Merge(cached, fresh)
	require.Len(t, merged, 4)
	assert.Equal(t, 1.35, merged[2].Close, "Overlapping bar is replaced")
	assert.Equal(t, 1.4, merged[3].Close)
	for i := 1; i < len(merged); i++ {
		assert.True(t, merged[i].Timestamp.After(merged[i-1].Timestamp))
	}
}

func TestFetchAndCache(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)
	require.NoError(t, c.Save("EUR_USD", types.M5, bars(start, 1.1, 1.2)))

	fetch := func(_ context.Context, symbol string, tf types.Timeframe, count int) ([]types.Bar, error) {
		assert.Equal(t, "EUR_USD", symbol)
		assert.Equal(t, types.M5, tf)
		assert.Equal(t, 500, count)
		return bars(start.Add(5*time.Minute), 1.25, 1.3), nil
	}

	got, err := c.FetchAndCache(context.Background(), fetch, "EUR_USD", types.M5, 500)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	reloaded, err := c.Load("EUR_USD", types.M5)
	require.NoError(t, err)
	assert.Equal(t, got, reloaded)

	_, err = os.Stat(c.Path("EUR_USD", types.M5) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchAndCache_EmptyFetchKeepsCache(t *testing.T) {
	c := NewCache(t.TempDir())
	require.NoError(t, c.Save("EUR_USD", types.M5, bars(start, 1.1)))

	got, err := c.FetchAndCache(context.Background(), func(context.Context, string, types.Timeframe, int) ([]types.Bar, error) {
		return nil, nil
	}, "EUR_USD", types.M5, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = c.FetchAndCache(context.Background(), func(context.Context, string, types.Timeframe, int) ([]types.Bar, error) {
		return nil, errors.New("offline")
	}, "EUR_USD", types.M5, 10)
	assert.ErrorContains(t, err, "offline")
}

func TestLoadMulti_SkipsMissingTimeframes(t *testing.T) {
	c := NewCache(t.TempDir())
	require.NoError(t, c.Save("EUR_USD", types.M5, bars(start, 1.1, 1.2)))

	data, err := c.LoadMulti("EUR_USD", []types.Timeframe{types.M5, types.H1})
	require.NoError(t, err)
	assert.Len(t, data, 1)
	assert.Len(t, data[types.M5], 2)
}
