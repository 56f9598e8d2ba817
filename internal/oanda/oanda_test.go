package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/types"
)

const candlesBody = `{
  "instrument": "EUR_USD",
  "granularity": "%s",
  "candles": [
    {"time": "2024-01-02T10:00:00Z", "volume": 120, "complete": true, "mid": {"o": "1.10010", "h": "1.10050", "l": "1.09990", "c": "1.10030"}},
    {"time": "2024-01-02T10:05:00Z", "volume": 80, "complete": true, "mid": {"o": "1.10030", "h": "1.10060", "l": "1.10000", "c": "1.10020"}},
    {"time": "2024-01-02T10:10:00Z", "volume": 10, "complete": false, "mid": {"o": "1.10020", "h": "1.10025", "l": "1.10015", "c": "1.10020"}}
  ]
}`

func testClient(url string) *Client {
	c := NewClient("acc-1", "secret", url)
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestGranularity(t *testing.T) {
	g, err := Granularity(types.D1)
	require.NoError(t, err)
	assert.Equal(t, CandlestickGranularity("D"), g)

	g, err = Granularity(types.H4)
	require.NoError(t, err)
	assert.Equal(t, CandlestickGranularity("H4"), g)

	_, err = Granularity(types.Timeframe("W1"))
	assert.Error(t, err)
}

func TestFetchLatest_ConvertsCompletedCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/acc-1/instruments/EUR_USD/candles", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "M5", r.URL.Query().Get("granularity"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		assert.Empty(t, r.URL.Query().Get("from"))
		fmt.Fprintf(w, candlesBody, "M5")
	}))
	defer srv.Close()

	bars, err := testClient(srv.URL).FetchLatest(context.Background(), "EUR_USD", types.M5, 3)
	require.NoError(t, err)
	require.Len(t, bars, 2, "The forming candle is dropped")

	assert.Equal(t, types.Bar{
		Timestamp: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		Open:      1.1001,
		High:      1.1005,
		Low:       1.0999,
		Close:     1.1003,
		Volume:    120,
	}, bars[0])
}

func TestFetchLatest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"errorMessage":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, candlesBody, "M5")
	}))
	defer srv.Close()

	bars, err := testClient(srv.URL).FetchLatest(context.Background(), "EUR_USD", types.M5, 3)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchLatest_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"errorMessage":"Invalid value specified for 'accountID'"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchLatest(context.Background(), "EUR_USD", types.M5, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchLatest_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.MaxRetries = 2
	_, err := c.FetchLatest(context.Background(), "EUR_USD", types.M5, 3)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchMultiTimeframe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, candlesBody, r.URL.Query().Get("granularity"))
	}))
	defer srv.Close()

	data, err := testClient(srv.URL).FetchMultiTimeframe(context.Background(), "EUR_USD", []types.Timeframe{types.M5, types.H1}, 3)
	require.NoError(t, err)
	assert.Len(t, data, 2)
	assert.Len(t, data[types.H1], 2)
}

func TestFetchBars_WalksRangeInBatches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "true", r.URL.Query().Get("includeFirst"))
		fmt.Fprint(w, `{"candles": []}`)
	}))
	defer srv.Close()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars, err := testClient(srv.URL).FetchBars(context.Background(), CandleRequest{
		Instrument: "EUR_USD",
		Timeframe:  types.H1,
		From:       from,
		To:         from.Add(2 * MaxCandlesPerRequest * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, bars)
	assert.Equal(t, int32(2), calls.Load(), "Empty batches still advance through the range")
}

func TestNewClientFromConfig(t *testing.T) {
	_, err := NewClientFromConfig(config.AccountConfig{})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	c, err := NewClientFromConfig(config.AccountConfig{ID: "a", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseUrl, c.ApiUrl)
}
