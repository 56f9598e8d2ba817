package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/monitor"
	"github.com/jwtly10/fxbot/internal/registry"
	"github.com/jwtly10/fxbot/internal/signal"
	"github.com/jwtly10/fxbot/internal/tradelog"
	"github.com/jwtly10/fxbot/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryCache struct {
	data map[string][]byte
	sets int
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	m.sets++
	return nil
}

type countingMonitor struct {
	health monitor.Health
	err    error
	calls  int
}

func (m *countingMonitor) Check(context.Context) (monitor.Health, error) {
	m.calls++
	return m.health, m.err
}

type staticModels []registry.Metadata

func (s staticModels) List(context.Context) ([]registry.Metadata, error) {
	return s, nil
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, NewServer(config.Default(), Deps{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGenerateSignal(t *testing.T) {
	s := NewServer(config.Default(), Deps{})

	w := do(t, s, http.MethodPost, "/api/signals", map[string]any{
		"symbol":        "EUR_USD",
		"prediction":    0.002,
		"current_price": 1.1,
		"atr":           0.001,
		"balance":       10000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sig signal.TradeSignal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, signal.Buy, sig.Action)
	assert.Equal(t, "EUR_USD", sig.Symbol)
	// prediction 0.002 tightens the 2 ATR stop by 10%
	assert.InDelta(t, 1.1-0.0018, sig.SL, 1e-9)
	assert.Greater(t, sig.Lot, 0.0)
}

func TestGenerateSignal_HoldsOnLowConfidence(t *testing.T) {
	cfg := config.Default()
	cfg.Trading.MinConfidence = 0.6
	s := NewServer(cfg, Deps{})

	w := do(t, s, http.MethodPost, "/api/signals", map[string]any{
		"symbol":        "EUR_USD",
		"prediction":    0.002,
		"current_price": 1.1,
		"atr":           0.001,
		"balance":       10000,
		"confidence":    0.5,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var sig signal.TradeSignal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sig))
	assert.Equal(t, signal.Hold, sig.Action)
	assert.Equal(t, "confidence", sig.Reason)
}

func TestGenerateSignal_RejectsBadBody(t *testing.T) {
	s := NewServer(config.Default(), Deps{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing symbol", map[string]any{"prediction": 0.001, "current_price": 1.1, "balance": 100}},
		{"missing prediction", map[string]any{"symbol": "EUR_USD", "current_price": 1.1, "balance": 100}},
		{"zero price", map[string]any{"symbol": "EUR_USD", "prediction": 0.001, "balance": 100}},
		{"bad hour", map[string]any{"symbol": "EUR_USD", "prediction": 0.001, "current_price": 1.1, "balance": 100, "current_hour_utc": 24}},
		{"bad regime", map[string]any{"symbol": "EUR_USD", "prediction": 0.001, "current_price": 1.1, "balance": 100, "regime": "sideways"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/signals", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestMonitor_CachesHealth(t *testing.T) {
	mon := &countingMonitor{health: monitor.Health{Healthy: true, Warnings: []string{}, Metrics: tradelog.RollingMetrics{Count: 3}}}
	cache := &memoryCache{data: map[string][]byte{}}
	s := NewServer(config.Default(), Deps{Monitor: mon, Cache: cache})

	first := do(t, s, http.MethodGet, "/api/monitor", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := do(t, s, http.MethodGet, "/api/monitor", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	assert.Equal(t, 1, mon.calls)
	assert.Equal(t, 1, cache.sets)

	var h monitor.Health
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &h))
	assert.True(t, h.Healthy)
	assert.Equal(t, 3, h.Metrics.Count)
}

func TestMonitor_Errors(t *testing.T) {
	w := do(t, NewServer(config.Default(), Deps{}), http.MethodGet, "/api/monitor", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	mon := &countingMonitor{err: errors.New("db down")}
	w = do(t, NewServer(config.Default(), Deps{Monitor: mon}), http.MethodGet, "/api/monitor", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestListModels(t *testing.T) {
	models := staticModels{{Name: "EUR_USD_M5_20240101_000000", Symbol: "EUR_USD"}}
	w := do(t, NewServer(config.Default(), Deps{Models: models}), http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count int                 `json:"count"`
		Data  []registry.Metadata `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "EUR_USD_M5_20240101_000000", body.Data[0].Name)
}

func TestRecentTrades(t *testing.T) {
	store := tradelog.NewMemoryStore()
	ctx := context.Background()
	for i, symbol := range []string{"EUR_USD", "GBP_USD", "EUR_USD", "USD_JPY"} {
		_, err := store.LogEntry(ctx, tradelog.Entry{Symbol: symbol, Direction: types.Long, Ticket: int64(i + 1)})
		require.NoError(t, err)
	}
	s := NewServer(config.Default(), Deps{Trades: store})

	var body struct {
		Count int              `json:"count"`
		Data  []tradelog.Entry `json:"data"`
	}

	w := do(t, s, http.MethodGet, "/api/trades?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, int64(4), body.Data[0].Ticket)

	w = do(t, s, http.MethodGet, "/api/trades?symbol=EUR_USD&symbol=USD_JPY", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)

	w = do(t, s, http.MethodGet, "/api/trades?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloseTrade(t *testing.T) {
	store := tradelog.NewMemoryStore()
	ctx := context.Background()
	_, err := store.LogEntry(ctx, tradelog.Entry{Symbol: "EUR_USD", Direction: types.Long, EntryPrice: 1.1, Lot: 0.1, Ticket: 42})
	require.NoError(t, err)
	s := NewServer(config.Default(), Deps{Trades: store})

	w := do(t, s, http.MethodPost, "/api/trades/42/exit", map[string]any{
		"price":  1.102,
		"time":   "2024-03-04T11:00:00Z",
		"reason": "tp",
		"pnl":    20,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.False(t, all[0].Open())
	assert.Equal(t, 1.102, *all[0].ExitPrice)
	assert.Equal(t, "tp", *all[0].ExitReason)
	assert.Equal(t, 20.0, *all[0].PnL)

	m, err := store.RollingMetrics(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count)

	w = do(t, s, http.MethodPost, "/api/trades/42/exit", map[string]any{"price": 1.1, "reason": "sl", "pnl": -5})
	assert.Equal(t, http.StatusNotFound, w.Code, "A closed trade cannot be closed again")
}

func TestCloseTrade_RejectsBadRequests(t *testing.T) {
	s := NewServer(config.Default(), Deps{Trades: tradelog.NewMemoryStore()})

	tests := []struct {
		name   string
		target string
		body   map[string]any
	}{
		{"bad ticket", "/api/trades/abc/exit", map[string]any{"price": 1.1, "reason": "sl", "pnl": -5}},
		{"missing pnl", "/api/trades/1/exit", map[string]any{"price": 1.1, "reason": "sl"}},
		{"missing reason", "/api/trades/1/exit", map[string]any{"price": 1.1, "pnl": -5}},
		{"zero price", "/api/trades/1/exit", map[string]any{"reason": "sl", "pnl": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	w := do(t, NewServer(config.Default(), Deps{}), http.MethodPost, "/api/trades/1/exit", map[string]any{"price": 1.1, "reason": "sl", "pnl": -5})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
