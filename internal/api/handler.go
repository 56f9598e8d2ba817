package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/signal"
	"github.com/jwtly10/fxbot/internal/tradelog"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
	monitorCacheKey   = "monitor"
)

type handler struct {
	cfg  *config.Settings
	deps Deps
}

// SignalRequest is the body of POST /api/signals. Point defaults to the symbol's
// point, Confidence to 1 and Regime to trend_up.
type SignalRequest struct {
	Symbol         string   `json:"symbol" binding:"required"`
	Prediction     *float64 `json:"prediction" binding:"required"`
	CurrentPrice   float64  `json:"current_price" binding:"gt=0"`
	ATR            float64  `json:"atr" binding:"gte=0"`
	Balance        float64  `json:"balance" binding:"gt=0"`
	Point          float64  `json:"point" binding:"gte=0"`
	Confidence     *float64 `json:"confidence" binding:"omitempty,gte=0,lte=1"`
	SpreadPips     float64  `json:"spread_pips" binding:"gte=0"`
	CurrentHourUTC *int     `json:"current_hour_utc" binding:"omitempty,gte=0,lte=23"`
	Regime         string   `json:"regime" binding:"omitempty,oneof=trend_up trend_down ranging"`
}

func (h *handler) generateSignal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := signal.Input{
		Symbol:         req.Symbol,
		Prediction:     *req.Prediction,
		CurrentPrice:   req.CurrentPrice,
		ATR:            req.ATR,
		Balance:        req.Balance,
		Point:          req.Point,
		Confidence:     1,
		SpreadPips:     req.SpreadPips,
		CurrentHourUTC: req.CurrentHourUTC,
		Regime:         features.TrendUp,
	}
	if in.Point == 0 {
		in.Point = h.cfg.PointFor(req.Symbol)
	}
	if req.Confidence != nil {
		in.Confidence = *req.Confidence
	}
	if req.Regime != "" {
		in.Regime = features.Regime(req.Regime)
	}

	c.JSON(http.StatusOK, signal.Generate(in, h.cfg))
}

func (h *handler) getMonitor(c *gin.Context) {
	if h.deps.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not configured"})
		return
	}
	ctx := c.Request.Context()

	if h.deps.Cache != nil {
		data, ok, err := h.deps.Cache.Get(ctx, monitorCacheKey)
		if err != nil {
			log.Warn("Cache read failed", "key", monitorCacheKey, "error", err)
		}
		if ok {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", data)
			return
		}
	}

	health, err := h.deps.Monitor.Check(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := json.Marshal(health)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.Set(ctx, monitorCacheKey, data); err != nil {
			log.Warn("Cache write failed", "key", monitorCacheKey, "error", err)
		}
		c.Header("X-Cache", "MISS")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *handler) listModels(c *gin.Context) {
	if h.deps.Models == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model registry not configured"})
		return
	}
	models, err := h.deps.Models.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(models), "data": models})
}

// recentTrades serves GET /api/trades?limit=n&symbol=EUR_USD&symbol=...
func (h *handler) recentTrades(c *gin.Context) {
	if h.deps.Trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade log not configured"})
		return
	}

	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxTradeLimit)
	}

	trades, err := h.deps.Trades.RecentTrades(c.Request.Context(), limit, c.QueryArray("symbol"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trades), "data": trades})
}

// ExitRequest is the body of POST /api/trades/:ticket/exit, sent when the broker
// closes a position. Time defaults to now.
type ExitRequest struct {
	Price  float64    `json:"price" binding:"gt=0"`
	Time   *time.Time `json:"time"`
	Reason string     `json:"reason" binding:"required"`
	PnL    *float64   `json:"pnl" binding:"required"`
}

func (h *handler) closeTrade(c *gin.Context) {
	if h.deps.Trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade log not configured"})
		return
	}
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticket must be an integer"})
		return
	}
	var req ExitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exit := tradelog.Exit{Ticket: ticket, Price: req.Price, Time: time.Now().UTC(), Reason: req.Reason, PnL: *req.PnL}
	if req.Time != nil {
		exit.Time = req.Time.UTC()
	}
	if err := h.deps.Trades.LogExit(c.Request.Context(), exit); err != nil {
		if errors.Is(err, tradelog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open trade with that ticket"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "status": "closed"})
}
