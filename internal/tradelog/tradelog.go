package tradelog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("tradelog")

var ErrNotFound = errors.New("no open trade for ticket")

// Entry is one logged trade. The exit fields stay nil until the position closes.
type Entry struct {
	ID           int64      `db:"id" json:"id"`
	Timestamp    time.Time  `db:"timestamp" json:"timestamp"`
	Symbol       string     `db:"symbol" json:"symbol"`
	Direction    types.Side `db:"direction" json:"direction"`
	EntryPrice   float64    `db:"entry_price" json:"entry_price"`
	SL           float64    `db:"sl" json:"sl"`
	TP           float64    `db:"tp" json:"tp"`
	Lot          float64    `db:"lot" json:"lot"`
	Prediction   float64    `db:"prediction" json:"prediction"`
	Confidence   float64    `db:"confidence" json:"confidence"`
	ATR          float64    `db:"atr" json:"atr"`
	Balance      float64    `db:"balance" json:"balance"`
	ExitPrice    *float64   `db:"exit_price" json:"exit_price,omitempty"`
	ExitTime     *time.Time `db:"exit_time" json:"exit_time,omitempty"`
	ExitReason   *string    `db:"exit_reason" json:"exit_reason,omitempty"`
	PnL          *float64   `db:"pnl" json:"pnl,omitempty"`
	Ticket       int64      `db:"ticket" json:"ticket"`
	ModelVersion string     `db:"model_version" json:"model_version"`
}

func (e Entry) Open() bool {
	return e.ExitPrice == nil
}

type Exit struct {
	Ticket int64
	Price  float64
	Time   time.Time
	Reason string
	PnL    float64
}

type RollingMetrics struct {
	Count    int     `json:"count"`
	WinRate  float64 `json:"win_rate"`
	AvgPnL   float64 `json:"avg_pnl"`
	TotalPnL float64 `json:"total_pnl"`
	Sharpe   float64 `json:"sharpe"`
}

// Store is an append-only trade log. An entry is mutated only while it is open,
// when its stop moves, and once when its exit is recorded.
type Store interface {
	LogEntry(ctx context.Context, e Entry) (int64, error)
	// UpdateStop records a moved stop loss on the open entry with the given ticket,
	// or returns ErrNotFound.
	UpdateStop(ctx context.Context, ticket int64, sl float64) error
	// LogExit fills the exit of the open entry with the given ticket, or returns ErrNotFound.
	LogExit(ctx context.Context, x Exit) error
	OpenTrades(ctx context.Context) ([]Entry, error)
	// RecentTrades returns the newest entries first. An empty symbols slice matches all symbols.
	RecentTrades(ctx context.Context, limit int, symbols []string) ([]Entry, error)
	All(ctx context.Context) ([]Entry, error)
	// RollingMetrics summarises the P&L of the last window closed trades.
	RollingMetrics(ctx context.Context, window int) (RollingMetrics, error)
	Close() error
}

// Rolling computes the rolling metrics of closed trade P&Ls. Sharpe here is the
// per trade mean over the population standard deviation, not annualised.
func Rolling(pnls []float64) RollingMetrics {
	if len(pnls) == 0 {
		return RollingMetrics{}
	}

	var total float64
	wins := 0
	for _, p := range pnls {
		total += p
		if p > 0 {
			wins++
		}
	}
	n := float64(len(pnls))
	mean := total / n

	var ss float64
	for _, p := range pnls {
		ss += (p - mean) * (p - mean)
	}
	std := math.Sqrt(ss / n)

	m := RollingMetrics{
		Count:    len(pnls),
		WinRate:  float64(wins) / n,
		AvgPnL:   mean,
		TotalPnL: total,
	}
	if std > 0 {
		m.Sharpe = mean / std
	}
	return m
}

// RealizedPnL sums the P&L of every closed trade in the log.
func RealizedPnL(ctx context.Context, s Store) (float64, error) {
	entries, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range entries {
		if e.PnL != nil {
			total += *e.PnL
		}
	}
	return total, nil
}

// Open returns the configured trade log backend.
func Open(ctx context.Context, cfg config.TradeLoggingConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "", "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown trade log driver: %s", cfg.Driver)
}
