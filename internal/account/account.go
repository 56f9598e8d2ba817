package account

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jwtly10/fxbot/internal/risk"
	"github.com/jwtly10/fxbot/internal/types"
)

type ExitReason string

const (
	ExitStopLoss   ExitReason = "sl"
	ExitTakeProfit ExitReason = "tp"
	ExitTrailing   ExitReason = "trailing"
	ExitEnd        ExitReason = "end"
)

// Config holds the execution costs and trailing rule the account applies to
// every position. Spread is in price units.
type Config struct {
	Spread                float64
	TrailingActivationATR float64
	TrailingATRMultiplier float64
}

type Account struct {
	Balance        float64
	cfg            Config
	openPositions  []*Position
	nextPositionID int
}

type Position struct {
	ID         int
	EntryTime  time.Time
	Side       types.Side
	EntryPrice float64
	Lot        float64
	SL         float64
	TP         float64
	// Trailing is nil until the position first reaches its activation distance.
	Trailing *float64
}

type Trade struct {
	ID         int        `json:"id" yaml:"id"`
	EntryTime  time.Time  `json:"entry_time" yaml:"entry_time"`
	ExitTime   time.Time  `json:"exit_time" yaml:"exit_time"`
	Side       types.Side `json:"side" yaml:"side"`
	EntryPrice float64    `json:"entry_price" yaml:"entry_price"`
	ExitPrice  float64    `json:"exit_price" yaml:"exit_price"`
	Lot        float64    `json:"lot" yaml:"lot"`
	SL         float64    `json:"sl" yaml:"sl"`
	TP         float64    `json:"tp" yaml:"tp"`
	PnL        float64    `json:"pnl" yaml:"pnl"`
	ExitReason ExitReason `json:"exit_reason" yaml:"exit_reason"`
}

func (t Trade) String() string {
	return fmt.Sprintf("#%d | %s | Entry: %.5f @ %s | Exit: %.5f @ %s | Lot: %.2f | P&L: %.2f | %s",
		t.ID,
		t.Side,
		t.EntryPrice,
		t.EntryTime.Format("2006-01-02 15:04"),
		t.ExitPrice,
		t.ExitTime.Format("2006-01-02 15:04"),
		t.Lot,
		t.PnL,
		t.ExitReason,
	)
}

func NewAccount(initialBalance float64, cfg Config) *Account {
	return &Account{
		Balance:        initialBalance,
		cfg:            cfg,
		openPositions:  []*Position{},
		nextPositionID: 1,
	}
}

func (a *Account) OpenPosition(side types.Side, entryPrice, lot, sl, tp float64, timestamp time.Time) *Position {
	slog.Debug("Opening position", "side", side, "id", a.nextPositionID, "price", entryPrice, "lot", lot, "tp", tp, "sl", sl, "timestamp", timestamp)

	pos := &Position{
		ID:         a.nextPositionID,
		EntryTime:  timestamp,
		Side:       side,
		EntryPrice: entryPrice,
		Lot:        lot,
		SL:         sl,
		TP:         tp,
	}

	a.nextPositionID++
	a.openPositions = append(a.openPositions, pos)

	return pos
}

// CheckExits tests every open position against the bar. Stop loss wins over take
// profit, which wins over the trailing stop. The trailing stop is only tightened
// on bars where neither fixed level was hit. Survivors keep their order.
func (a *Account) CheckExits(bar types.Bar, atr float64) []Trade {
	var closedTrades []Trade
	remainingPositions := []*Position{}

	levels := risk.StopLevels{
		TrailingActivation: atr * a.cfg.TrailingActivationATR,
		TrailingDistance:   atr * a.cfg.TrailingATRMultiplier,
	}

	for _, pos := range a.openPositions {
		exitPrice, reason, closed := a.exitFor(pos, bar, levels)
		if closed {
			closedTrades = append(closedTrades, a.closePosition(pos, exitPrice, bar.Timestamp, reason))
		} else {
			remainingPositions = append(remainingPositions, pos)
		}
	}

	a.openPositions = remainingPositions
	return closedTrades
}

func (a *Account) exitFor(pos *Position, bar types.Bar, levels risk.StopLevels) (float64, ExitReason, bool) {
	if pos.Side == types.Long {
		if bar.Low <= pos.SL {
			slog.Debug("Stop loss hit", "position_id", pos.ID, "stop_loss", pos.SL, "bar_low", bar.Low, "timestamp", bar.Timestamp)
			return pos.SL, ExitStopLoss, true
		}
		if bar.High >= pos.TP {
			slog.Debug("Take profit hit", "position_id", pos.ID, "take_profit", pos.TP, "bar_high", bar.High, "timestamp", bar.Timestamp)
			return pos.TP, ExitTakeProfit, true
		}
		a.trail(pos, bar.High, levels)
		if pos.Trailing != nil && bar.Low <= *pos.Trailing {
			slog.Debug("Trailing stop hit", "position_id", pos.ID, "trailing", *pos.Trailing, "bar_low", bar.Low, "timestamp", bar.Timestamp)
			return *pos.Trailing, ExitTrailing, true
		}
		return 0, "", false
	}

	if bar.High >= pos.SL {
		slog.Debug("Stop loss hit", "position_id", pos.ID, "stop_loss", pos.SL, "bar_high", bar.High, "timestamp", bar.Timestamp)
		return pos.SL, ExitStopLoss, true
	}
	if bar.Low <= pos.TP {
		slog.Debug("Take profit hit", "position_id", pos.ID, "take_profit", pos.TP, "bar_low", bar.Low, "timestamp", bar.Timestamp)
		return pos.TP, ExitTakeProfit, true
	}
	a.trail(pos, bar.Low, levels)
	if pos.Trailing != nil && bar.High >= *pos.Trailing {
		slog.Debug("Trailing stop hit", "position_id", pos.ID, "trailing", *pos.Trailing, "bar_high", bar.High, "timestamp", bar.Timestamp)
		return *pos.Trailing, ExitTrailing, true
	}
	return 0, "", false
}

// trail moves the trailing stop using the bar's favourable extreme.
func (a *Account) trail(pos *Position, extreme float64, levels risk.StopLevels) {
	current := math.Inf(-1)
	if pos.Side == types.Short {
		current = math.Inf(1)
	}
	if pos.Trailing != nil {
		current = *pos.Trailing
	}
	if next, ok := risk.UpdateTrailingStop(pos.Side, extreme, pos.EntryPrice, current, levels); ok {
		pos.Trailing = &next
	}
}

// PnL is the spread-adjusted profit of closing lot at exitPrice.
func (a *Account) PnL(side types.Side, entryPrice, exitPrice, lot float64) float64 {
	move := (exitPrice - entryPrice) * side.Sign()
	return (move - a.cfg.Spread) * lot * types.ContractSize
}

func (a *Account) closePosition(pos *Position, exitPrice float64, exitTime time.Time, reason ExitReason) Trade {
	pnl := a.PnL(pos.Side, pos.EntryPrice, exitPrice, pos.Lot)
	a.Balance += pnl

	slog.Debug("Closed position", "id", pos.ID, "side", pos.Side, "exit_price", exitPrice, "stop_loss", pos.SL, "take_profit", pos.TP, "pnl", pnl, "reason", reason, "timestamp", exitTime)

	return Trade{
		ID:         pos.ID,
		EntryTime:  pos.EntryTime,
		ExitTime:   exitTime,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Lot:        pos.Lot,
		SL:         pos.SL,
		TP:         pos.TP,
		PnL:        pnl,
		ExitReason: reason,
	}
}

// CloseAll force closes every open position at the bar's close.
func (a *Account) CloseAll(lastBar types.Bar) []Trade {
	var trades []Trade

	for _, pos := range a.openPositions {
		trade := a.closePosition(pos, lastBar.Close, lastBar.Timestamp, ExitEnd)
		trades = append(trades, trade)
	}

	a.openPositions = []*Position{}
	return trades
}

// Unrealized marks every open position to price, without the spread.
func (a *Account) Unrealized(price float64) float64 {
	var total float64
	for _, pos := range a.openPositions {
		total += (price - pos.EntryPrice) * pos.Side.Sign() * pos.Lot * types.ContractSize
	}
	return total
}

func (a *Account) Equity(price float64) float64 {
	return a.Balance + a.Unrealized(price)
}

func (a *Account) OpenPositions() []*Position {
	return a.openPositions
}

func (a *Account) PositionCount() int {
	return len(a.openPositions)
}
