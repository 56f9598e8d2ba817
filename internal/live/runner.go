package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jwtly10/fxbot/internal/account"
	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/events"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/model"
	"github.com/jwtly10/fxbot/internal/monitor"
	"github.com/jwtly10/fxbot/internal/registry"
	"github.com/jwtly10/fxbot/internal/risk"
	"github.com/jwtly10/fxbot/internal/signal"
	"github.com/jwtly10/fxbot/internal/tradelog"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("live")

const (
	// boundaryDelay gives the broker time to close the candle before it is fetched.
	boundaryDelay = 5 * time.Second
	stepTimeout   = 2 * time.Minute
)

// BarSource returns the recent bars of every configured timeframe for a symbol.
type BarSource interface {
	Bars(ctx context.Context, symbol string) (features.MultiTimeframe, error)
}

// ModelSource returns the model to trade a symbol with and its version.
type ModelSource interface {
	Model(ctx context.Context, symbol string) (model.Model, string, error)
}

type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// StaticBalance sizes every signal against a fixed balance.
type StaticBalance float64

func (b StaticBalance) Balance(context.Context) (float64, error) {
	return float64(b), nil
}

// LedgerBalance is the initial balance plus the realized P&L of every closed
// trade in the log.
type LedgerBalance struct {
	Trades  tradelog.Store
	Initial float64
}

func (b LedgerBalance) Balance(ctx context.Context) (float64, error) {
	pnl, err := tradelog.RealizedPnL(ctx, b.Trades)
	if err != nil {
		return 0, err
	}
	return b.Initial + pnl, nil
}

// RegistryModels loads the newest registry model per symbol once and keeps it
// until Reset.
type RegistryModels struct {
	reg       *registry.Registry
	timeframe string

	mu     sync.Mutex
	loaded map[string]loadedModel
}

type loadedModel struct {
	model   model.Model
	version string
}

func NewRegistryModels(reg *registry.Registry, timeframe string) *RegistryModels {
	return &RegistryModels{reg: reg, timeframe: timeframe, loaded: map[string]loadedModel{}}
}

func (r *RegistryModels) Model(ctx context.Context, symbol string) (model.Model, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.loaded[symbol]; ok {
		return m.model, m.version, nil
	}
	meta, err := r.reg.FindLatest(ctx, symbol, r.timeframe)
	if err != nil {
		return nil, "", err
	}
	b, _, err := r.reg.Load(ctx, meta.Name)
	if err != nil {
		return nil, "", err
	}
	r.loaded[symbol] = loadedModel{model: b, version: meta.Name}
	log.Info("Loaded model", "symbol", symbol, "version", meta.Name)
	return b, meta.Name, nil
}

// Reset forgets loaded models so the next step picks up newly trained ones.
func (r *RegistryModels) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = map[string]loadedModel{}
}

// Runner evaluates the latest bar of every symbol on each base timeframe boundary.
// It publishes signals and stop updates, it never places orders itself. Stops
// and exits live in the trade log, so a restarted runner picks up where the
// last one stopped.
type Runner struct {
	cfg       *config.Settings
	bars      BarSource
	models    ModelSource
	balance   BalanceSource
	publisher events.Publisher
	trades    tradelog.Store
	monitor   *monitor.Monitor

	// OnRetrain is called when the monitor asks for a retrain.
	OnRetrain   func(ctx context.Context) error
	lastTrained time.Time

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time

	lastTicket int64
}

func NewRunner(cfg *config.Settings, bars BarSource, models ModelSource, balance BalanceSource,
	publisher events.Publisher, trades tradelog.Store, mon *monitor.Monitor) *Runner {
	return &Runner{
		cfg:         cfg,
		bars:        bars,
		models:      models,
		balance:     balance,
		publisher:   publisher,
		trades:      trades,
		monitor:     mon,
		lastTrained: time.Now(),
		now:         time.Now,
		after:       time.After,
	}
}

// SetLastTrained records when the traded models were built.
func (r *Runner) SetLastTrained(t time.Time) {
	r.lastTrained = t
}

// NextBoundary returns the first multiple of period after now.
func NextBoundary(now time.Time, period time.Duration) time.Time {
	return now.Truncate(period).Add(period)
}

// Run waits for every base timeframe boundary and runs one step. Cancelling ctx
// stops the loop between steps. A step already running completes on a context
// detached from ctx, bounded by the step timeout.
func (r *Runner) Run(ctx context.Context) error {
	period, err := types.Timeframe(r.cfg.Data.BaseTimeframe).Duration()
	if err != nil {
		return err
	}

	log.Info("Live runner started", "symbols", r.cfg.Data.Symbols, "timeframe", r.cfg.Data.BaseTimeframe)
	for {
		next := NextBoundary(r.now(), period).Add(boundaryDelay)
		select {
		case <-ctx.Done():
			log.Info("Live runner stopped")
			return nil
		case <-r.after(next.Sub(r.now())):
		}

		stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stepTimeout)
		if err := r.Step(stepCtx); err != nil {
			log.Error("Live step failed", "error", err)
		}
		cancel()
	}
}

// Step evaluates every symbol once, then checks model health. One failing symbol
// does not stop the others.
func (r *Runner) Step(ctx context.Context) error {
	var errs []error
	for _, symbol := range r.cfg.Data.Symbols {
		if err := r.stepSymbol(ctx, symbol); err != nil {
			log.Warn("Symbol step failed", "symbol", symbol, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}

	if err := r.checkHealth(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runner) stepSymbol(ctx context.Context, symbol string) error {
	cfg := r.cfg
	data, err := r.bars.Bars(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	fm, err := features.Build(data, types.Timeframe(cfg.Data.BaseTimeframe))
	if err != nil {
		return fmt.Errorf("build features: %w", err)
	}
	if fm.Len() == 0 {
		log.Warn("No complete feature rows", "symbol", symbol)
		return nil
	}

	m, version, err := r.models.Model(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	pred, err := model.NewPredictor(m).Latest(fm)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	last := fm.Bar(fm.Len() - 1)
	atr := last.Close * 0.001
	if col, ok := fm.Column(features.ColATR); ok && !math.IsNaN(col[fm.Len()-1]) {
		atr = col[fm.Len()-1]
	}

	balance, err := r.balance.Balance(ctx)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	hour := r.now().UTC().Hour()
	sig := signal.Generate(signal.Input{
		Symbol:         symbol,
		Prediction:     pred.Effective(),
		CurrentPrice:   last.Close,
		ATR:            atr,
		Balance:        balance,
		Point:          cfg.PointFor(symbol),
		Confidence:     pred.Confidence,
		SpreadPips:     cfg.Backtest.SpreadPips,
		CurrentHourUTC: &hour,
		Regime:         features.LatestRegime(fm, cfg.MarketFilter.MinADX),
	}, cfg)

	open, err := r.trades.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("read open trades: %w", err)
	}
	if open, err = r.closeHit(ctx, symbol, open, last); err != nil {
		return err
	}

	if err := r.trail(ctx, symbol, open, last.Close, atr); err != nil {
		return err
	}

	side, ok := sig.Side()
	if !ok {
		log.Debug("Holding", "symbol", symbol, "reason", sig.Reason, "prediction", sig.Prediction)
		return nil
	}
	if !risk.CanOpenPosition(positions(open), symbol, cfg.Trading.MaxPositions) {
		log.Info("Portfolio full, signal dropped", "symbol", symbol, "action", sig.Action)
		return nil
	}

	if err := r.publisher.PublishSignal(ctx, events.SignalEvent{
		Signal:       sig,
		Price:        last.Close,
		BarTime:      last.Timestamp,
		ModelVersion: version,
	}); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}

	_, err = r.trades.LogEntry(ctx, tradelog.Entry{
		Timestamp:    r.now().UTC(),
		Symbol:       symbol,
		Direction:    side,
		EntryPrice:   last.Close,
		SL:           sig.SL,
		TP:           sig.TP,
		Lot:          sig.Lot,
		Prediction:   sig.Prediction,
		Confidence:   pred.Confidence,
		ATR:          atr,
		Balance:      balance,
		Ticket:       r.nextTicket(),
		ModelVersion: version,
	})
	if err != nil {
		return fmt.Errorf("log entry: %w", err)
	}

	log.Info("Signal published", "symbol", symbol, "action", sig.Action, "lot", sig.Lot, "sl", sig.SL, "tp", sig.TP)
	return nil
}

// closeHit records the exit of every open trade of symbol whose stop loss or take
// profit the bar reached, stop loss first. Trades opened after the bar closed are
// left alone. It returns the trades still open.
func (r *Runner) closeHit(ctx context.Context, symbol string, open []tradelog.Entry, bar types.Bar) ([]tradelog.Entry, error) {
	period, err := types.Timeframe(r.cfg.Data.BaseTimeframe).Duration()
	if err != nil {
		return nil, err
	}
	barClose := bar.Timestamp.Add(period)
	acct := account.NewAccount(0, account.Config{Spread: r.cfg.SpreadPrice(r.cfg.PointFor(symbol))})

	remaining := open[:0:0]
	for _, e := range open {
		if e.Symbol != symbol || e.Timestamp.After(barClose) {
			remaining = append(remaining, e)
			continue
		}
		price, reason, hit := exitFor(e, bar)
		if !hit {
			remaining = append(remaining, e)
			continue
		}

		pnl := acct.PnL(e.Direction, e.EntryPrice, price, e.Lot)
		err := r.trades.LogExit(ctx, tradelog.Exit{
			Ticket: e.Ticket,
			Price:  price,
			Time:   barClose,
			Reason: string(reason),
			PnL:    pnl,
		})
		if err != nil {
			return nil, fmt.Errorf("log exit: %w", err)
		}
		log.Info("Trade closed", "symbol", symbol, "ticket", e.Ticket, "reason", reason, "price", price, "pnl", pnl)
	}
	return remaining, nil
}

// exitFor reports the level a bar hit. Unset levels are zero and never hit.
func exitFor(e tradelog.Entry, bar types.Bar) (float64, account.ExitReason, bool) {
	if e.Direction == types.Long {
		if e.SL > 0 && bar.Low <= e.SL {
			return e.SL, account.ExitStopLoss, true
		}
		if e.TP > 0 && bar.High >= e.TP {
			return e.TP, account.ExitTakeProfit, true
		}
		return 0, "", false
	}
	if e.SL > 0 && bar.High >= e.SL {
		return e.SL, account.ExitStopLoss, true
	}
	if e.TP > 0 && bar.Low <= e.TP {
		return e.TP, account.ExitTakeProfit, true
	}
	return 0, "", false
}

// trail proposes a tighter stop for every open trade of symbol that has moved far
// enough in its favour and records it in the trade log.
func (r *Runner) trail(ctx context.Context, symbol string, open []tradelog.Entry, price, atr float64) error {
	levels := risk.StopLevels{
		TrailingActivation: atr * r.cfg.Risk.TrailingActivationATR,
		TrailingDistance:   atr * r.cfg.Risk.TrailingATRMultiplier,
	}

	for _, e := range open {
		if e.Symbol != symbol {
			continue
		}
		current := e.SL
		next, moved := risk.UpdateTrailingStop(e.Direction, price, e.EntryPrice, current, levels)
		if !moved {
			continue
		}

		err := r.publisher.PublishStopUpdate(ctx, events.StopUpdate{
			Ticket:   e.Ticket,
			Symbol:   symbol,
			Side:     e.Direction,
			StopLoss: next,
			Previous: current,
		})
		if err != nil {
			return fmt.Errorf("publish stop update: %w", err)
		}
		if err := r.trades.UpdateStop(ctx, e.Ticket, next); err != nil {
			return fmt.Errorf("record stop update: %w", err)
		}
		log.Info("Trailing stop moved", "symbol", symbol, "ticket", e.Ticket, "from", current, "to", next)
	}
	return nil
}

func (r *Runner) checkHealth(ctx context.Context) error {
	if r.monitor == nil {
		return nil
	}
	due, err := r.monitor.ShouldRetrain(ctx, r.lastTrained, r.now())
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if !due {
		return nil
	}

	log.Warn("Retraining due", "last_trained", r.lastTrained)
	if r.OnRetrain == nil {
		return nil
	}
	if err := r.OnRetrain(ctx); err != nil {
		return fmt.Errorf("retrain: %w", err)
	}
	r.lastTrained = r.now()
	return nil
}

// nextTicket hands out client tickets that increase even when the clock does not.
func (r *Runner) nextTicket() int64 {
	t := r.now().UnixNano()
	if t <= r.lastTicket {
		t = r.lastTicket + 1
	}
	r.lastTicket = t
	return t
}

func positions(entries []tradelog.Entry) []risk.OpenPosition {
	out := make([]risk.OpenPosition, len(entries))
	for i, e := range entries {
		out[i] = risk.OpenPosition{Ticket: strconv.FormatInt(e.Ticket, 10), Symbol: e.Symbol, Lot: e.Lot}
	}
	return out
}
