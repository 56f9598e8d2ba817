package wfo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwtly10/fxbot/internal/account"
	"github.com/jwtly10/fxbot/internal/backtest"
	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/model"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("wfo")

const (
	minTrainRows = 100
	minTestRows  = 10
)

var errSkipFold = errors.New("fold skipped")

type (
	BuildFunc  func(data features.MultiTimeframe, base types.Timeframe) (*features.Matrix, error)
	TrainFunc  func(ds model.Dataset, cfg config.ModelConfig) (model.Model, model.TrainMetrics, error)
	SelectFunc func(m model.Model, ds model.Dataset, topPct float64) ([]string, []model.Importance)
)

type Fold struct {
	Window           `yaml:",inline"`
	TrainMetrics     model.TrainMetrics `json:"train_metrics" yaml:"train_metrics"`
	TestMetrics      *backtest.Metrics  `json:"test_metrics" yaml:"test_metrics"`
	NumTrades        int                `json:"num_trades" yaml:"num_trades"`
	SelectedFeatures []string           `json:"selected_features" yaml:"selected_features"`

	equity []backtest.EquityPoint
	trades []account.Trade
}

type Result struct {
	Folds   []Fold                 `json:"folds"`
	Equity  []backtest.EquityPoint `json:"equity"`
	Trades  []account.Trade        `json:"trades"`
	Metrics *backtest.Metrics      `json:"metrics"`
}

// Optimizer retrains and reselects features on every fold. The collaborators are
// fields so tests can replace the feature builder and the trainer.
type Optimizer struct {
	cfg    *config.Settings
	Symbol string

	Build  BuildFunc
	Train  TrainFunc
	Select SelectFunc
}

func New(cfg *config.Settings, symbol string) *Optimizer {
	return &Optimizer{
		cfg:    cfg,
		Symbol: symbol,
		Build:  features.Build,
		Train: func(ds model.Dataset, mc config.ModelConfig) (model.Model, model.TrainMetrics, error) {
			b, metrics, err := model.Train(ds, mc)
			if err != nil {
				return nil, metrics, err
			}
			return b, metrics, nil
		},
		Select: func(m model.Model, ds model.Dataset, topPct float64) ([]string, []model.Importance) {
			return model.SelectFeaturesN(m, ds, topPct, cfg.Model.ShapMaxSamples)
		},
	}
}

// Run builds the feature matrix once and evaluates every planned fold. Folds that
// fail are logged and left out. Cancelling ctx aborts the run.
func (o *Optimizer) Run(ctx context.Context, data features.MultiTimeframe) (*Result, error) {
	cfg := o.cfg
	fm, err := o.Build(data, types.Timeframe(cfg.Data.BaseTimeframe))
	if err != nil {
		return nil, fmt.Errorf("failed to build features: %w", err)
	}

	result := &Result{Folds: []Fold{}, Equity: []backtest.EquityPoint{}, Trades: []account.Trade{}}
	if fm.Len() == 0 {
		log.Warn("No feature rows, nothing to optimise", "symbol", o.Symbol)
		return result, nil
	}

	windows := PlanFolds(fm.Times[0], fm.Times[fm.Len()-1], cfg.Backtest.TrainWindowDays, cfg.Backtest.TestWindowDays)
	log.Info("Planned folds", "symbol", o.Symbol, "folds", len(windows), "rows", fm.Len())

	outcomes := make([]*Fold, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Backtest.Workers, 1))

	for i, w := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fold, err := o.runFold(fm, w)
			if err != nil {
				if !errors.Is(err, errSkipFold) {
					log.Warn("Fold failed, skipping", "fold", w.Num, "error", err)
				}
				return nil
			}
			outcomes[i] = fold
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, f := range outcomes {
		if f != nil {
			result.Folds = append(result.Folds, *f)
		}
	}
	sort.SliceStable(result.Folds, func(i, j int) bool {
		return result.Folds[i].TestStart.Before(result.Folds[j].TestStart)
	})

	for _, f := range result.Folds {
		result.Equity = append(result.Equity, f.equity...)
		result.Trades = append(result.Trades, f.trades...)
	}
	if len(result.Folds) > 0 {
		result.Metrics = backtest.Calculate(result.Equity, result.Trades, cfg.Backtest.PeriodsPerYear)
	}

	log.Info("Walk-forward complete", "symbol", o.Symbol, "folds", len(result.Folds), "trades", len(result.Trades))
	return result, nil
}

// runFold trains on the window's train slice minus its last horizon rows, so no
// training target looks at a bar inside the test slice.
func (o *Optimizer) runFold(fm *features.Matrix, w Window) (*Fold, error) {
	cfg := o.cfg
	horizon := cfg.Trading.PredictionHorizon
	mode := model.Mode(cfg.Model.Mode)

	trainFM := fm.Between(w.TrainStart, w.TrainEnd)
	trainFM = trainFM.Slice(0, trainFM.Len()-horizon)
	testFM := fm.Between(w.TestStart, w.TestEnd)

	if trainFM.Len() < minTrainRows || testFM.Len() < minTestRows {
		log.Warn("Insufficient rows for fold", "fold", w.Num, "train_rows", trainFM.Len(), "test_rows", testFM.Len())
		return nil, errSkipFold
	}

	ds, err := model.PrepareDataset(trainFM, horizon, nil, mode)
	if err != nil {
		return nil, err
	}
	if ds.Len() < model.MinTrainingSamples {
		log.Warn("Insufficient training samples for fold", "fold", w.Num, "samples", ds.Len())
		return nil, errSkipFold
	}

	full, _, err := o.Train(ds, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("train full feature set: %w", err)
	}

	selected, _ := o.Select(full, ds, cfg.Model.ShapTopPct)
	selDS, err := model.PrepareDataset(trainFM, horizon, selected, mode)
	if err != nil {
		return nil, err
	}
	m, trainMetrics, err := o.Train(selDS, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("train selected features: %w", err)
	}

	preds, err := model.NewPredictor(m).Predict(testFM)
	if err != nil {
		return nil, fmt.Errorf("predict test window: %w", err)
	}

	bt := backtest.NewEngine(cfg).Run(testFM, preds, cfg.PointFor(o.Symbol))
	metrics := backtest.Calculate(bt.Equity, bt.Trades, cfg.Backtest.PeriodsPerYear)

	log.Info("Fold complete", "fold", w.Num, "test_start", w.TestStart.Format(time.DateOnly),
		"features", len(selected), "trades", len(bt.Trades), "return", metrics.TotalReturn)

	return &Fold{
		Window:           w,
		TrainMetrics:     trainMetrics,
		TestMetrics:      metrics,
		NumTrades:        len(bt.Trades),
		SelectedFeatures: selected,
		equity:           bt.Equity,
		trades:           bt.Trades,
	}, nil
}
