package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwtly10/fxbot/internal/api"
	"github.com/jwtly10/fxbot/internal/backtest"
	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/events"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/live"
	"github.com/jwtly10/fxbot/internal/model"
	"github.com/jwtly10/fxbot/internal/monitor"
	"github.com/jwtly10/fxbot/internal/oanda"
	"github.com/jwtly10/fxbot/internal/registry"
	"github.com/jwtly10/fxbot/internal/tradelog"
	"github.com/jwtly10/fxbot/internal/tradingview"
	"github.com/jwtly10/fxbot/internal/types"
	"github.com/jwtly10/fxbot/internal/wfo"
)

const shutdownTimeout = 5 * time.Second

func runWFO(ctx context.Context, args []string) error {
	f := newFlags("wfo")
	fetch := f.Bool("fetch", false, "refresh the bar cache from OANDA before running")
	showTrades := f.Bool("trades", false, "print every out-of-sample trade")
	pine := f.String("pine", "", "write TradingView markers for the trades to this file")
	cfg, closeLog, err := f.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	for _, symbol := range cfg.Data.Symbols {
		data, err := loadData(ctx, cfg, symbol, *fetch)
		if err != nil {
			return err
		}

		res, err := wfo.New(cfg, symbol).Run(ctx, data)
		if err != nil {
			return fmt.Errorf("walk-forward %s: %w", symbol, err)
		}

		summary := &backtest.Result{
			Equity: res.Equity,
			Trades: res.Trades,
			Settings: backtest.RunSettings{
				InitialBalance: cfg.Backtest.InitialBalance,
				SpreadPips:     cfg.Backtest.SpreadPips,
			},
			FinalBalance: cfg.Backtest.InitialBalance,
		}
		for _, t := range res.Trades {
			summary.FinalBalance += t.PnL
		}

		fmt.Printf("\n##### %s: %d folds #####\n", symbol, len(res.Folds))
		backtest.WriteReport(os.Stdout, summary, res.Metrics)
		if *showTrades {
			summary.WriteTrades(os.Stdout)
		}
		tradingview.DumpPineScript(res.Trades)

		if *pine != "" {
			if err := writeFile(perSymbol(*pine, symbol, len(cfg.Data.Symbols)), func(file *os.File) error {
				return tradingview.Write(file, res.Trades)
			}); err != nil {
				return err
			}
		}
		if cfg.Backtest.ReportPath != "" {
			if err := writeFile(perSymbol(cfg.Backtest.ReportPath, symbol, len(cfg.Data.Symbols)), func(file *os.File) error {
				return wfo.WriteReport(file, symbol, res)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	f := newFlags("train")
	fetch := f.Bool("fetch", false, "refresh the bar cache from OANDA before training")
	cfg, closeLog, err := f.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	return trainAll(ctx, cfg, reg, *fetch)
}

func runServe(ctx context.Context, args []string) error {
	f := newFlags("serve")
	cfg, closeLog, err := f.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	deps, closeDeps, err := apiDeps(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer closeDeps()

	g, gctx := errgroup.WithContext(ctx)
	serve(gctx, g, api.NewServer(cfg, deps))
	return g.Wait()
}

func runLive(ctx context.Context, args []string) error {
	f := newFlags("live")
	barsCount := f.Int("bars", 500, "bars fetched per timeframe on every step")
	balance := f.Float64("balance", 0, "starting balance that realized P&L from the trade log is added to, defaults to backtest.initial_balance")
	withAPI := f.Bool("serve", false, "run the HTTP API alongside the runner")
	cfg, closeLog, err := f.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := oanda.NewClientFromConfig(cfg.Account)
	if err != nil {
		return err
	}
	tfs, err := timeframes(cfg)
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	if *balance <= 0 {
		*balance = cfg.Backtest.InitialBalance
	}

	deps, closeDeps, err := apiDeps(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer closeDeps()

	publisher := events.New(cfg.Kafka)
	defer publisher.Close()

	models := live.NewRegistryModels(reg, cfg.Data.BaseTimeframe)
	mon := monitor.New(deps.Trades, cfg.Retraining)
	runner := live.NewRunner(cfg, oandaBars{client: client, timeframes: tfs, count: *barsCount},
		models, live.LedgerBalance{Trades: deps.Trades, Initial: *balance}, publisher, deps.Trades, mon)
	runner.OnRetrain = func(ctx context.Context) error {
		if err := trainAll(ctx, cfg, reg, true); err != nil {
			return err
		}
		models.Reset()
		return nil
	}

	if meta, err := reg.FindLatest(ctx, cfg.Data.Symbols[0], cfg.Data.BaseTimeframe); err == nil {
		runner.SetLastTrained(meta.CreatedAt)
	} else {
		slog.Warn("No trained model found, train before going live", "symbol", cfg.Data.Symbols[0], "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if *withAPI {
		serve(gctx, g, api.NewServer(cfg, deps))
	}
	return g.Wait()
}

// trainAll trains every configured symbol on its full history and saves the
// models. Feature selection runs on a first model trained with every column.
func trainAll(ctx context.Context, cfg *config.Settings, reg *registry.Registry, fetch bool) error {
	base := types.Timeframe(cfg.Data.BaseTimeframe)
	horizon := cfg.Trading.PredictionHorizon
	mode := model.Mode(cfg.Model.Mode)

	for _, symbol := range cfg.Data.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := loadData(ctx, cfg, symbol, fetch)
		if err != nil {
			return err
		}
		fm, err := features.Build(data, base)
		if err != nil {
			return err
		}

		ds, err := model.PrepareDataset(fm, horizon, nil, mode)
		if err != nil {
			return err
		}
		if ds.Len() < model.MinTrainingSamples {
			return fmt.Errorf("%s: %d samples, need at least %d", symbol, ds.Len(), model.MinTrainingSamples)
		}
		full, _, err := model.Train(ds, cfg.Model)
		if err != nil {
			return fmt.Errorf("%s: train full feature set: %w", symbol, err)
		}
		selected, _ := model.SelectFeaturesN(full, ds, cfg.Model.ShapTopPct, cfg.Model.ShapMaxSamples)

		selDS, err := model.PrepareDataset(fm, horizon, selected, mode)
		if err != nil {
			return err
		}
		b, metrics, err := model.Train(selDS, cfg.Model)
		if err != nil {
			return fmt.Errorf("%s: train selected features: %w", symbol, err)
		}

		meta, err := reg.Save(ctx, b, metrics, symbol, cfg.Data.BaseTimeframe)
		if err != nil {
			return err
		}
		slog.Info("Model trained", "symbol", symbol, "name", meta.Name, "features", len(selected), "samples", selDS.Len())
	}
	return nil
}

func openRegistry(cfg *config.Settings) (*registry.Registry, error) {
	store, err := registry.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}
	return registry.New(store), nil
}

// apiDeps opens the trade log and the optional Redis cache.
func apiDeps(ctx context.Context, cfg *config.Settings, reg *registry.Registry) (api.Deps, func(), error) {
	trades, err := tradelog.Open(ctx, cfg.TradeLogging)
	if err != nil {
		return api.Deps{}, nil, fmt.Errorf("failed to open trade log: %w", err)
	}
	deps := api.Deps{
		Models:  reg,
		Trades:  trades,
		Monitor: monitor.New(trades, cfg.Retraining),
	}
	closers := []func() error{trades.Close}

	if cfg.Redis.Enabled {
		cache := api.NewRedisCache(cfg.Redis)
		if err := cache.Ping(ctx); err != nil {
			slog.Warn("Redis unavailable, serving without cache", "addr", cfg.Redis.Addr, "error", err)
			cache.Close()
		} else {
			deps.Cache = cache
			closers = append(closers, cache.Close)
		}
	}

	return deps, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("Close failed", "error", err)
			}
		}
	}, nil
}

// serve runs srv in g and shuts it down once ctx is done.
func serve(ctx context.Context, g *errgroup.Group, srv *api.Server) {
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}

// perSymbol inserts the symbol before the extension when several symbols share
// one output path.
func perSymbol(path, symbol string, symbols int) string {
	if symbols <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + symbol + ext
}

func writeFile(path string, write func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	slog.Info("Wrote file", "path", path)
	return nil
}
