package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/marketdata"
	"github.com/jwtly10/fxbot/internal/oanda"
	"github.com/jwtly10/fxbot/internal/types"
)

func timeframes(cfg *config.Settings) ([]types.Timeframe, error) {
	out := []types.Timeframe{types.Timeframe(cfg.Data.BaseTimeframe)}
	for _, tf := range cfg.Data.HigherTimeframes {
		out = append(out, types.Timeframe(tf))
	}
	for _, tf := range out {
		if _, err := tf.Duration(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func oandaFetch(client *oanda.Client) marketdata.FetchFunc {
	return func(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.Bar, error) {
		return client.FetchLatest(ctx, oanda.InstrumentName(symbol), tf, count)
	}
}

// loadData reads every timeframe of symbol from the CSV cache, refreshing it from
// OANDA first when fetch is set.
func loadData(ctx context.Context, cfg *config.Settings, symbol string, fetch bool) (features.MultiTimeframe, error) {
	tfs, err := timeframes(cfg)
	if err != nil {
		return nil, err
	}
	cache := marketdata.NewCache(cfg.Data.CacheDir)

	if !fetch {
		data, err := cache.LoadMulti(symbol, tfs)
		if err != nil {
			return nil, err
		}
		if _, ok := data[tfs[0]]; !ok {
			return nil, fmt.Errorf("no cached %s bars for %s in %s, run with -fetch", tfs[0], symbol, cfg.Data.CacheDir)
		}
		return data, nil
	}

	client, err := oanda.NewClientFromConfig(cfg.Account)
	if err != nil {
		return nil, err
	}
	data := features.MultiTimeframe{}
	for _, tf := range tfs {
		bars, err := cache.FetchAndCache(ctx, oandaFetch(client), symbol, tf, cfg.Data.BarsCount)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s %s: %w", symbol, tf, err)
		}
		slog.Info("Loaded bars", "symbol", symbol, "timeframe", tf, "bars", len(bars))
		data[tf] = bars
	}
	return data, nil
}

// oandaBars serves the live runner straight from OANDA.
type oandaBars struct {
	client     *oanda.Client
	timeframes []types.Timeframe
	count      int
}

func (b oandaBars) Bars(ctx context.Context, symbol string) (features.MultiTimeframe, error) {
	return b.client.FetchMultiTimeframe(ctx, oanda.InstrumentName(symbol), b.timeframes, b.count)
}
