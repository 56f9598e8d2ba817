package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("oanda")

const (
	DefaultBaseUrl       = "https://api-fxpractice.oanda.com"
	MaxCandlesPerRequest = 4000 // Limit is 5000 but we maintain a buffer

	defaultMaxRetries = 3
)

var ErrMissingCredentials = errors.New("oanda account id and api key are required")

var timeframeGranularity = map[types.Timeframe]CandlestickGranularity{
	types.M1:  "M1",
	types.M5:  "M5",
	types.M15: "M15",
	types.M30: "M30",
	types.H1:  "H1",
	types.H4:  "H4",
	types.D1:  "D",
}

// Granularity maps a timeframe onto the OANDA candle granularity.
func Granularity(tf types.Timeframe) (CandlestickGranularity, error) {
	g, ok := timeframeGranularity[tf]
	if !ok {
		return "", fmt.Errorf("no oanda granularity for timeframe: %s", tf)
	}
	return g, nil
}

func NewClient(accountId, apiKey, apiUrl string) *Client {
	if apiUrl == "" {
		apiUrl = DefaultBaseUrl
	}

	return &Client{
		AccountId:  accountId,
		ApiKey:     apiKey,
		ApiUrl:     apiUrl,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		MaxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func NewClientFromConfig(cfg config.AccountConfig) (*Client, error) {
	if cfg.ID == "" || cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	return NewClient(cfg.ID, cfg.APIKey, cfg.APIURL), nil
}

// FetchBars will iteratively fetch all bars between 2 dates.
//
// Note: We are not limiting the number of candles returned here,
// so there is scope for memory issues if not used carefully.
func (s *Client) FetchBars(ctx context.Context, req CandleRequest) ([]types.Bar, error) {
	log.Info("Initiating batched Oanda fetch", "instrument", req.Instrument, "from", req.From, "to", req.To, "period", req.Timeframe)
	period, err := req.Timeframe.Duration()
	if err != nil {
		return nil, err
	}

	if req.To.IsZero() || req.To.After(time.Now()) {
		req.To = time.Now()
	}

	var allBars []types.Bar
	currentFrom := req.From

	for currentFrom.Before(req.To) {
		batchTo := currentFrom.Add(period * time.Duration(MaxCandlesPerRequest))
		if batchTo.After(req.To) {
			batchTo = req.To
		}

		batch, err := s.fetchCandles(ctx, CandleRequest{
			Instrument: req.Instrument,
			Timeframe:  req.Timeframe,
			From:       currentFrom,
			To:         batchTo,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch candles between %s and %s: %w", currentFrom, batchTo, err)
		}

		log.Debug("Found bars in latest fetch", "count", len(batch.Candles), "from", currentFrom, "to", batchTo)

		if len(batch.Candles) == 0 {
			// Weekends and holidays leave gaps, keep walking forward
			currentFrom = batchTo
			continue
		}

		bars, err := candlesToBars(batch.Candles)
		if err != nil {
			return nil, fmt.Errorf("failed to convert candles to bars: %w", err)
		}
		allBars = append(allBars, bars...)

		if len(bars) == 0 {
			currentFrom = batchTo
			continue
		}
		currentFrom = bars[len(bars)-1].Timestamp.Add(period)
	}

	log.Info("Completed fetching all oanda bars", "instrument", req.Instrument, "totalBars", len(allBars))
	return allBars, nil
}

// FetchLatest returns up to count of the most recent completed bars.
func (s *Client) FetchLatest(ctx context.Context, instrument InstrumentName, tf types.Timeframe, count int) ([]types.Bar, error) {
	if count > MaxCandlesPerRequest {
		count = MaxCandlesPerRequest
	}
	resp, err := s.fetchCandles(ctx, CandleRequest{Instrument: instrument, Timeframe: tf, Count: count})
	if err != nil {
		return nil, err
	}
	return candlesToBars(resp.Candles)
}

// FetchMultiTimeframe fetches the latest count bars for the base and every higher
// timeframe.
func (s *Client) FetchMultiTimeframe(ctx context.Context, instrument InstrumentName, timeframes []types.Timeframe, count int) (features.MultiTimeframe, error) {
	out := make(features.MultiTimeframe, len(timeframes))
	for _, tf := range timeframes {
		bars, err := s.FetchLatest(ctx, instrument, tf, count)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s bars for %s: %w", tf, instrument, err)
		}
		out[tf] = bars
	}
	return out, nil
}

// candlesToBars converts completed candles. The still forming last candle is dropped.
func candlesToBars(candles []Candlestick) ([]types.Bar, error) {
	bars := make([]types.Bar, 0, len(candles))
	for _, candle := range candles {
		if !candle.Complete {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339, candle.Time)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle time %s: %w", candle.Time, err)
		}

		o, err := strconv.ParseFloat(string(candle.Mid.O), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle open price %s: %w", candle.Mid.O, err)
		}
		h, err := strconv.ParseFloat(string(candle.Mid.H), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle high price %s: %w", candle.Mid.H, err)
		}
		l, err := strconv.ParseFloat(string(candle.Mid.L), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle low price %s: %w", candle.Mid.L, err)
		}
		c, err := strconv.ParseFloat(string(candle.Mid.C), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle close price %s: %w", candle.Mid.C, err)
		}

		bars = append(bars, types.Bar{
			Timestamp: timestamp.UTC(),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    float64(candle.Volume),
		})
	}
	return bars, nil
}

// fetchCandles retries network errors, rate limits and server errors with
// exponential backoff. Other 4xx responses fail immediately.
func (s *Client) fetchCandles(ctx context.Context, req CandleRequest) (*CandlestickResponse, error) {
	fullURL, err := s.candlesURL(req)
	if err != nil {
		return nil, err
	}

	var candleResp *CandlestickResponse
	op := func() error {
		resp, err := s.doCandles(ctx, fullURL)
		if err != nil {
			return err
		}
		candleResp = resp
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn("Retrying oanda candle request", "instrument", req.Instrument, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return candleResp, nil
}

func (s *Client) candlesURL(req CandleRequest) (string, error) {
	granularity, err := Granularity(req.Timeframe)
	if err != nil {
		return "", err
	}

	endpoint := s.ApiUrl + "/v3/accounts/" + s.AccountId + "/instruments/" + url.PathEscape(string(req.Instrument)) + "/candles"

	params := url.Values{}
	params.Add("granularity", string(granularity))
	params.Add("price", "M")
	if req.Count != 0 {
		params.Add("count", strconv.Itoa(req.Count))
	}
	if !req.From.IsZero() {
		params.Add("from", strconv.FormatInt(req.From.Unix(), 10))
		params.Add("to", strconv.FormatInt(req.To.Unix(), 10))
		params.Add("includeFirst", "true")
	}

	return endpoint + "?" + params.Encode(), nil
}

func (s *Client) doCandles(ctx context.Context, fullURL string) (*CandlestickResponse, error) {
	log.Debug("Request URL", "url", fullURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+s.ApiKey)
	httpReq.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := s.HTTP.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		rawRespBody := string(bodyBytes)

		err := fmt.Errorf("failed to fetch candles: status code %d, API Response: %s", resp.StatusCode, rawRespBody)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, err
		}
		log.Error("Failed to fetch candles: API returned an error status", "statusCode", resp.StatusCode, "rawResponse", rawRespBody)
		return nil, backoff.Permanent(err)
	}

	var candleResp CandlestickResponse
	if err := json.NewDecoder(resp.Body).Decode(&candleResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode candle response: %w", err))
	}

	return &candleResp, nil
}
