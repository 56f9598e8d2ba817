package oanda

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jwtly10/fxbot/internal/types"
)

// https://developer.oanda.com/rest-live-v20/instrument-ep/

type Candlestick struct {
	Time     string          `json:"time"`
	Bid      CandleStickData `json:"bid"`
	Ask      CandleStickData `json:"ask"`
	Mid      CandleStickData `json:"mid"`
	Volume   int             `json:"volume"`
	Complete bool            `json:"complete"`
}

type CandleStickData struct {
	O PriceValue `json:"o"`
	H PriceValue `json:"h"`
	L PriceValue `json:"l"`
	C PriceValue `json:"c"`
}

type PriceValue string
type InstrumentName string

type CandlestickGranularity string

type CandlestickResponse struct {
	Candles     []Candlestick          `json:"candles"`
	Instrument  InstrumentName         `json:"instrument"`
	Granularity CandlestickGranularity `json:"granularity"`
}

type Client struct {
	AccountId string
	ApiKey    string
	ApiUrl    string

	HTTP *http.Client
	// MaxRetries bounds the retries of one candle request on transient failures.
	MaxRetries uint64
	newBackOff func() backoff.BackOff
}

// CandleRequest selects candles either by time range or, when Count is set and
// From is zero, as the latest Count candles.
type CandleRequest struct {
	Instrument InstrumentName  `json:"instrument"`
	Timeframe  types.Timeframe `json:"timeframe"`
	Count      int             `json:"count,omitempty"` // Default 500, max 5000
	From       time.Time       `json:"from"`            // RFC 3339
	To         time.Time       `json:"to"`              // RFC 3339
}
