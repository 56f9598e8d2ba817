package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jwtly10/fxbot/internal/types"
)

const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"

	ColATR    = "atr_14"
	ColADX    = "adx"
	ColADXPos = "adx_pos"
	ColADXNeg = "adx_neg"
)

// BaseColumns are the raw OHLCV columns, never used as model inputs.
var BaseColumns = []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume}

var ErrNoBaseTimeframe = errors.New("no bars for base timeframe")

// MultiTimeframe holds raw bars per timeframe, each slice in ascending time order.
type MultiTimeframe map[types.Timeframe][]types.Bar

// IsBaseColumn reports whether name is one of the raw OHLCV columns.
func IsBaseColumn(name string) bool {
	for _, c := range BaseColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Build creates the base timeframe feature matrix. Higher timeframe features are
// prefixed with the lowercase timeframe and joined backward as-of on bar close time,
// so a base bar only sees higher bars that had fully closed by its own close.
// Rows with any missing value are dropped.
func Build(data MultiTimeframe, base types.Timeframe) (*Matrix, error) {
	bars, ok := data[base]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBaseTimeframe, base)
	}
	baseDur, err := base.Duration()
	if err != nil {
		return nil, err
	}

	m := FromBars(bars)
	addSingle(m, bars, "")
	addTemporal(m)

	for _, tf := range higherTimeframes(data, base) {
		dur, err := tf.Duration()
		if err != nil {
			return nil, err
		}
		higher := FromBars(data[tf])
		prefix := strings.ToLower(string(tf))
		addSingle(higher, data[tf], prefix)
		alignHigher(m, baseDur, higher, dur)
		slog.Debug("Aligned higher timeframe", "timeframe", tf, "bars", len(data[tf]), "columns", len(m.names))
	}

	out := m.DropIncomplete()
	slog.Info("Built feature matrix", "base", base, "rows", out.Len(), "columns", len(out.names), "dropped", m.Len()-out.Len())
	return out, nil
}

func higherTimeframes(data MultiTimeframe, base types.Timeframe) []types.Timeframe {
	var tfs []types.Timeframe
	for tf := range data {
		if tf != base {
			tfs = append(tfs, tf)
		}
	}
	sort.Slice(tfs, func(i, j int) bool {
		di, _ := tfs[i].Duration()
		dj, _ := tfs[j].Duration()
		if di != dj {
			return di < dj
		}
		return tfs[i] < tfs[j]
	})
	return tfs
}

func alignHigher(m *Matrix, baseDur time.Duration, higher *Matrix, higherDur time.Duration) {
	var names []string
	for _, name := range higher.names {
		if !IsBaseColumn(name) {
			names = append(names, name)
		}
	}

	aligned := make([][]float64, len(names))
	for k := range aligned {
		aligned[k] = nanSlice(m.Len())
	}

	j := -1
	for i, t := range m.Times {
		available := t.Add(baseDur)
		for j+1 < higher.Len() && !higher.Times[j+1].Add(higherDur).After(available) {
			j++
		}
		if j < 0 {
			continue
		}
		for k, name := range names {
			aligned[k][i] = higher.MustColumn(name)[j]
		}
	}

	for k, name := range names {
		m.Set(name, aligned[k])
	}
}

// columnSet keeps feature columns in a stable order.
type columnSet struct {
	prefix string
	n      int
	names  []string
	cols   map[string][]float64
}

func newColumnSet(prefix string, n int) *columnSet {
	return &columnSet{prefix: prefix, n: n, cols: make(map[string][]float64)}
}

func (c *columnSet) col(name string) []float64 {
	if c.prefix != "" {
		name = c.prefix + "_" + name
	}
	if col, ok := c.cols[name]; ok {
		return col
	}
	col := nanSlice(c.n)
	c.cols[name] = col
	c.names = append(c.names, name)
	return col
}

func (c *columnSet) apply(m *Matrix) {
	for _, name := range c.names {
		m.Set(name, c.cols[name])
	}
}

func addSingle(m *Matrix, bars []types.Bar, prefix string) {
	n := len(bars)
	cs := newColumnSet(prefix, n)

	sma5, sma20, sma50 := NewSMA(5), NewSMA(20), NewSMA(50)
	ema5, ema20, ema50 := NewEMA(5), NewEMA(20), NewEMA(50)
	ema12, ema26, macdSignal := NewEMA(12), NewEMA(26), NewEMA(9)
	adx := NewADX(14)
	rsi7, rsi14 := NewRSI(7), NewRSI(14)
	atr7, atr14 := NewATR(7), NewATR(14)
	bbStd := NewRollingStd(20)
	stochD := NewSMA(3)
	retStd10, retStd20 := NewRollingStd(10), NewRollingStd(20)
	volSMA5, volSMA20 := NewSMA(5), NewSMA(20)

	for i, bar := range bars {
		c := bar.Close

		sma5.Update(c)
		sma20.Update(c)
		sma50.Update(c)
		ema5.Update(c)
		ema20.Update(c)
		ema50.Update(c)
		ema12.Update(c)
		ema26.Update(c)
		adx.Update(bar)
		rsi7.Update(c)
		rsi14.Update(c)
		atr7.Update(bar)
		atr14.Update(bar)
		bbStd.Update(c)
		volSMA5.Update(bar.Volume)
		volSMA20.Update(bar.Volume)

		setIf(cs.col("sma_5"), i, sma5)
		setIf(cs.col("sma_20"), i, sma20)
		setIf(cs.col("sma_50"), i, sma50)
		setIf(cs.col("ema_5"), i, ema5)
		setIf(cs.col("ema_20"), i, ema20)
		setIf(cs.col("ema_50"), i, ema50)
		if sma20.Ready() {
			cs.col("sma_20_dev")[i] = (c - sma20.Value()) / sma20.Value()
		}
		if sma50.Ready() {
			cs.col("sma_50_dev")[i] = (c - sma50.Value()) / sma50.Value()
		}
		if IndicatorsReady(ema5, ema20) {
			cs.col("ema_cross_5_20")[i] = ema5.Value() - ema20.Value()
		}
		if IndicatorsReady(ema20, ema50) {
			cs.col("ema_cross_20_50")[i] = ema20.Value() - ema50.Value()
		}

		if IndicatorsReady(ema12, ema26) {
			macd := ema12.Value() - ema26.Value()
			macdSignal.Update(macd)
			cs.col("macd")[i] = macd
			if macdSignal.Ready() {
				cs.col("macd_signal")[i] = macdSignal.Value()
				cs.col("macd_hist")[i] = macd - macdSignal.Value()
			}
		}

		if adx.Ready() {
			cs.col(ColADX)[i] = adx.Value()
			cs.col(ColADXPos)[i] = adx.PlusDI()
			cs.col(ColADXNeg)[i] = adx.MinusDI()
		}

		setIf(cs.col("rsi_7"), i, rsi7)
		setIf(cs.col("rsi_14"), i, rsi14)
		if i > 0 && rsi14.Ready() && !math.IsNaN(cs.col("rsi_14")[i-1]) {
			cs.col("rsi_14_change")[i] = rsi14.Value() - cs.col("rsi_14")[i-1]
		}

		if i >= 13 {
			hh, ll := bar.High, bar.Low
			for k := i - 13; k < i; k++ {
				hh = math.Max(hh, bars[k].High)
				ll = math.Min(ll, bars[k].Low)
			}
			k := 50.0
			if hh > ll {
				k = 100 * (c - ll) / (hh - ll)
			}
			stochD.Update(k)
			cs.col("stoch_k")[i] = k
			setIf(cs.col("stoch_d"), i, stochD)
		}

		if IndicatorsReady(sma20, bbStd) {
			mid := sma20.Value()
			upper := mid + 2*bbStd.Value()
			lower := mid - 2*bbStd.Value()
			cs.col("bb_mid")[i] = mid
			cs.col("bb_upper")[i] = upper
			cs.col("bb_lower")[i] = lower
			cs.col("bb_width")[i] = (upper - lower) / mid * 100
			if upper > lower {
				cs.col("bb_pband")[i] = (c - lower) / (upper - lower)
			} else {
				cs.col("bb_pband")[i] = 0.5
			}
		}

		setIf(cs.col("atr_7"), i, atr7)
		setIf(cs.col(ColATR), i, atr14)
		if atr14.Ready() {
			cs.col("atr_14_norm")[i] = atr14.Value() / c
		}

		hl := bar.High - bar.Low
		cs.col("hl_range")[i] = hl / c
		body, upperShadow, lowerShadow := 0.0, 0.0, 0.0
		if hl > 0 {
			body = (c - bar.Open) / hl
			upperShadow = (bar.High - math.Max(bar.Open, c)) / hl
			lowerShadow = (math.Min(bar.Open, c) - bar.Low) / hl
		}
		cs.col("body_ratio")[i] = body
		cs.col("upper_shadow")[i] = upperShadow
		cs.col("lower_shadow")[i] = lowerShadow

		if i > 0 {
			prev := bars[i-1].Close
			lr := math.Log(c / prev)
			cs.col("log_ret_1")[i] = lr
			cs.col("gap")[i] = (bar.Open - prev) / prev
			retStd10.Update(lr)
			retStd20.Update(lr)
			setIf(cs.col("ret_std_10"), i, retStd10)
			setIf(cs.col("ret_std_20"), i, retStd20)
		}
		for _, period := range []int{5, 10} {
			if i >= period {
				past := bars[i-period].Close
				cs.col(fmt.Sprintf("log_ret_%d", period))[i] = math.Log(c / past)
				cs.col(fmt.Sprintf("roc_%d", period))[i] = 100 * (c - past) / past
			}
		}

		if IndicatorsReady(volSMA5, volSMA20) {
			ratio := 0.0
			if volSMA20.Value() > 0 {
				ratio = volSMA5.Value() / volSMA20.Value()
			}
			cs.col("vol_ratio_5_20")[i] = ratio
		}
	}

	cs.apply(m)
}

// addTemporal adds calendar and session features, base timeframe only.
func addTemporal(m *Matrix) {
	cs := newColumnSet("", m.Len())
	for i, t := range m.Times {
		utc := t.UTC()
		hour := float64(utc.Hour())
		dow := float64((int(utc.Weekday()) + 6) % 7) // Monday = 0

		cs.col("hour_sin")[i] = math.Sin(2 * math.Pi * hour / 24)
		cs.col("hour_cos")[i] = math.Cos(2 * math.Pi * hour / 24)
		cs.col("dow_sin")[i] = math.Sin(2 * math.Pi * dow / 5)
		cs.col("dow_cos")[i] = math.Cos(2 * math.Pi * dow / 5)
		cs.col("session_tokyo")[i] = flag(hour >= 0 && hour < 8)
		cs.col("session_london")[i] = flag(InLondonSession(utc.Hour()))
		cs.col("session_ny")[i] = flag(InNewYorkSession(utc.Hour()))
		cs.col("session_overlap_lon_ny")[i] = flag(hour >= 13 && hour < 16)
	}
	cs.apply(m)
}

// InLondonSession covers 07:00-16:00 UTC.
func InLondonSession(hour int) bool {
	return hour >= 7 && hour < 16
}

// InNewYorkSession covers 13:00-22:00 UTC.
func InNewYorkSession(hour int) bool {
	return hour >= 13 && hour < 22
}

func setIf(col []float64, i int, ind Indicator) {
	if ind.Ready() {
		col[i] = ind.Value()
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
