package features

import (
	"math"

	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/types"
)

var (
	atrLog = logging.New("atr")
	adxLog = logging.New("adx")
	emaLog = logging.New("ema")
)

// Indicator is an incrementally updated series value.
type Indicator interface {
	Value() float64
	Ready() bool
}

// IndicatorsReady calls .Ready() on all indicators and returns true if all are ready
func IndicatorsReady(indicators ...Indicator) bool {
	for _, ind := range indicators {
		if !ind.Ready() {
			return false
		}
	}
	return true
}

// EMA - Exponential Moving Average, seeded with the first price and ready once
// period prices have been seen.
type EMA struct {
	period int
	value  float64
	alpha  float64
	count  int
}

func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

func (e *EMA) Update(price float64) {
	if e.count == 0 {
		e.value = price
	} else {
		e.value = (price * e.alpha) + (e.value * (1 - e.alpha))
	}
	e.count++
	emaLog.Debug("EMA updated", "period", e.period, "price", price, "value", e.value)
}

func (e *EMA) Value() float64 {
	return e.value
}

func (e *EMA) Ready() bool {
	return e.count >= e.period
}

// SMA - Simple Moving Average over a fixed window
type SMA struct {
	period int
	values []float64
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		values: make([]float64, 0, period+1),
	}
}

func (s *SMA) Update(price float64) {
	s.values = append(s.values, price)
	s.sum += price
	if len(s.values) > s.period {
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}
}

func (s *SMA) Value() float64 {
	if len(s.values) == 0 {
		return 0
	}
	return s.sum / float64(len(s.values))
}

func (s *SMA) Ready() bool {
	return len(s.values) >= s.period
}

// RollingStd is the sample standard deviation over a fixed window.
type RollingStd struct {
	sma *SMA
}

func NewRollingStd(period int) *RollingStd {
	return &RollingStd{sma: NewSMA(period)}
}

func (r *RollingStd) Update(v float64) {
	r.sma.Update(v)
}

func (r *RollingStd) Value() float64 {
	n := len(r.sma.values)
	if n < 2 {
		return math.NaN()
	}
	mean := r.sma.Value()
	var ss float64
	for _, v := range r.sma.values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}

func (r *RollingStd) Ready() bool {
	return r.sma.Ready()
}

// Wilder smoothing (RMA): seeded with the simple mean of the first period values.
type Wilder struct {
	period int
	value  float64
	count  int
}

func NewWilder(period int) *Wilder {
	return &Wilder{period: period}
}

func (w *Wilder) Update(v float64) {
	w.count++
	if w.count <= w.period {
		w.value += (v - w.value) / float64(w.count)
		return
	}
	w.value = (w.value*float64(w.period-1) + v) / float64(w.period)
}

func (w *Wilder) Value() float64 {
	return w.value
}

func (w *Wilder) Ready() bool {
	return w.count >= w.period
}

// ATR - Average True Range with Wilder smoothing
type ATR struct {
	period  int
	rma     *Wilder
	prevBar *types.Bar
}

func NewATR(period int) *ATR {
	return &ATR{
		period: period,
		rma:    NewWilder(period),
	}
}

func (a *ATR) Update(bar types.Bar) {
	if a.prevBar == nil {
		a.prevBar = &bar
		atrLog.Debug("ATR first bar", "timestamp", bar.Timestamp, "close", bar.Close)
		return
	}

	tr := trueRange(bar, a.prevBar.Close)
	a.rma.Update(tr)
	a.prevBar = &bar

	atrLog.Debug("ATR updated", "timestamp", bar.Timestamp, "trueRange", tr, "value", a.Value(), "ready", a.Ready())
}

func (a *ATR) Value() float64 {
	return a.rma.Value()
}

func (a *ATR) Ready() bool {
	return a.rma.Ready()
}

// RSI - Relative Strength Index with Wilder smoothing
type RSI struct {
	gain      *Wilder
	loss      *Wilder
	prevClose float64
	seen      bool
}

func NewRSI(period int) *RSI {
	return &RSI{gain: NewWilder(period), loss: NewWilder(period)}
}

func (r *RSI) Update(price float64) {
	if !r.seen {
		r.prevClose = price
		r.seen = true
		return
	}
	change := price - r.prevClose
	r.prevClose = price
	r.gain.Update(math.Max(change, 0))
	r.loss.Update(math.Max(-change, 0))
}

func (r *RSI) Value() float64 {
	avgLoss := r.loss.Value()
	if avgLoss == 0 {
		if r.gain.Value() == 0 {
			return 50
		}
		return 100
	}
	rs := r.gain.Value() / avgLoss
	return 100 - 100/(1+rs)
}

func (r *RSI) Ready() bool {
	return r.gain.Ready()
}

// ADX - Average Directional Index with +DI/-DI
type ADX struct {
	period  int
	tr      *Wilder
	plusDM  *Wilder
	minusDM *Wilder
	adx     *Wilder
	prevBar *types.Bar
}

func NewADX(period int) *ADX {
	return &ADX{
		period:  period,
		tr:      NewWilder(period),
		plusDM:  NewWilder(period),
		minusDM: NewWilder(period),
		adx:     NewWilder(period),
	}
}

func (a *ADX) Update(bar types.Bar) {
	if a.prevBar == nil {
		a.prevBar = &bar
		return
	}

	up := bar.High - a.prevBar.High
	down := a.prevBar.Low - bar.Low
	var pdm, mdm float64
	if up > down && up > 0 {
		pdm = up
	}
	if down > up && down > 0 {
		mdm = down
	}

	a.tr.Update(trueRange(bar, a.prevBar.Close))
	a.plusDM.Update(pdm)
	a.minusDM.Update(mdm)
	a.prevBar = &bar

	if a.tr.Ready() {
		a.adx.Update(a.dx())
	}
	adxLog.Debug("ADX updated", "timestamp", bar.Timestamp, "adx", a.adx.Value(), "di_pos", a.PlusDI(), "di_neg", a.MinusDI())
}

func (a *ADX) dx() float64 {
	p, m := a.PlusDI(), a.MinusDI()
	if p+m == 0 {
		return 0
	}
	return 100 * math.Abs(p-m) / (p + m)
}

func (a *ADX) PlusDI() float64 {
	if a.tr.Value() == 0 {
		return 0
	}
	return 100 * a.plusDM.Value() / a.tr.Value()
}

func (a *ADX) MinusDI() float64 {
	if a.tr.Value() == 0 {
		return 0
	}
	return 100 * a.minusDM.Value() / a.tr.Value()
}

func (a *ADX) Value() float64 {
	return a.adx.Value()
}

func (a *ADX) Ready() bool {
	return a.adx.Ready()
}

// True Range = max of:
// 1. Current High - Current Low
// 2. |Current High - Previous Close|
// 3. |Current Low - Previous Close|
func trueRange(bar types.Bar, prevClose float64) float64 {
	tr1 := bar.High - bar.Low
	tr2 := math.Abs(bar.High - prevClose)
	tr3 := math.Abs(bar.Low - prevClose)
	return math.Max(tr1, math.Max(tr2, tr3))
}
