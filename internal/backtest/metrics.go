package backtest

import (
	"encoding/json"
	"math"

	"github.com/jwtly10/fxbot/internal/account"
)

// DefaultPeriodsPerYear annualises M5 bars: 252 days * 24 hours * 12 bars.
const DefaultPeriodsPerYear = 252 * 24 * 12

// Ratio is a float that survives JSON when infinite. +Inf encodes as "Infinity".
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	switch {
	case math.IsInf(float64(r), 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(float64(r), -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(float64(r)):
		return []byte(`null`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"Infinity"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case `null`:
		*r = Ratio(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

type Metrics struct {
	TotalReturn    float64 `json:"total_return" yaml:"total_return"`
	TotalPnL       float64 `json:"total_pnl" yaml:"total_pnl"`
	Sharpe         float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	Sortino        float64 `json:"sortino_ratio" yaml:"sortino_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown" yaml:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	NumTrades      int     `json:"num_trades" yaml:"num_trades"`
	WinRate        float64 `json:"win_rate" yaml:"win_rate"`
	ProfitFactor   Ratio   `json:"profit_factor" yaml:"profit_factor"`
	AvgPnL         float64 `json:"avg_pnl" yaml:"avg_pnl"`
	AvgWin         float64 `json:"avg_win" yaml:"avg_win"`
	AvgLoss        float64 `json:"avg_loss" yaml:"avg_loss"`
}

type MonthlyReturn struct {
	Month  string  `json:"month" yaml:"month"`
	Return float64 `json:"return" yaml:"return"`
}

// Returns is the simple percentage change between consecutive equity values.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// Sharpe is the annualised mean over sample std of returns, 0 when the std is
// zero or undefined.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	std := stdDev(returns)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean(returns) / std * math.Sqrt(periodsPerYear)
}

// Sortino divides by the sample std of the negative returns only. Fewer than two
// negative returns leave that std undefined and the ratio is 0.
func Sortino(returns []float64, periodsPerYear float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	std := stdDev(downside)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean(returns) / std * math.Sqrt(periodsPerYear)
}

// MaxDrawdown returns the deepest fall from a running peak in money and as a
// fraction of that peak. Both are <= 0.
func MaxDrawdown(equity []float64) (float64, float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	var dd, ddPct float64
	for _, v := range equity {
		peak = math.Max(peak, v)
		d := v - peak
		dd = math.Min(dd, d)
		if peak != 0 {
			ddPct = math.Min(ddPct, d/peak)
		}
	}
	return dd, ddPct
}

func WinRate(trades []account.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// ProfitFactor is gross profit over gross loss; +Inf without losses but with
// profit, 0 with neither.
func ProfitFactor(trades []account.Trade) float64 {
	var profit, loss float64
	for _, t := range trades {
		if t.PnL > 0 {
			profit += t.PnL
		} else if t.PnL < 0 {
			loss -= t.PnL
		}
	}
	if loss == 0 {
		if profit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return profit / loss
}

// MonthlyReturns compares each calendar month's last equity with the previous
// month's. The first month has no return.
func MonthlyReturns(points []EquityPoint) []MonthlyReturn {
	var months []string
	last := map[string]float64{}
	for _, p := range points {
		key := p.Time.UTC().Format("2006-01")
		if _, ok := last[key]; !ok {
			months = append(months, key)
		}
		last[key] = p.Equity
	}

	var out []MonthlyReturn
	for i := 1; i < len(months); i++ {
		prev := last[months[i-1]]
		if prev == 0 {
			continue
		}
		out = append(out, MonthlyReturn{Month: months[i], Return: last[months[i]]/prev - 1})
	}
	return out
}

// Calculate summarises an equity curve and its trades. An empty curve yields zero
// metrics.
func Calculate(points []EquityPoint, trades []account.Trade, periodsPerYear float64) *Metrics {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	equity := make([]float64, len(points))
	for i, p := range points {
		equity[i] = p.Equity
	}

	m := &Metrics{
		NumTrades:    len(trades),
		WinRate:      WinRate(trades),
		ProfitFactor: Ratio(ProfitFactor(trades)),
	}
	if len(equity) > 0 {
		first, last := equity[0], equity[len(equity)-1]
		if first != 0 {
			m.TotalReturn = last/first - 1
		}
		m.TotalPnL = last - first
	}

	returns := Returns(equity)
	m.Sharpe = Sharpe(returns, periodsPerYear)
	m.Sortino = Sortino(returns, periodsPerYear)
	m.MaxDrawdown, m.MaxDrawdownPct = MaxDrawdown(equity)

	var total, wins, losses float64
	var nWins, nLosses int
	for _, t := range trades {
		total += t.PnL
		if t.PnL > 0 {
			wins += t.PnL
			nWins++
		} else if t.PnL < 0 {
			losses += t.PnL
			nLosses++
		}
	}
	if len(trades) > 0 {
		m.AvgPnL = total / float64(len(trades))
	}
	if nWins > 0 {
		m.AvgWin = wins / float64(nWins)
	}
	if nLosses > 0 {
		m.AvgLoss = losses / float64(nLosses)
	}
	return m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation, NaN below two values.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
