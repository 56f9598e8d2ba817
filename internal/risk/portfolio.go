package risk

import "log/slog"

const MaxPositionsPerSymbol = 2

// OpenPosition is the broker view of a live position needed for portfolio gating.
type OpenPosition struct {
	Ticket string  `json:"ticket" db:"ticket"`
	Symbol string  `json:"symbol" db:"symbol"`
	Lot    float64 `json:"lot" db:"lot"`
}

// CanOpenPosition reports whether another position on symbol fits the portfolio.
func CanOpenPosition(open []OpenPosition, symbol string, maxPositions int) bool {
	if len(open) >= maxPositions {
		slog.Debug("Max positions reached", "open", len(open), "max", maxPositions)
		return false
	}

	same := 0
	for _, p := range open {
		if p.Symbol == symbol {
			same++
		}
	}
	if same >= MaxPositionsPerSymbol {
		slog.Debug("Max positions for symbol reached", "symbol", symbol, "open", same)
		return false
	}
	return true
}

func TotalExposure(open []OpenPosition) float64 {
	var total float64
	for _, p := range open {
		total += p.Lot
	}
	return total
}
