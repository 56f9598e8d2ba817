package types

import (
	"fmt"
	"time"
)

const (
	Long  Side = "buy"
	Short Side = "sell"

	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"

	// ContractSize is the number of base currency units in one standard lot.
	ContractSize = 100000
)

type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Side is the direction of a position.
type Side string

// Sign returns +1 for longs and -1 for shorts.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == Long || s == Short
}

// SideFromPrediction maps a signed prediction onto a side. Zero maps to Short,
// callers gate on the threshold first.
func SideFromPrediction(p float64) Side {
	if p > 0 {
		return Long
	}
	return Short
}

type Timeframe string

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
}

func (tf Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0, fmt.Errorf("invalid timeframe: %s", tf)
	}
	return d, nil
}

func (tf Timeframe) MustDuration() time.Duration {
	d, err := tf.Duration()
	if err != nil {
		panic(err)
	}
	return d
}

func (tf Timeframe) String() string {
	return string(tf)
}
