package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jwtly10/fxbot/internal/features"
)

const (
	ModeRegression     Mode = "regression"
	ModeClassification Mode = "classification"
)

// Mode selects between forecasting the log return and classifying the
// triple barrier outcome (down / neutral / up).
type Mode string

func (m Mode) Valid() bool {
	return m == ModeRegression || m == ModeClassification
}

var ErrMissingFeature = errors.New("missing feature column")

// Dataset is a row-major design matrix with its target.
type Dataset struct {
	Mode     Mode
	Features []string
	X        [][]float64
	Y        []float64
	Times    []time.Time
}

func (d Dataset) Len() int {
	return len(d.Y)
}

// Head returns the first n samples, sharing storage.
func (d Dataset) Head(n int) Dataset {
	if n > d.Len() {
		n = d.Len()
	}
	return Dataset{Mode: d.Mode, Features: d.Features, X: d.X[:n], Y: d.Y[:n], Times: d.Times[:n]}
}

// Tail returns the samples from index i onwards, sharing storage.
func (d Dataset) Tail(i int) Dataset {
	if i > d.Len() {
		i = d.Len()
	}
	return Dataset{Mode: d.Mode, Features: d.Features, X: d.X[i:], Y: d.Y[i:], Times: d.Times[i:]}
}

// BuildTarget returns log(close[t+horizon] / close[t]); the last horizon rows are NaN.
func BuildTarget(closes []float64, horizon int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		j := i + horizon
		if j >= len(closes) || closes[i] <= 0 || closes[j] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(closes[j] / closes[i])
	}
	return out
}

// FeatureColumns lists every model input column of the matrix in order.
func FeatureColumns(fm *features.Matrix) []string {
	var out []string
	for _, name := range fm.Columns() {
		if !features.IsBaseColumn(name) {
			out = append(out, name)
		}
	}
	return out
}

// PrepareDataset builds X and y from the feature matrix. The target only ever looks
// forward within fm, rows without a defined target are dropped.
func PrepareDataset(fm *features.Matrix, horizon int, selected []string, mode Mode) (Dataset, error) {
	if !mode.Valid() {
		return Dataset{}, fmt.Errorf("unknown model mode: %s", mode)
	}
	closes, ok := fm.Column(features.ColClose)
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %s", ErrMissingFeature, features.ColClose)
	}

	names := selected
	if len(names) == 0 {
		names = FeatureColumns(fm)
	}
	cols, err := columns(fm, names)
	if err != nil {
		return Dataset{}, err
	}

	var target []float64
	if mode == ModeClassification {
		target = TripleBarrierLabels(closes, horizon, DefaultBarrierMult, DefaultBarrierMult, DefaultVolLookback)
	} else {
		target = BuildTarget(closes, horizon)
	}

	ds := Dataset{Mode: mode, Features: names}
	for i := 0; i < fm.Len(); i++ {
		if math.IsNaN(target[i]) {
			continue
		}
		row, complete := gatherRow(cols, i)
		if !complete {
			continue
		}
		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, target[i])
		ds.Times = append(ds.Times, fm.Times[i])
	}

	slog.Debug("Prepared dataset", "mode", mode, "samples", ds.Len(), "features", len(names))
	return ds, nil
}

// Rows extracts the named columns row by row for prediction.
func Rows(fm *features.Matrix, names []string) ([][]float64, error) {
	cols, err := columns(fm, names)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, fm.Len())
	for i := range rows {
		rows[i], _ = gatherRow(cols, i)
	}
	return rows, nil
}

func columns(fm *features.Matrix, names []string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for k, name := range names {
		col, ok := fm.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
		cols[k] = col
	}
	return cols, nil
}

func gatherRow(cols [][]float64, i int) ([]float64, bool) {
	row := make([]float64, len(cols))
	complete := true
	for k, col := range cols {
		row[k] = col[i]
		if math.IsNaN(col[i]) {
			complete = false
		}
	}
	return row, complete
}
