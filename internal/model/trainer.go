package model

import (
	"fmt"
	"math"

	"github.com/jwtly10/fxbot/internal/config"
)

const MinTrainingSamples = 100

// TrainMetrics describes a fit on its held-out tail. Regression fills MAE,
// DirectionAccuracy and InformationCoefficient, classification fills Accuracy and LogLoss.
type TrainMetrics struct {
	MAE                    float64 `json:"mae,omitempty" yaml:"mae,omitempty"`
	DirectionAccuracy      float64 `json:"direction_accuracy,omitempty" yaml:"direction_accuracy,omitempty"`
	InformationCoefficient float64 `json:"information_coefficient,omitempty" yaml:"information_coefficient,omitempty"`
	Accuracy               float64 `json:"accuracy,omitempty" yaml:"accuracy,omitempty"`
	LogLoss                float64 `json:"log_loss,omitempty" yaml:"log_loss,omitempty"`
	BestIteration          int     `json:"best_iteration" yaml:"best_iteration"`
	NumFeatures            int     `json:"num_features" yaml:"num_features"`
	TrainSamples           int     `json:"train_samples" yaml:"train_samples"`
	ValSamples             int     `json:"val_samples" yaml:"val_samples"`
}

// Train fits a booster on ds. The trailing ValidationRatio share of the samples is
// held out in time order for early stopping and for the reported metrics.
func Train(ds Dataset, cfg config.ModelConfig) (*Booster, TrainMetrics, error) {
	if !ds.Mode.Valid() {
		return nil, TrainMetrics{}, fmt.Errorf("unknown model mode: %s", ds.Mode)
	}
	if ds.Len() < 2 {
		return nil, TrainMetrics{}, fmt.Errorf("not enough samples to train: %d", ds.Len())
	}

	split := int(float64(ds.Len()) * (1 - cfg.ValidationRatio))
	split = min(max(split, 1), ds.Len())
	train, val := ds.Head(split), ds.Tail(split)

	log.Debug("Training booster", "mode", ds.Mode, "train", train.Len(), "val", val.Len(), "features", len(ds.Features))

	b, err := boost(train, val, cfg)
	if err != nil {
		return nil, TrainMetrics{}, fmt.Errorf("failed to train booster: %w", err)
	}

	eval := val
	if eval.Len() == 0 {
		eval = train
	}
	metrics := evaluate(b, eval)
	metrics.BestIteration = b.BestIteration
	metrics.NumFeatures = len(ds.Features)
	metrics.TrainSamples = train.Len()
	metrics.ValSamples = val.Len()

	log.Info("Training complete", "best_iteration", metrics.BestIteration, "mae", metrics.MAE,
		"direction_accuracy", metrics.DirectionAccuracy, "accuracy", metrics.Accuracy)
	return b, metrics, nil
}

func evaluate(b *Booster, ds Dataset) TrainMetrics {
	var m TrainMetrics
	n := float64(ds.Len())

	if b.ModelMode == ModeClassification {
		var correct int
		var loss float64
		for i, row := range ds.X {
			probs := softmax(b.raw(row))
			k := classOf(ds.Y[i])
			if argmax(probs) == k {
				correct++
			}
			loss -= math.Log(math.Max(probs[k], 1e-15))
		}
		m.Accuracy = float64(correct) / n
		m.LogLoss = loss / n
		return m
	}

	preds := make([]float64, ds.Len())
	var absErr float64
	var sameSign int
	for i, row := range ds.X {
		preds[i] = b.raw(row)[0]
		absErr += math.Abs(preds[i] - ds.Y[i])
		if sign(preds[i]) == sign(ds.Y[i]) {
			sameSign++
		}
	}
	m.MAE = absErr / n
	m.DirectionAccuracy = float64(sameSign) / n
	m.InformationCoefficient = pearson(preds, ds.Y)
	return m
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func argmax(values []float64) int {
	best := 0
	for k, v := range values {
		if v > values[best] {
			best = k
		}
	}
	return best
}

// pearson returns 0 when either series is constant.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n < 2 {
		return 0
	}
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
