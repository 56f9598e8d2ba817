package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/jwtly10/fxbot/internal/features"
)

var ErrNoRows = errors.New("feature matrix has no rows")

// Prediction is a regression return forecast or a classified direction with its
// probability. Effective folds either into one signed number.
type Prediction struct {
	Mode          Mode      `json:"mode"`
	Value         float64   `json:"value"`
	Direction     int       `json:"direction"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

func RegressionPrediction(v float64) Prediction {
	return Prediction{Mode: ModeRegression, Value: v, Direction: sign(v), Confidence: 1}
}

// ClassificationPrediction picks the most likely of the down/neutral/up classes.
func ClassificationPrediction(probs []float64) Prediction {
	k := argmax(probs)
	return Prediction{
		Mode:          ModeClassification,
		Direction:     k - 1,
		Confidence:    probs[k],
		Probabilities: probs,
	}
}

func (p Prediction) Effective() float64 {
	if p.Mode == ModeClassification {
		return float64(p.Direction) * p.Confidence
	}
	return p.Value
}

type Predictor struct {
	model Model
}

func NewPredictor(m Model) *Predictor {
	return &Predictor{model: m}
}

func (p *Predictor) Model() Model {
	return p.model
}

// Signals predicts every row of fm. Rows with missing values get a zero prediction.
func (p *Predictor) Signals(fm *features.Matrix) ([]Prediction, error) {
	rows, err := Rows(fm, p.model.FeatureNames())
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(rows))
	for i, row := range rows {
		if hasNaN(row) {
			out[i] = Prediction{Mode: p.model.Mode()}
			continue
		}
		out[i] = p.model.PredictRow(row)
	}
	return out, nil
}

// Predict returns the effective prediction of every row.
func (p *Predictor) Predict(fm *features.Matrix) ([]float64, error) {
	preds, err := p.Signals(fm)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(preds))
	for i, pr := range preds {
		out[i] = pr.Effective()
	}
	return out, nil
}

func (p *Predictor) Latest(fm *features.Matrix) (Prediction, error) {
	if fm.Len() == 0 {
		return Prediction{}, ErrNoRows
	}
	preds, err := p.Signals(fm.Slice(fm.Len()-1, fm.Len()))
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

func (p *Predictor) PredictLatest(fm *features.Matrix) (float64, error) {
	pr, err := p.Latest(fm)
	if err != nil {
		return 0, err
	}
	return pr.Effective(), nil
}

// PredictLatestWithConfidence returns the effective prediction and its confidence.
// Regression models report a confidence of 1.
func (p *Predictor) PredictLatestWithConfidence(fm *features.Matrix) (float64, float64, error) {
	pr, err := p.Latest(fm)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to predict latest row: %w", err)
	}
	return pr.Effective(), pr.Confidence, nil
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
