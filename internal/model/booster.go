package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/logging"
)

var log = logging.New("gbm")

const numDirections = 3

// Model is anything that turns a feature row into a prediction and can attribute
// its raw output to the input features.
type Model interface {
	Mode() Mode
	FeatureNames() []string
	PredictRow(row []float64) Prediction
	// Contributions returns, per output (one for regression, one per class for
	// classification), the additive contribution of every feature to the raw score.
	Contributions(row []float64) [][]float64
}

// Booster is an ensemble of gradient-boosted regression trees. Classification keeps
// one tree per class per round and combines them with a softmax.
type Booster struct {
	ModelMode     Mode      `json:"mode"`
	Features      []string  `json:"features"`
	NumClass      int       `json:"num_class"`
	BaseScore     []float64 `json:"base_score"`
	LearningRate  float64   `json:"learning_rate"`
	Trees         [][]Tree  `json:"trees"`
	BestIteration int       `json:"best_iteration"`
}

func (b *Booster) Mode() Mode {
	return b.ModelMode
}

func (b *Booster) FeatureNames() []string {
	return b.Features
}

func (b *Booster) raw(row []float64) []float64 {
	out := make([]float64, b.NumClass)
	copy(out, b.BaseScore)
	for _, round := range b.Trees {
		for k := range round {
			out[k] += b.LearningRate * round[k].Predict(row)
		}
	}
	return out
}

func (b *Booster) PredictRow(row []float64) Prediction {
	raw := b.raw(row)
	if b.ModelMode == ModeRegression {
		return RegressionPrediction(raw[0])
	}
	return ClassificationPrediction(softmax(raw))
}

func (b *Booster) Contributions(row []float64) [][]float64 {
	out := make([][]float64, b.NumClass)
	for k := range out {
		out[k] = make([]float64, len(b.Features))
	}
	for _, round := range b.Trees {
		for k := range round {
			round[k].addContributions(row, b.LearningRate, out[k])
		}
	}
	return out
}

// WriteTo serialises the booster as JSON.
func (b *Booster) WriteTo(w io.Writer) (int64, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal booster: %w", err)
	}
	n, err := w.Write(data)
	return int64(n), err
}

func LoadBooster(r io.Reader) (*Booster, error) {
	var b Booster
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode booster: %w", err)
	}
	if !b.ModelMode.Valid() {
		return nil, fmt.Errorf("unknown model mode: %s", b.ModelMode)
	}
	if b.NumClass != len(b.BaseScore) || b.NumClass == 0 {
		return nil, errors.New("booster base score does not match class count")
	}
	return &b, nil
}

// boost fits trees on train and early-stops on val when val is not empty.
func boost(train, val Dataset, cfg config.ModelConfig) (*Booster, error) {
	n := train.Len()
	if n == 0 {
		return nil, errors.New("empty training set")
	}
	nf := len(train.Features)
	mode := train.Mode

	b := &Booster{
		ModelMode:    mode,
		Features:     train.Features,
		NumClass:     1,
		LearningRate: cfg.LearningRate,
	}
	if mode == ModeClassification {
		b.NumClass = numDirections
	}
	b.BaseScore = baseScore(train, b.NumClass)
	K := b.NumClass

	maxBins := cfg.MaxBins
	if maxBins < 2 || maxBins > 256 {
		maxBins = 32
	}
	bn := newBinner(train.X, nf, maxBins)
	bins := make([][]uint8, nf)
	for f := 0; f < nf; f++ {
		bins[f] = make([]uint8, n)
		for i, row := range train.X {
			bins[f][i] = bn.bin(f, row[f])
		}
	}

	scores := initScores(n, b.BaseScore)
	valScores := initScores(val.Len(), b.BaseScore)

	rng := rand.New(rand.NewSource(cfg.Seed))
	gr := &grower{
		bins:          bins,
		binner:        bn,
		g:             make([]float64, n),
		h:             make([]float64, n),
		maxDepth:      cfg.MaxDepth,
		minDataInLeaf: max(cfg.MinDataInLeaf, 1),
		lambda:        cfg.Lambda,
	}
	probs := make([][]float64, n)

	bestLoss := math.Inf(1)
	best := 0
	for round := 0; round < cfg.NumBoostRound; round++ {
		rows := sampleRows(rng, n, cfg.BaggingFraction)
		gr.features = sampleFeatures(rng, nf, cfg.FeatureFraction)

		if K > 1 {
			for i := range scores {
				probs[i] = softmax(scores[i])
			}
		}

		trees := make([]Tree, K)
		for k := 0; k < K; k++ {
			for i := 0; i < n; i++ {
				if K == 1 {
					gr.g[i] = scores[i][0] - train.Y[i]
					gr.h[i] = 1
					continue
				}
				y := 0.0
				if classOf(train.Y[i]) == k {
					y = 1
				}
				p := probs[i][k]
				gr.g[i] = p - y
				gr.h[i] = math.Max(p*(1-p), 1e-6)
			}
			trees[k] = gr.grow(rows)
		}
		b.Trees = append(b.Trees, trees)

		for k := 0; k < K; k++ {
			for i, row := range train.X {
				scores[i][k] += cfg.LearningRate * trees[k].Predict(row)
			}
			for i, row := range val.X {
				valScores[i][k] += cfg.LearningRate * trees[k].Predict(row)
			}
		}

		if val.Len() == 0 {
			best = round
			continue
		}
		loss := evalLoss(mode, valScores, val.Y)
		if loss < bestLoss {
			bestLoss = loss
			best = round
		}
		if cfg.EarlyStoppingRounds > 0 && round-best >= cfg.EarlyStoppingRounds {
			log.Debug("Early stopping", "round", round, "best", best, "loss", bestLoss)
			break
		}
	}

	b.Trees = b.Trees[:best+1]
	b.BestIteration = best + 1
	return b, nil
}

func baseScore(ds Dataset, numClass int) []float64 {
	out := make([]float64, numClass)
	if numClass == 1 {
		var sum float64
		for _, y := range ds.Y {
			sum += y
		}
		out[0] = sum / float64(ds.Len())
		return out
	}
	counts := make([]float64, numClass)
	for _, y := range ds.Y {
		counts[classOf(y)]++
	}
	for k := range out {
		out[k] = math.Log((counts[k] + 1) / (float64(ds.Len()) + float64(numClass)))
	}
	return out
}

func initScores(n int, base []float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), base...)
	}
	return out
}

// classOf maps a direction label (-1, 0, 1) onto a class index.
func classOf(label float64) int {
	c := int(math.Round(label)) + 1
	return min(max(c, 0), numDirections-1)
}

func softmax(raw []float64) []float64 {
	m := math.Inf(-1)
	for _, v := range raw {
		m = math.Max(m, v)
	}
	out := make([]float64, len(raw))
	var sum float64
	for k, v := range raw {
		out[k] = math.Exp(v - m)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// evalLoss is MAE for regression and multi-class log loss for classification.
func evalLoss(mode Mode, scores [][]float64, y []float64) float64 {
	var total float64
	for i, s := range scores {
		if mode == ModeRegression {
			total += math.Abs(s[0] - y[i])
			continue
		}
		p := softmax(s)[classOf(y[i])]
		total -= math.Log(math.Max(p, 1e-15))
	}
	return total / float64(len(scores))
}

func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if fraction >= 1 || rng.Float64() < fraction {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

func sampleFeatures(rng *rand.Rand, nf int, fraction float64) []int {
	k := int(math.Ceil(float64(nf) * fraction))
	k = min(max(k, 1), nf)
	perm := rng.Perm(nf)[:k]
	return perm
}
