package model

import (
	"math"
	"math/rand"
	"sort"
)

const (
	DefaultImportanceSamples = 5000
	importanceSeed           = 42
)

// Importance is a feature's mean absolute contribution and the running share of
// total importance up to and including it.
type Importance struct {
	Feature       string  `json:"feature" yaml:"feature"`
	Importance    float64 `json:"importance" yaml:"importance"`
	CumulativePct float64 `json:"cumulative_pct" yaml:"cumulative_pct"`
}

// SelectFeatures ranks the model's features by mean |contribution| over at most
// DefaultImportanceSamples rows of ds and keeps the top max(1, int(n*topPct)).
func SelectFeatures(m Model, ds Dataset, topPct float64) ([]string, []Importance) {
	return SelectFeaturesN(m, ds, topPct, DefaultImportanceSamples)
}

func SelectFeaturesN(m Model, ds Dataset, topPct float64, maxSamples int) ([]string, []Importance) {
	names := m.FeatureNames()
	if len(names) == 0 {
		return nil, nil
	}

	rows := ds.X
	if maxSamples > 0 && len(rows) > maxSamples {
		rng := rand.New(rand.NewSource(importanceSeed))
		idx := rng.Perm(len(rows))[:maxSamples]
		sort.Ints(idx)
		sampled := make([][]float64, len(idx))
		for i, j := range idx {
			sampled[i] = rows[j]
		}
		rows = sampled
	}

	sums := make([]float64, len(names))
	for _, row := range rows {
		for _, out := range m.Contributions(row) {
			for f, c := range out {
				sums[f] += math.Abs(c)
			}
		}
	}

	ranking := make([]Importance, len(names))
	var total float64
	for f, name := range names {
		imp := 0.0
		if len(rows) > 0 {
			imp = sums[f] / float64(len(rows))
		}
		ranking[f] = Importance{Feature: name, Importance: imp}
		total += imp
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Importance > ranking[j].Importance
	})

	var cum float64
	for i := range ranking {
		cum += ranking[i].Importance
		if total > 0 {
			ranking[i].CumulativePct = cum / total
		}
	}

	n := max(1, int(float64(len(names))*topPct))
	n = min(n, len(names))
	selected := make([]string, n)
	for i := range selected {
		selected[i] = ranking[i].Feature
	}

	log.Debug("Selected features", "kept", n, "of", len(names), "top", selected[0])
	return selected, ranking
}
