package model

import (
	"math"
	"sort"
)

// Node is one split or leaf of a regression tree. Value holds the node's
// Newton step so path contributions can be read off internal nodes too.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree; values <= threshold go left.
func (t *Tree) Predict(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// addContributions credits every split on the decision path with the change in node
// value it causes, scaled by the learning rate. The credits sum to leaf minus root.
func (t *Tree) addContributions(row []float64, scale float64, out []float64) {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return
		}
		next := n.Right
		if row[n.Feature] <= n.Threshold {
			next = n.Left
		}
		out[n.Feature] += scale * (t.Nodes[next].Value - n.Value)
		i = next
	}
}

// binner maps raw feature values onto quantile bins. Bin k holds values in
// (edges[k-1], edges[k]], so "bin <= k" is the split "value <= edges[k]".
type binner struct {
	edges [][]float64
}

func newBinner(X [][]float64, numFeatures, maxBins int) *binner {
	b := &binner{edges: make([][]float64, numFeatures)}
	values := make([]float64, len(X))
	for f := 0; f < numFeatures; f++ {
		for i, row := range X {
			values[i] = row[f]
		}
		sort.Float64s(values)
		b.edges[f] = quantileEdges(values, maxBins)
	}
	return b
}

func quantileEdges(sorted []float64, maxBins int) []float64 {
	if len(sorted) == 0 {
		return nil
	}
	var edges []float64
	last := sorted[len(sorted)-1]
	for q := 1; q < maxBins; q++ {
		v := sorted[q*(len(sorted)-1)/maxBins]
		if v >= last {
			break
		}
		if len(edges) == 0 || v > edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

func (b *binner) bin(f int, v float64) uint8 {
	return uint8(sort.SearchFloat64s(b.edges[f], v))
}

func (b *binner) numBins(f int) int {
	return len(b.edges[f]) + 1
}

// grower fits one tree to gradients g and hessians h using pre-binned features.
type grower struct {
	bins          [][]uint8 // feature-major
	binner        *binner
	g, h          []float64
	features      []int
	maxDepth      int
	minDataInLeaf int
	lambda        float64
}

func (gr *grower) grow(rows []int) Tree {
	var t Tree
	gr.build(&t, rows, 0)
	return t
}

func (gr *grower) build(t *Tree, rows []int, depth int) int {
	var G, H float64
	for _, r := range rows {
		G += gr.g[r]
		H += gr.h[r]
	}

	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Value: -G / (H + gr.lambda), Leaf: true})

	if depth >= gr.maxDepth || len(rows) < 2*gr.minDataInLeaf {
		return idx
	}

	feature, bin, ok := gr.bestSplit(rows, G, H)
	if !ok {
		return idx
	}

	var left, right []int
	col := gr.bins[feature]
	for _, r := range rows {
		if col[r] <= bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := gr.build(t, left, depth+1)
	r := gr.build(t, right, depth+1)

	t.Nodes[idx].Leaf = false
	t.Nodes[idx].Feature = feature
	t.Nodes[idx].Threshold = gr.binner.edges[feature][bin]
	t.Nodes[idx].Left = l
	t.Nodes[idx].Right = r
	return idx
}

func (gr *grower) bestSplit(rows []int, G, H float64) (int, uint8, bool) {
	parent := G * G / (H + gr.lambda)
	bestGain := 1e-12
	bestFeature, bestBin, found := 0, uint8(0), false

	for _, f := range gr.features {
		nb := gr.binner.numBins(f)
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		hc := make([]int, nb)
		col := gr.bins[f]
		for _, r := range rows {
			b := col[r]
			hg[b] += gr.g[r]
			hh[b] += gr.h[r]
			hc[b]++
		}

		var gl, hl float64
		var cl int
		for k := 0; k < nb-1; k++ {
			gl += hg[k]
			hl += hh[k]
			cl += hc[k]
			cr := len(rows) - cl
			if cl < gr.minDataInLeaf {
				continue
			}
			if cr < gr.minDataInLeaf {
				break
			}
			gr2, hr := G-gl, H-hl
			gain := gl*gl/(hl+gr.lambda) + gr2*gr2/(hr+gr.lambda) - parent
			if gain > bestGain && !math.IsNaN(gain) {
				bestGain = gain
				bestFeature = f
				bestBin = uint8(k)
				found = true
			}
		}
	}
	return bestFeature, bestBin, found
}
