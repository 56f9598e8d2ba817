package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jwtly10/fxbot/internal/types"
)

// Matrix is a column oriented feature table indexed by strictly increasing timestamps.
// Slices returned by Slice and Between share storage with the parent and must be
// treated as read-only.
type Matrix struct {
	Times []time.Time

	names []string
	index map[string]int
	cols  [][]float64
}

func NewMatrix(times []time.Time) *Matrix {
	return &Matrix{
		Times: times,
		index: make(map[string]int),
	}
}

// Set adds or replaces a column. It panics on a length mismatch since that is a
// programming error in a feature function.
func (m *Matrix) Set(name string, values []float64) {
	if len(values) != len(m.Times) {
		panic(fmt.Sprintf("column %s has %d rows, matrix has %d", name, len(values), len(m.Times)))
	}
	if i, ok := m.index[name]; ok {
		m.cols[i] = values
		return
	}
	m.index[name] = len(m.names)
	m.names = append(m.names, name)
	m.cols = append(m.cols, values)
}

func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Times)
}

// Columns returns the column names in insertion order.
func (m *Matrix) Columns() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

func (m *Matrix) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

func (m *Matrix) Column(name string) ([]float64, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.cols[i], true
}

func (m *Matrix) MustColumn(name string) []float64 {
	col, ok := m.Column(name)
	if !ok {
		panic(fmt.Sprintf("missing column %s", name))
	}
	return col
}

// Bar rebuilds the OHLCV bar at row i.
func (m *Matrix) Bar(i int) types.Bar {
	bar := types.Bar{
		Timestamp: m.Times[i],
		Open:      m.MustColumn(ColOpen)[i],
		High:      m.MustColumn(ColHigh)[i],
		Low:       m.MustColumn(ColLow)[i],
		Close:     m.MustColumn(ColClose)[i],
	}
	if vol, ok := m.Column(ColVolume); ok {
		bar.Volume = vol[i]
	}
	return bar
}

// Slice returns rows [i, j).
func (m *Matrix) Slice(i, j int) *Matrix {
	if i < 0 {
		i = 0
	}
	if j > m.Len() {
		j = m.Len()
	}
	if j < i {
		j = i
	}
	out := &Matrix{
		Times: m.Times[i:j],
		names: m.names,
		index: m.index,
		cols:  make([][]float64, len(m.cols)),
	}
	for c, col := range m.cols {
		out.cols[c] = col[i:j]
	}
	return out
}

// SearchTime returns the first row whose timestamp is at or after t.
func (m *Matrix) SearchTime(t time.Time) int {
	return sort.Search(len(m.Times), func(i int) bool {
		return !m.Times[i].Before(t)
	})
}

// Between returns rows with timestamps in [from, to).
func (m *Matrix) Between(from, to time.Time) *Matrix {
	return m.Slice(m.SearchTime(from), m.SearchTime(to))
}

// DropIncomplete returns a copy without rows that hold a NaN or infinite value in any column.
func (m *Matrix) DropIncomplete() *Matrix {
	keep := make([]int, 0, m.Len())
	for i := range m.Times {
		complete := true
		for _, col := range m.cols {
			if math.IsNaN(col[i]) || math.IsInf(col[i], 0) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}

	times := make([]time.Time, len(keep))
	for k, i := range keep {
		times[k] = m.Times[i]
	}
	out := NewMatrix(times)
	for c, name := range m.names {
		values := make([]float64, len(keep))
		for k, i := range keep {
			values[k] = m.cols[c][i]
		}
		out.Set(name, values)
	}
	return out
}

// FromBars creates a matrix holding only the OHLCV columns.
func FromBars(bars []types.Bar) *Matrix {
	n := len(bars)
	times := make([]time.Time, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)

	for i, b := range bars {
		times[i] = b.Timestamp
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = b.Volume
	}

	m := NewMatrix(times)
	m.Set(ColOpen, open)
	m.Set(ColHigh, high)
	m.Set(ColLow, low)
	m.Set(ColClose, closes)
	m.Set(ColVolume, volume)
	return m
}
