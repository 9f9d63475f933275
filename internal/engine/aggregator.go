package engine

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
)

// ColumnStats summarizes one numeric column. NaN values are skipped.
type ColumnStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// Bounds is the min/max pair used for axis ranges.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type colResult struct {
	name  string
	stats ColumnStats
}

// Describe computes ColumnStats for every numeric column, one column per worker.
// Std is the sample standard deviation (NaN below two values).
func (cs *ColumnStore) Describe() map[string]ColumnStats {
	jobs := make(chan string)
	results := make(chan colResult, len(cs.Names))
	var wg sync.WaitGroup

	numWorkers := runtime.NumCPU()
	if numWorkers > len(cs.Names) {
		numWorkers = len(cs.Names)
	}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				results <- colResult{name: name, stats: describeColumn(cs.Columns[name].Nums)}
			}
		}()
	}

	go func() {
		for _, name := range cs.Names {
			if !cs.Columns[name].IsCategorical() {
				jobs <- name
			}
		}
		close(jobs)
	}()
	go func() { wg.Wait(); close(results) }()

	out := make(map[string]ColumnStats)
	for r := range results {
		out[r.name] = r.stats
	}
	return out
}

func describeColumn(vals []float64) ColumnStats {
	st := ColumnStats{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), Std: math.NaN()}

	// Welford's running mean/variance.
	var mean, m2 float64
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		st.Count++
		if st.Count == 1 || v < st.Min {
			st.Min = v
		}
		if st.Count == 1 || v > st.Max {
			st.Max = v
		}
		delta := v - mean
		mean += delta / float64(st.Count)
		m2 += delta * (v - mean)
	}
	if st.Count > 0 {
		st.Mean = mean
	}
	if st.Count > 1 {
		st.Std = math.Sqrt(m2 / float64(st.Count-1))
	}
	return st
}

// MergeBounds combines per-table statistics into dashboard-wide bounds:
// the lowest min and highest max seen for each column.
func MergeBounds(tables ...map[string]ColumnStats) map[string]Bounds {
	out := make(map[string]Bounds)
	for _, t := range tables {
		for name, st := range t {
			if st.Count == 0 {
				continue
			}
			b, ok := out[name]
			if !ok {
				out[name] = Bounds{Min: st.Min, Max: st.Max}
				continue
			}
			b.Min = math.Min(b.Min, st.Min)
			b.Max = math.Max(b.Max, st.Max)
			out[name] = b
		}
	}
	return out
}

// QuantitativeColumns lists numeric columns with non-zero spread, in header order.
func (cs *ColumnStore) QuantitativeColumns() []string {
	stats := cs.Describe()
	var out []string
	for _, name := range cs.Names {
		st, ok := stats[name]
		if ok && st.Std > 0 {
			out = append(out, name)
		}
	}
	return out
}

// Mirror appends a copy of every row with the row and column coordinates
// swapped, keeping the original rows first.
func (cs *ColumnStore) Mirror(rowCoord, colCoord string) (*ColumnStore, error) {
	rowC, err := cs.Column(rowCoord)
	if err != nil {
		return nil, err
	}
	colC, err := cs.Column(colCoord)
	if err != nil {
		return nil, err
	}

	cols := make([]Column, len(cs.Names))
	for i, name := range cs.Names {
		second := cs.Columns[name]
		switch name {
		case rowCoord:
			second = colC
		case colCoord:
			second = rowC
		}
		cols[i], err = Concat(cs.Columns[name], second)
		if err != nil {
			return nil, fmt.Errorf("mirror %q: %w", name, err)
		}
	}
	return NewColumnStore(append([]string(nil), cs.Names...), cols)
}

// Symmetrize mirrors the store, then stable-sorts by (activeCol, batchCol).
// An empty batchCol sorts by activeCol only.
func (cs *ColumnStore) Symmetrize(rowCoord, colCoord, activeCol, batchCol string) (*ColumnStore, error) {
	doubled, err := cs.Mirror(rowCoord, colCoord)
	if err != nil {
		return nil, err
	}

	active, err := doubled.Column(activeCol)
	if err != nil {
		return nil, err
	}
	var batch Column
	hasBatch := false
	if batchCol != "" {
		if batch, err = doubled.Column(batchCol); err != nil {
			return nil, err
		}
		hasBatch = true
	}

	order := make([]int, doubled.Rows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if va, vb := active.Float(ia), active.Float(ib); va != vb {
			return va < vb
		}
		if hasBatch {
			return batch.Float(ia) < batch.Float(ib)
		}
		return false
	})
	return doubled.Take(order), nil
}

// Percentile returns the q-th percentile (0-100) of the non-NaN values,
// interpolating linearly between the closest ranks. It returns NaN when
// there are no values.
func Percentile(vals []float64, q float64) float64 {
	sorted := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)

	q = math.Max(0, math.Min(100, q))
	rank := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
