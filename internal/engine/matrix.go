package engine

import (
	"errors"
	"fmt"
	"math"
)

var ErrShapeMismatch = errors.New("matrix shapes differ")

// Matrix is a labelled dense matrix stored row-major.
type Matrix struct {
	RowLabels []string
	ColLabels []string
	Values    [][]float64
}

// MatrixFromStore treats the first column as row labels and every other
// column as a numeric matrix column.
func MatrixFromStore(cs *ColumnStore) (*Matrix, error) {
	if len(cs.Names) < 2 {
		return nil, fmt.Errorf("matrix needs an index column and at least one value column, got %d columns", len(cs.Names))
	}
	rows := cs.Rows()
	m := &Matrix{
		RowLabels: cs.Columns[cs.Names[0]].Strings(),
		ColLabels: append([]string(nil), cs.Names[1:]...),
		Values:    make([][]float64, rows),
	}
	for i := range m.Values {
		m.Values[i] = make([]float64, len(m.ColLabels))
	}
	for j, name := range m.ColLabels {
		col := cs.Columns[name]
		for i := 0; i < rows; i++ {
			m.Values[i][j] = col.Float(i)
		}
	}
	return m, nil
}

func (m *Matrix) Shape() (int, int) { return len(m.RowLabels), len(m.ColLabels) }

// MinMax returns the smallest and largest finite values, or 0, 0 when the
// matrix has none.
func (m *Matrix) MinMax() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range m.Values {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// Reorder returns the submatrix selecting rows then cols by position.
func (m *Matrix) Reorder(rows, cols []int) *Matrix {
	out := &Matrix{
		RowLabels: make([]string, len(rows)),
		ColLabels: make([]string, len(cols)),
		Values:    make([][]float64, len(rows)),
	}
	for j, c := range cols {
		out.ColLabels[j] = m.ColLabels[c]
	}
	for i, r := range rows {
		out.RowLabels[i] = m.RowLabels[r]
		out.Values[i] = make([]float64, len(cols))
		for j, c := range cols {
			out.Values[i][j] = m.Values[r][c]
		}
	}
	return out
}

// UpperMask keeps the strict upper triangle (j > i) and blanks the rest with NaN.
func (m *Matrix) UpperMask() *Matrix {
	out := m.Reorder(seq(len(m.RowLabels)), seq(len(m.ColLabels)))
	for i, row := range out.Values {
		for j := range row {
			if j <= i {
				row[j] = math.NaN()
			}
		}
	}
	return out
}

// Where keeps cells whose mask value is non-zero and blanks the rest with NaN.
func (m *Matrix) Where(mask *Matrix) (*Matrix, error) {
	mr, mc := m.Shape()
	kr, kc := mask.Shape()
	if mr != kr || mc != kc {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, mr, mc, kr, kc)
	}
	out := m.Reorder(seq(mr), seq(mc))
	for i, row := range out.Values {
		for j := range row {
			if v := mask.Values[i][j]; v == 0 || math.IsNaN(v) {
				row[j] = math.NaN()
			}
		}
	}
	return out, nil
}

// Melt converts the matrix to long form walking column by column:
// rowName and colName hold the labels, valName the cell value.
// dropNaN skips blank cells.
func (m *Matrix) Melt(rowName, colName, valName string, dropNaN bool) Dataset {
	rowLabels := make([]string, 0, len(m.RowLabels)*len(m.ColLabels))
	colLabels := make([]string, 0, cap(rowLabels))
	vals := make([]float64, 0, cap(rowLabels))
	for j, c := range m.ColLabels {
		for i, r := range m.RowLabels {
			v := m.Values[i][j]
			if dropNaN && math.IsNaN(v) {
				continue
			}
			rowLabels = append(rowLabels, r)
			colLabels = append(colLabels, c)
			vals = append(vals, v)
		}
	}
	return Dataset{
		rowName: CategoricalColumn(rowLabels),
		colName: CategoricalColumn(colLabels),
		valName: NumericColumn(vals),
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
