// Package cluster orders matrix rows by agglomerative hierarchical clustering.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Method names a linkage criterion. MethodNone keeps the input order.
type Method string

const (
	MethodNone     Method = "none"
	MethodSingle   Method = "single"
	MethodComplete Method = "complete"
	MethodAverage  Method = "average"
	MethodWeighted Method = "weighted"
	MethodWard     Method = "ward"
)

var ErrUnknownMethod = errors.New("unknown linkage method")

// ParseMethod accepts method names case-insensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodNone, MethodSingle, MethodComplete, MethodAverage, MethodWeighted, MethodWard:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

type node struct {
	left, right int // child node ids, -1 for leaves
	size        int
}

// Order clusters rows (Euclidean distance, NaN treated as 0) and returns the
// dendrogram leaf order. Merged clusters keep the child with the smaller id
// on the left.
func Order(rows [][]float64, method Method) ([]int, error) {
	n := len(rows)
	if method == MethodNone || n < 2 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}

	nodes := make([]node, n, 2*n-1)
	for i := range nodes {
		nodes[i] = node{left: -1, right: -1, size: 1}
	}
	d := newCondensed(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.set(i, j, euclid(rows[i], rows[j]))
		}
	}

	// slot[i] is the node held in row i of d, -1 once merged away.
	// nn[i] caches the nearest live slot above i.
	slot := make([]int, n)
	nn := make([]int, n)
	nnDist := make([]float64, n)
	for i := range slot {
		slot[i] = i
	}
	for i := range slot {
		nn[i], nnDist[i] = d.nearest(i, slot)
	}

	for merges := 0; merges < n-1; merges++ {
		x := -1
		for i, id := range slot {
			if id >= 0 && nn[i] >= 0 && (x == -1 || nnDist[i] < nnDist[x]) {
				x = i
			}
		}
		y, best := nn[x], nnDist[x]
		a, b := slot[x], slot[y]
		id := len(nodes)
		nodes = append(nodes, node{left: min(a, b), right: max(a, b), size: nodes[a].size + nodes[b].size})

		// The union takes slot y; slot x retires.
		for k, kid := range slot {
			if kid < 0 || k == x || k == y {
				continue
			}
			d.set(k, y, lanceWilliams(method, d.at(k, x), d.at(k, y), best,
				nodes[a].size, nodes[b].size, nodes[kid].size))
		}
		slot[x] = -1
		slot[y] = id

		for i, kid := range slot {
			if kid < 0 {
				continue
			}
			switch {
			case i == y || nn[i] == x || nn[i] == y:
				nn[i], nnDist[i] = d.nearest(i, slot)
			case i < y && d.at(i, y) < nnDist[i]:
				nn[i], nnDist[i] = y, d.at(i, y)
			}
		}
	}

	root := -1
	for _, id := range slot {
		if id >= 0 {
			root = id
		}
	}

	// Iterative in-order walk of the root.
	order := make([]int, 0, n)
	stack := []int{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := nodes[id]
		if nd.left == -1 {
			order = append(order, id)
			continue
		}
		stack = append(stack, nd.right, nd.left)
	}
	return order, nil
}

// Transpose returns the columns of m as rows.
func Transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([][]float64, len(m[0]))
	for j := range out {
		out[j] = make([]float64, len(m))
		for i := range m {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// condensed is the upper triangle of a symmetric distance matrix.
type condensed struct {
	n    int
	vals []float64
}

func newCondensed(n int) *condensed {
	return &condensed{n: n, vals: make([]float64, n*(n-1)/2)}
}

func (c *condensed) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return c.n*i - i*(i+1)/2 + j - i - 1
}

func (c *condensed) at(i, j int) float64 { return c.vals[c.index(i, j)] }

func (c *condensed) set(i, j int, v float64) { c.vals[c.index(i, j)] = v }

// nearest returns the closest live slot above i, or -1 when there is none.
func (c *condensed) nearest(i int, slot []int) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for j := i + 1; j < c.n; j++ {
		if slot[j] < 0 {
			continue
		}
		if v := c.at(i, j); best == -1 || v < bestDist {
			best, bestDist = j, v
		}
	}
	return best, bestDist
}

func euclid(a, b []float64) float64 {
	var s float64
	for i := range a {
		x, y := a[i], b[i]
		if math.IsNaN(x) {
			x = 0
		}
		if math.IsNaN(y) {
			y = 0
		}
		s += (x - y) * (x - y)
	}
	return math.Sqrt(s)
}

// lanceWilliams returns the distance from cluster k to the union of i and j.
func lanceWilliams(m Method, dki, dkj, dij float64, ni, nj, nk int) float64 {
	switch m {
	case MethodSingle:
		return math.Min(dki, dkj)
	case MethodComplete:
		return math.Max(dki, dkj)
	case MethodAverage:
		return (float64(ni)*dki + float64(nj)*dkj) / float64(ni+nj)
	case MethodWeighted:
		return (dki + dkj) / 2
	case MethodWard:
		fi, fj, fk := float64(ni), float64(nj), float64(nk)
		v := ((fk+fi)*dki*dki + (fk+fj)*dkj*dkj - fk*dij*dij) / (fi + fj + fk)
		return math.Sqrt(math.Max(v, 0))
	}
	return math.NaN()
}
