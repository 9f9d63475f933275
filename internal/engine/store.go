package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"golang.org/x/exp/maps"
)

var (
	ErrRaggedColumns = errors.New("columns have different lengths")
	ErrKindMismatch  = errors.New("cannot combine numeric and categorical columns")
	ErrNoColumn      = errors.New("column not found")
)

// Column holds one series in Struct-of-Arrays form.
// Numeric columns use Nums. Categorical columns are dictionary encoded:
// IDs index into Dict. Dict is never mutated once built, so prefixes and
// clones share it.
type Column struct {
	Nums []float64
	IDs  []int32
	Dict []string
}

// NumericColumn wraps vals without copying.
func NumericColumn(vals []float64) Column {
	if vals == nil {
		vals = []float64{}
	}
	return Column{Nums: vals}
}

// CategoricalColumn dictionary-encodes vals in first-seen order.
func CategoricalColumn(vals []string) Column {
	c := Column{IDs: make([]int32, len(vals)), Dict: make([]string, 0)}
	index := make(map[string]int32)
	for i, s := range vals {
		id, ok := index[s]
		if !ok {
			id = int32(len(c.Dict))
			c.Dict = append(c.Dict, s)
			index[s] = id
		}
		c.IDs[i] = id
	}
	return c
}

func (c Column) IsCategorical() bool { return c.Dict != nil }

func (c Column) Len() int {
	if c.IsCategorical() {
		return len(c.IDs)
	}
	return len(c.Nums)
}

// Float returns the numeric value at i. Categorical values are parsed, NaN if not a number.
func (c Column) Float(i int) float64 {
	if !c.IsCategorical() {
		return c.Nums[i]
	}
	f, err := strconv.ParseFloat(c.Dict[c.IDs[i]], 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// String returns the value at i as text.
func (c Column) String(i int) string {
	if c.IsCategorical() {
		return c.Dict[c.IDs[i]]
	}
	return strconv.FormatFloat(c.Nums[i], 'g', -1, 64)
}

// Strings decodes the whole column.
func (c Column) Strings() []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.String(i)
	}
	return out
}

// Prefix copies the first n values. n larger than Len returns a full copy.
func (c Column) Prefix(n int) Column {
	if n < 0 {
		n = 0
	}
	if n > c.Len() {
		n = c.Len()
	}
	if c.IsCategorical() {
		ids := make([]int32, n)
		copy(ids, c.IDs[:n])
		return Column{IDs: ids, Dict: c.Dict}
	}
	nums := make([]float64, n)
	copy(nums, c.Nums[:n])
	return Column{Nums: nums}
}

// Clone copies the values. The dictionary is shared.
func (c Column) Clone() Column { return c.Prefix(c.Len()) }

// Take gathers the rows at idx in order.
func (c Column) Take(idx []int) Column {
	if c.IsCategorical() {
		ids := make([]int32, len(idx))
		for i, j := range idx {
			ids[i] = c.IDs[j]
		}
		return Column{IDs: ids, Dict: c.Dict}
	}
	nums := make([]float64, len(idx))
	for i, j := range idx {
		nums[i] = c.Nums[j]
	}
	return Column{Nums: nums}
}

// Concat appends b after a. Categorical dictionaries are merged.
func Concat(a, b Column) (Column, error) {
	if a.IsCategorical() != b.IsCategorical() {
		return Column{}, ErrKindMismatch
	}
	if !a.IsCategorical() {
		nums := make([]float64, 0, a.Len()+b.Len())
		nums = append(nums, a.Nums...)
		nums = append(nums, b.Nums...)
		return Column{Nums: nums}, nil
	}

	dict := make([]string, len(a.Dict), len(a.Dict)+len(b.Dict))
	copy(dict, a.Dict)
	index := make(map[string]int32, len(dict))
	for id, s := range dict {
		index[s] = int32(id)
	}
	remap := make([]int32, len(b.Dict))
	for lid, s := range b.Dict {
		gid, ok := index[s]
		if !ok {
			gid = int32(len(dict))
			dict = append(dict, s)
			index[s] = gid
		}
		remap[lid] = gid
	}

	ids := make([]int32, 0, a.Len()+b.Len())
	ids = append(ids, a.IDs...)
	for _, id := range b.IDs {
		ids = append(ids, remap[id])
	}
	return Column{IDs: ids, Dict: dict}, nil
}

// Equal compares decoded values. NaN equals NaN.
func (c Column) Equal(o Column) bool {
	if c.IsCategorical() != o.IsCategorical() || c.Len() != o.Len() {
		return false
	}
	if c.IsCategorical() {
		for i := range c.IDs {
			if c.Dict[c.IDs[i]] != o.Dict[o.IDs[i]] {
				return false
			}
		}
		return true
	}
	for i, v := range c.Nums {
		w := o.Nums[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the decoded values as a flat array. NaN becomes null.
func (c Column) MarshalJSON() ([]byte, error) {
	if c.IsCategorical() {
		return json.Marshal(c.Strings())
	}
	vals := make([]*float64, len(c.Nums))
	for i := range c.Nums {
		if !math.IsNaN(c.Nums[i]) && !math.IsInf(c.Nums[i], 0) {
			vals[i] = &c.Nums[i]
		}
	}
	return json.Marshal(vals)
}

// UnmarshalJSON reads a flat array. Any string makes the column categorical;
// null becomes NaN in numeric columns and "" in categorical ones.
func (c *Column) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	categorical := false
	for _, v := range raw {
		if _, ok := v.(string); ok {
			categorical = true
			break
		}
	}

	if categorical {
		vals := make([]string, len(raw))
		for i, v := range raw {
			switch x := v.(type) {
			case nil:
			case string:
				vals[i] = x
			default:
				vals[i] = fmt.Sprint(x)
			}
		}
		*c = CategoricalColumn(vals)
		return nil
	}

	nums := make([]float64, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case float64:
			nums[i] = x
		case nil:
			nums[i] = math.NaN()
		default:
			return fmt.Errorf("column value %v is neither number nor string", v)
		}
	}
	*c = NumericColumn(nums)
	return nil
}

// Dataset maps series names to equal-length columns.
type Dataset map[string]Column

// Keys returns the series names sorted.
func (d Dataset) Keys() []string {
	keys := maps.Keys(d)
	sort.Strings(keys)
	return keys
}

// Rows returns the shared column length.
func (d Dataset) Rows() (int, error) {
	rows := -1
	for _, k := range d.Keys() {
		n := d[k].Len()
		if rows == -1 {
			rows = n
			continue
		}
		if n != rows {
			return 0, fmt.Errorf("%w: %q has %d rows, expected %d", ErrRaggedColumns, k, n, rows)
		}
	}
	if rows == -1 {
		rows = 0
	}
	return rows, nil
}

func (d Dataset) Clone() Dataset {
	out := make(Dataset, len(d))
	for k, c := range d {
		out[k] = c.Clone()
	}
	return out
}

// Empty returns a dataset with the same keys and kinds and no rows.
func (d Dataset) Empty() Dataset {
	out := make(Dataset, len(d))
	for k, c := range d {
		out[k] = c.Prefix(0)
	}
	return out
}

// SameKeys reports whether both datasets carry exactly the same series names.
func (d Dataset) SameKeys(o Dataset) bool {
	if len(d) != len(o) {
		return false
	}
	for k := range d {
		if _, ok := o[k]; !ok {
			return false
		}
	}
	return true
}

// Page returns rows [offset, offset+limit) of every column.
func (d Dataset) Page(offset, limit int) Dataset {
	out := make(Dataset, len(d))
	for k, c := range d {
		end := c.Len()
		if limit < end-offset {
			end = offset + limit
		}
		if offset >= end {
			out[k] = c.Prefix(0)
			continue
		}
		idx := make([]int, 0, end-offset)
		for i := offset; i < end; i++ {
			idx = append(idx, i)
		}
		out[k] = c.Take(idx)
	}
	return out
}

// ColumnStore is a loaded table: columns in header order.
type ColumnStore struct {
	Names   []string
	Columns Dataset
}

// NewColumnStore builds a store from names and matching columns.
func NewColumnStore(names []string, cols []Column) (*ColumnStore, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("%d names for %d columns", len(names), len(cols))
	}
	cs := &ColumnStore{Names: names, Columns: make(Dataset, len(names))}
	for i, n := range names {
		if _, dup := cs.Columns[n]; dup {
			return nil, fmt.Errorf("duplicate column %q", n)
		}
		cs.Columns[n] = cols[i]
	}
	if _, err := cs.Columns.Rows(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *ColumnStore) Rows() int {
	n, _ := cs.Columns.Rows()
	return n
}

// Column looks a column up by name.
func (cs *ColumnStore) Column(name string) (Column, error) {
	c, ok := cs.Columns[name]
	if !ok {
		return Column{}, fmt.Errorf("%w: %q", ErrNoColumn, name)
	}
	return c, nil
}

// With returns a copy of the store with col appended (or replaced) under name.
func (cs *ColumnStore) With(name string, col Column) (*ColumnStore, error) {
	if col.Len() != cs.Rows() && len(cs.Names) > 0 {
		return nil, fmt.Errorf("%w: %q has %d rows, expected %d", ErrRaggedColumns, name, col.Len(), cs.Rows())
	}
	out := &ColumnStore{Names: make([]string, 0, len(cs.Names)+1), Columns: make(Dataset, len(cs.Columns)+1)}
	out.Names = append(out.Names, cs.Names...)
	for k, c := range cs.Columns {
		out.Columns[k] = c
	}
	if _, exists := out.Columns[name]; !exists {
		out.Names = append(out.Names, name)
	}
	out.Columns[name] = col
	return out, nil
}

// Take reorders every column by idx.
func (cs *ColumnStore) Take(idx []int) *ColumnStore {
	out := &ColumnStore{Names: append([]string(nil), cs.Names...), Columns: make(Dataset, len(cs.Columns))}
	for k, c := range cs.Columns {
		out.Columns[k] = c.Take(idx)
	}
	return out
}
