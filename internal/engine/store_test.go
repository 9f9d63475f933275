package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoricalColumn(t *testing.T) {
	t.Parallel()

	c := CategoricalColumn([]string{"b", "a", "b"})
	require.True(t, c.IsCategorical())
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"b", "a"}, c.Dict)
	assert.Equal(t, []int32{0, 1, 0}, c.IDs)
	assert.Equal(t, []string{"b", "a", "b"}, c.Strings())

	empty := CategoricalColumn(nil)
	assert.True(t, empty.IsCategorical())
	assert.Equal(t, 0, empty.Len())
}

func TestColumnPrefixCopies(t *testing.T) {
	t.Parallel()

	src := NumericColumn([]float64{1, 2, 3})
	p := src.Prefix(2)
	p.Nums[0] = 99

	assert.Equal(t, []float64{1, 2, 3}, src.Nums)
	assert.Equal(t, 3, src.Prefix(10).Len())
	assert.Equal(t, 0, src.Prefix(-1).Len())
}

func TestConcat(t *testing.T) {
	t.Parallel()

	a := CategoricalColumn([]string{"x", "y"})
	b := CategoricalColumn([]string{"z", "x"})

	c, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z", "x"}, c.Strings())
	assert.Len(t, c.Dict, 3)

	_, err = Concat(a, NumericColumn([]float64{1}))
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestColumnEqual(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	assert.True(t, NumericColumn([]float64{1, nan}).Equal(NumericColumn([]float64{1, nan})))
	assert.False(t, NumericColumn([]float64{1}).Equal(NumericColumn([]float64{2})))
	assert.False(t, NumericColumn([]float64{1}).Equal(CategoricalColumn([]string{"1"})))

	// Different dictionaries, same decoded values.
	a := Column{IDs: []int32{0, 1}, Dict: []string{"p", "q"}}
	b := Column{IDs: []int32{1, 0}, Dict: []string{"q", "p"}}
	assert.True(t, a.Equal(b))
}

func TestColumnMarshalJSON(t *testing.T) {
	t.Parallel()

	b, err := NumericColumn([]float64{1.5, math.NaN()}).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, null]`, string(b))

	b, err = CategoricalColumn([]string{"a", "b"}).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["a", "b"]`, string(b))
}

func TestColumnUnmarshalJSON(t *testing.T) {
	t.Parallel()

	var d Dataset
	require.NoError(t, json.Unmarshal([]byte(`{"x": [1, null, 3], "y": ["a", null, "a"], "z": []}`), &d))

	assert.False(t, d["x"].IsCategorical())
	assert.True(t, d["x"].Equal(NumericColumn([]float64{1, math.NaN(), 3})))
	assert.Equal(t, []string{"a", "", "a"}, d["y"].Strings())
	assert.Equal(t, 0, d["z"].Len())

	var c Column
	assert.Error(t, json.Unmarshal([]byte(`[true]`), &c))
}

func TestDatasetRows(t *testing.T) {
	t.Parallel()

	d := Dataset{"x": NumericColumn([]float64{1, 2}), "y": CategoricalColumn([]string{"a", "b"})}
	n, err := d.Rows()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"x", "y"}, d.Keys())

	d["z"] = NumericColumn([]float64{1})
	_, err = d.Rows()
	assert.True(t, errors.Is(err, ErrRaggedColumns))

	n, err = Dataset{}.Rows()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDatasetPage(t *testing.T) {
	t.Parallel()

	d := Dataset{"x": NumericColumn([]float64{1, 2, 3, 4, 5})}
	assert.Equal(t, []float64{2, 3}, d.Page(1, 2)["x"].Nums)
	assert.Equal(t, []float64{4, 5}, d.Page(3, 10)["x"].Nums)
	assert.Equal(t, 0, d.Page(9, 2)["x"].Len())
	assert.Equal(t, []float64{2, 3, 4, 5}, d.Page(1, math.MaxInt)["x"].Nums)
}

func TestDatasetSameKeysAndEmpty(t *testing.T) {
	t.Parallel()

	d := Dataset{"x": NumericColumn([]float64{1}), "y": CategoricalColumn([]string{"a"})}
	e := d.Empty()
	assert.True(t, d.SameKeys(e))
	assert.True(t, e["y"].IsCategorical())
	assert.Equal(t, 0, e["x"].Len())
	assert.False(t, d.SameKeys(Dataset{"x": NumericColumn(nil)}))
}

func TestColumnStoreWith(t *testing.T) {
	t.Parallel()

	cs, err := NewColumnStore([]string{"a"}, []Column{NumericColumn([]float64{1, 2})})
	require.NoError(t, err)

	out, err := cs.With("b", CategoricalColumn([]string{"x", "y"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Names)
	assert.Equal(t, []string{"a"}, cs.Names)

	_, err = cs.With("c", NumericColumn([]float64{1}))
	assert.ErrorIs(t, err, ErrRaggedColumns)

	_, err = NewColumnStore([]string{"a", "a"}, []Column{NumericColumn(nil), NumericColumn(nil)})
	assert.Error(t, err)
}
