package explore_test

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"explorer/internal/engine"
	"explorer/internal/explore"
	"explorer/internal/manifest"
	"explorer/internal/selector"
)

var testOptions = explore.Options{
	Padding:   selector.Padding{Lower: 0.05, Upper: 0.05},
	LinePlots: 2,
}

func loadToy(t *testing.T) *explore.Explorer {
	t.Helper()

	m, err := manifest.Load(filepath.Join("testdata", "explorer.yaml"))
	require.NoError(t, err)

	ex, err := explore.Load(context.Background(), m, testOptions)
	require.NoError(t, err)
	return ex
}

func TestLoadMeta(t *testing.T) {
	t.Parallel()

	meta := loadToy(t).Meta()

	assert.Equal(t, "toy reconstruction", meta.Name)
	assert.Equal(t, []string{"uncertainty", "random"}, meta.Samplers)
	assert.Equal(t, []string{"none", "ward", "average"}, meta.Methods)
	assert.Equal(t, "none", meta.InitialMethod)
	assert.Equal(t, 3, meta.ActiveDim)
	assert.Equal(t, 2, meta.SymMult)
	assert.True(t, meta.HasTraining)

	assert.Equal(t, []string{"active_iter", "row_idx", "col_idx", "loss"}, meta.QuantOptions)
	assert.Equal(t, []string{"active_iter", "row_idx"}, meta.LinePlots)

	assert.Equal(t, engine.Bounds{Min: 0.1, Max: 0.9}, meta.Columns["loss"])
	assert.Equal(t, engine.Bounds{Min: 1, Max: 2}, meta.Columns["score"])
	assert.Equal(t, engine.Bounds{Min: 1, Max: 9}, meta.Heatmap)
}

func TestReferencesAreSymmetrizedAndLabelled(t *testing.T) {
	t.Parallel()

	ex := loadToy(t)
	ref, err := ex.Reference("uncertainty")
	require.NoError(t, err)

	n, err := ref.Rows()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	assert.Equal(t, []float64{0, 0, 1, 1, 2, 2}, ref["active_iter"].Nums)
	assert.Equal(t, []float64{0, 1, 1, 2, 0, 2}, ref["row_idx"].Nums)
	assert.Equal(t, []float64{1, 0, 2, 1, 2, 0}, ref["col_idx"].Nums)
	assert.Equal(t, []string{"r0", "r1", "r1", "r2", "r0", "r2"}, ref["dim1"].Strings())
	assert.Equal(t, []string{"b", "a", "c", "b", "c", "a"}, ref["dim2"].Strings())

	_, err = ex.Reference("greedy")
	assert.ErrorIs(t, err, explore.ErrUnknownSampler)
}

func TestStaticSources(t *testing.T) {
	t.Parallel()

	ex := loadToy(t)

	heat, ok := ex.StaticSource(explore.SourceHeatmap)
	require.True(t, ok)
	n, _ := heat.Rows()
	assert.Equal(t, 9, n)

	train, ok := ex.StaticSource(explore.SourceTraining)
	require.True(t, ok)
	assert.Equal(t, []string{"r0", "r2"}, train["dim1"].Strings())
	assert.Equal(t, []string{"a", "c"}, train["dim2"].Strings())
	assert.Equal(t, []float64{1, 9}, train["entry_value"].Nums)

	_, ok = ex.StaticSource("nope")
	assert.False(t, ok)
}

func TestBuildRejectsOutOfRangeCoordinates(t *testing.T) {
	t.Parallel()

	m, err := engine.MatrixFromStore(mustStore(t,
		[]string{"label", "a"},
		engine.CategoricalColumn([]string{"r0"}),
		engine.NumericColumn([]float64{1}),
	))
	require.NoError(t, err)

	s := mustStore(t,
		[]string{"active_iter", "row_idx", "col_idx"},
		engine.NumericColumn([]float64{0}),
		engine.NumericColumn([]float64{0}),
		engine.NumericColumn([]float64{4}),
	)

	_, err = explore.Build(explore.Inputs{
		Matrix:        m,
		Samplers:      map[string]*engine.ColumnStore{"s": s},
		Methods:       []string{"none"},
		InitialMethod: "none",
		Columns:       defaultColumns(),
	}, testOptions)
	assert.ErrorIs(t, err, explore.ErrCoordinate)
}

func TestBuildRejectsUnknownInitialMethod(t *testing.T) {
	t.Parallel()

	m, err := engine.MatrixFromStore(mustStore(t,
		[]string{"label", "a"},
		engine.CategoricalColumn([]string{"r0"}),
		engine.NumericColumn([]float64{1}),
	))
	require.NoError(t, err)

	s := mustStore(t,
		[]string{"active_iter", "row_idx", "col_idx"},
		engine.NumericColumn([]float64{0}),
		engine.NumericColumn([]float64{0}),
		engine.NumericColumn([]float64{0}),
	)

	_, err = explore.Build(explore.Inputs{
		Matrix:        m,
		Samplers:      map[string]*engine.ColumnStore{"s": s},
		Methods:       []string{"none"},
		InitialMethod: "ward",
		Columns:       defaultColumns(),
	}, testOptions)
	assert.ErrorIs(t, err, selector.ErrUnknownCategory)
}

func TestBuildWithBlankMatrixEncodesMeta(t *testing.T) {
	t.Parallel()

	m, err := engine.MatrixFromStore(mustStore(t,
		[]string{"label", "a", "b"},
		engine.CategoricalColumn([]string{"r0", "r1"}),
		engine.NumericColumn([]float64{math.NaN(), math.NaN()}),
		engine.NumericColumn([]float64{math.NaN(), math.NaN()}),
	))
	require.NoError(t, err)

	s := mustStore(t,
		[]string{"active_iter", "row_idx", "col_idx"},
		engine.NumericColumn([]float64{0, 1}),
		engine.NumericColumn([]float64{0, 1}),
		engine.NumericColumn([]float64{1, 0}),
	)

	ex, err := explore.Build(explore.Inputs{
		Matrix:        m,
		Samplers:      map[string]*engine.ColumnStore{"s": s},
		Methods:       []string{"none"},
		InitialMethod: "none",
		Columns:       defaultColumns(),
	}, testOptions)
	require.NoError(t, err)

	meta := ex.Meta()
	assert.Equal(t, engine.Bounds{}, meta.Heatmap)
	_, err = json.Marshal(meta)
	assert.NoError(t, err)
}

func TestBundleRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := manifest.Load(filepath.Join("testdata", "explorer.yaml"))
	require.NoError(t, err)

	b, err := explore.BundleFromManifest(context.Background(), m)
	require.NoError(t, err)
	assert.Contains(t, b.Data, explore.BundleMatrix)
	assert.Contains(t, b.Data, explore.BundleTrainMask)
	assert.Len(t, b.Samples, 2)

	dir := t.TempDir()
	require.NoError(t, engine.SaveBundle(dir, b))

	fromBundle := *m
	fromBundle.Bundle = dir
	ex, err := explore.Load(context.Background(), &fromBundle, testOptions)
	require.NoError(t, err)

	meta := ex.Meta()
	samplers := meta.Samplers
	sort.Strings(samplers)
	assert.Equal(t, []string{"random", "uncertainty"}, samplers)
	assert.Equal(t, 3, meta.ActiveDim)
	assert.True(t, meta.HasTraining)
}

func mustStore(t *testing.T, names []string, cols ...engine.Column) *engine.ColumnStore {
	t.Helper()

	cs, err := engine.NewColumnStore(names, cols)
	require.NoError(t, err)
	return cs
}

func defaultColumns() manifest.Columns {
	return manifest.Columns{
		ActiveX:  "active_iter",
		Batch:    "batch",
		RowCoord: "row_idx",
		ColCoord: "col_idx",
		RowName:  "dim1",
		ColName:  "dim2",
		ValName:  "entry_value",
	}
}
