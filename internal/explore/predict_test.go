package explore_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"explorer/internal/engine"
	"explorer/internal/explore"
	"explorer/internal/manifest"
	"explorer/internal/models"
)

func TestPredictMeta(t *testing.T) {
	t.Parallel()

	meta := loadToy(t).Meta()
	require.NotNil(t, meta.PredictMap)
	assert.Equal(t, "uncertainty", meta.PredictMap.InitialSampler)
	assert.Equal(t, "prediction", meta.PredictMap.InitialKind)
	assert.Equal(t, []string{"density", "prediction", "uncertainty"}, meta.PredictMap.Kinds["uncertainty"])
	assert.Equal(t, []string{"density", "prediction"}, meta.PredictMap.Kinds["random"])
	assert.Equal(t, "x", meta.PredictMap.ManifoldX)
	assert.Equal(t, "y", meta.PredictMap.ManifoldY)
}

func TestInitialMapIsMirrored(t *testing.T) {
	t.Parallel()

	s := openToy(t)
	st := s.Snapshot()
	require.NotNil(t, st.Map)
	assert.Equal(t, models.MapState{
		Sampler: "uncertainty",
		Kind:    "prediction",
		Step:    0,
		Bounds:  engine.Bounds{Min: -0.3, Max: 0.3},
	}, *st.Map)

	ds, ok := s.Source(explore.SourcePrediction)
	require.True(t, ok)
	assert.Equal(t, []string{"r0", "r0", "r1", "r1", "r2", "r2"}, ds["dim1"].Strings())
	assert.Equal(t, []string{"b", "c", "c", "a", "a", "b"}, ds["dim2"].Strings())
	assert.Equal(t, []float64{0.1, 0.5, 0.9, 0.1, 0.5, 0.9}, ds["x"].Nums)
	assert.Equal(t, []float64{0.1, -0.1, 0.3, 0.1, -0.1, 0.3}, ds[explore.ColorColumn].Nums)
	assert.Equal(t, []float64{1, 5, 9, 1, 5, 9}, ds["uncertainty"].Nums)
	assert.Contains(t, s.SourceNames(), explore.SourcePrediction)
}

func TestMapFollowsSlider(t *testing.T) {
	t.Parallel()

	s := openToy(t)

	up, err := s.MoveSlider("uncertainty", 1)
	require.NoError(t, err)
	require.NotNil(t, up.Map)
	assert.Equal(t, 0, up.Map.Step, "no map recorded at step 1")

	up, err = s.MoveSlider("uncertainty", 3)
	require.NoError(t, err)
	require.NotNil(t, up.Map)
	assert.Equal(t, 2, up.Map.Step)
	assert.Equal(t, []float64{0.2, 0.05, -0.2, 0.2, 0.05, -0.2}, up.Sources[explore.SourcePrediction][explore.ColorColumn].Nums)

	up, err = s.MoveSlider("random", 3)
	require.NoError(t, err)
	assert.Nil(t, up.Map, "another sampler's slider leaves the map alone")
	assert.NotContains(t, up.Sources, explore.SourcePrediction)
}

func TestSelectMap(t *testing.T) {
	t.Parallel()

	s := openToy(t)
	_, err := s.MoveSlider("uncertainty", 3)
	require.NoError(t, err)

	up, err := s.SelectMap("uncertainty", "uncertainty")
	require.NoError(t, err)
	assert.Equal(t, explore.EventMap, up.Event)
	assert.Equal(t, models.MapState{Sampler: "uncertainty", Kind: "uncertainty", Step: 3, Bounds: engine.Bounds{Min: 4, Max: 12}}, *up.Map)

	up, err = s.SelectMap("uncertainty", "density")
	require.NoError(t, err)
	assert.Equal(t, 0, up.Map.Step, "density ignores the slider")
	assert.Equal(t, engine.Bounds{Min: 0.25, Max: 0.75}, up.Map.Bounds)

	up, err = s.SelectMap("random", "uncertainty")
	require.NoError(t, err)
	assert.Equal(t, "prediction", up.Map.Kind, "missing kinds fall back to the initial kind")
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, up.Sources[explore.SourcePrediction][explore.ColorColumn].Nums)
	assert.NotContains(t, up.Sources[explore.SourcePrediction], "uncertainty")

	up, err = s.ShowAll(true)
	require.NoError(t, err)
	require.NotNil(t, up.Map)
	assert.Equal(t, "random", up.Map.Sampler)
	assert.Equal(t, 3, up.Map.Step)

	_, err = s.SelectMap("greedy", "prediction")
	assert.ErrorIs(t, err, explore.ErrUnknownSampler)
	assert.Equal(t, "random", s.Snapshot().Map.Sampler)
}

func TestSelectMapWithoutPredictMap(t *testing.T) {
	t.Parallel()

	s, err := explore.NewSessions(1, time.Hour).Open(buildSmall(t, nil))
	require.NoError(t, err)

	_, err = s.SelectMap("s", "prediction")
	assert.ErrorIs(t, err, explore.ErrNoPredictMap)
	assert.Nil(t, s.Snapshot().Map)
	assert.NotContains(t, s.SourceNames(), explore.SourcePrediction)
}

func TestBuildRejectsBadMapTables(t *testing.T) {
	t.Parallel()

	entries := func() *engine.ColumnStore {
		return mustStore(t,
			[]string{"row_idx", "col_idx"},
			engine.NumericColumn([]float64{0, 1}),
			engine.NumericColumn([]float64{1, 0}),
		)
	}
	cases := map[string]*engine.ColumnStore{
		"row count": mustStore(t, []string{"0"}, engine.NumericColumn([]float64{1})),
		"step name": mustStore(t, []string{"final"}, engine.NumericColumn([]float64{1, 2})),
		"text step": mustStore(t, []string{"0"}, engine.CategoricalColumn([]string{"a", "b"})),
	}
	for name, table := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := explore.Build(smallInputs(t, &explore.PredictInputs{
				Config:  predictConfig(),
				Entries: entries(),
				Maps:    map[string]map[string]*engine.ColumnStore{"s": {"prediction": table}},
			}), testOptions)
			assert.ErrorIs(t, err, explore.ErrMapTable)
		})
	}

	t.Run("constant without step 0", func(t *testing.T) {
		t.Parallel()

		_, err := explore.Build(smallInputs(t, &explore.PredictInputs{
			Config:  predictConfig(),
			Entries: entries(),
			Maps: map[string]map[string]*engine.ColumnStore{"s": {
				"prediction": mustStore(t, []string{"0"}, engine.NumericColumn([]float64{1, 2})),
				"density":    mustStore(t, []string{"1"}, engine.NumericColumn([]float64{1, 2})),
			}},
		}), testOptions)
		assert.ErrorIs(t, err, explore.ErrMapTable)
	})
}

func TestMapBoundsWithoutValues(t *testing.T) {
	t.Parallel()

	cfg := predictConfig()
	cfg.InitialKind = "uncertainty"
	ex, err := explore.Build(smallInputs(t, &explore.PredictInputs{
		Config: cfg,
		Entries: mustStore(t,
			[]string{"row_idx", "col_idx"},
			engine.NumericColumn([]float64{0}),
			engine.NumericColumn([]float64{1}),
		),
		Maps: map[string]map[string]*engine.ColumnStore{"s": {
			"uncertainty": mustStore(t, []string{"0"}, engine.NumericColumn([]float64{math.NaN()})),
		}},
	}), testOptions)
	require.NoError(t, err)

	s, err := explore.NewSessions(1, time.Hour).Open(ex)
	require.NoError(t, err)
	assert.Equal(t, engine.Bounds{}, s.Snapshot().Map.Bounds)
	assert.Empty(t, ex.Meta().PredictMap.ManifoldX)
}

func predictConfig() manifest.PredictMap {
	return manifest.PredictMap{
		InitialSampler: "s",
		InitialKind:    "prediction",
		QHigh:          100,
		Constant:       []string{"density"},
		ManifoldX:      "x",
		ManifoldY:      "y",
	}
}

// smallInputs is a 2x2 matrix with one two-sample sampler "s".
func smallInputs(t *testing.T, predict *explore.PredictInputs) explore.Inputs {
	t.Helper()

	m, err := engine.MatrixFromStore(mustStore(t,
		[]string{"label", "a", "b"},
		engine.CategoricalColumn([]string{"r0", "r1"}),
		engine.NumericColumn([]float64{1, 2}),
		engine.NumericColumn([]float64{3, 4}),
	))
	require.NoError(t, err)

	s := mustStore(t,
		[]string{"active_iter", "row_idx", "col_idx"},
		engine.NumericColumn([]float64{0, 1}),
		engine.NumericColumn([]float64{0, 1}),
		engine.NumericColumn([]float64{1, 0}),
	)
	return explore.Inputs{
		Matrix:        m,
		Samplers:      map[string]*engine.ColumnStore{"s": s},
		Methods:       []string{"none"},
		InitialMethod: "none",
		Columns:       defaultColumns(),
		Predict:       predict,
	}
}

func buildSmall(t *testing.T, predict *explore.PredictInputs) *explore.Explorer {
	t.Helper()

	ex, err := explore.Build(smallInputs(t, predict), testOptions)
	require.NoError(t, err)
	return ex
}
