package explore

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"

	"explorer/internal/engine"
	"explorer/internal/manifest"
	"explorer/internal/models"
)

// SourcePrediction is the displayed prediction map of a session.
const SourcePrediction = "prediction"

// ColorColumn holds the values of the selected map kind in SourcePrediction.
const ColorColumn = "entry_color"

var (
	ErrNoPredictMap = errors.New("no prediction map loaded")
	ErrMapTable     = errors.New("invalid prediction map table")
)

// PredictInputs are the loaded prediction map tables.
type PredictInputs struct {
	Config  manifest.PredictMap
	Entries *engine.ColumnStore
	Maps    map[string]map[string]*engine.ColumnStore
}

// stepTable is one map kind of one sampler: a value per entry for every
// recorded slider step, steps ascending.
type stepTable struct {
	steps  []int
	values [][]float64
}

// at returns the largest recorded step not after value, or the first step.
func (t stepTable) at(value int) (int, []float64) {
	i := max(sort.SearchInts(t.steps, value+1)-1, 0)
	return t.steps[i], t.values[i]
}

type predictMap struct {
	base     engine.Dataset
	tables   map[string]map[string]stepTable
	kinds    map[string][]string
	constant map[string]bool
	fixed    map[string]engine.Bounds

	initSampler string
	initKind    string
	qLow, qHigh float64

	manifoldX, manifoldY string
}

func buildPredict(in Inputs, samplers []string) (*predictMap, error) {
	p := in.Predict
	if p == nil {
		return nil, nil
	}
	if p.Entries == nil {
		return nil, fmt.Errorf("%w: entries table is required", ErrMapTable)
	}
	c, cfg := in.Columns, p.Config
	n := p.Entries.Rows()

	entries := p.Entries
	if in.Symmetric {
		var err error
		if entries, err = entries.Mirror(c.RowCoord, c.ColCoord); err != nil {
			return nil, fmt.Errorf("prediction entries: %w", err)
		}
	}
	rows, err := labelsAt(entries, c.RowCoord, in.Matrix.RowLabels)
	if err != nil {
		return nil, fmt.Errorf("prediction entries: %w", err)
	}
	cols, err := labelsAt(entries, c.ColCoord, in.Matrix.ColLabels)
	if err != nil {
		return nil, fmt.Errorf("prediction entries: %w", err)
	}

	pm := &predictMap{
		base: engine.Dataset{
			c.RowName: engine.CategoricalColumn(rows),
			c.ColName: engine.CategoricalColumn(cols),
		},
		tables:      make(map[string]map[string]stepTable, len(p.Maps)),
		kinds:       make(map[string][]string, len(p.Maps)),
		constant:    make(map[string]bool, len(cfg.Constant)),
		fixed:       make(map[string]engine.Bounds, len(cfg.FixedBounds)),
		initSampler: cfg.InitialSampler,
		initKind:    cfg.InitialKind,
		qLow:        cfg.QLow,
		qHigh:       cfg.QHigh,
	}
	for _, kind := range cfg.Constant {
		pm.constant[kind] = true
	}
	for kind, r := range cfg.FixedBounds {
		pm.fixed[kind] = engine.Bounds{Min: r.Min, Max: r.Max}
	}

	x, errX := entries.Column(cfg.ManifoldX)
	y, errY := entries.Column(cfg.ManifoldY)
	if errX == nil && errY == nil && !x.IsCategorical() && !y.IsCategorical() {
		pm.manifoldX, pm.manifoldY = cfg.ManifoldX, cfg.ManifoldY
		pm.base[cfg.ManifoldX] = x
		pm.base[cfg.ManifoldY] = y
	}

	for sampler, kinds := range p.Maps {
		if !slices.Contains(samplers, sampler) {
			return nil, fmt.Errorf("prediction map: %w: %q", ErrUnknownSampler, sampler)
		}
		pm.tables[sampler] = make(map[string]stepTable, len(kinds))
		for kind, cs := range kinds {
			if _, clash := pm.base[kind]; clash || kind == ColorColumn {
				return nil, fmt.Errorf("%w: kind %q shadows a column", ErrMapTable, kind)
			}
			t, err := newStepTable(cs, n, in.Symmetric)
			if err != nil {
				return nil, fmt.Errorf("prediction map %s/%s: %w", sampler, kind, err)
			}
			if pm.constant[kind] && t.steps[0] != 0 {
				return nil, fmt.Errorf("prediction map %s/%s: %w: constant map needs step 0", sampler, kind, ErrMapTable)
			}
			pm.tables[sampler][kind] = t
			pm.kinds[sampler] = append(pm.kinds[sampler], kind)
		}
		sort.Strings(pm.kinds[sampler])
		if _, ok := pm.tables[sampler][pm.initKind]; !ok {
			return nil, fmt.Errorf("prediction map %s: %w: no %q map", sampler, ErrMapTable, pm.initKind)
		}
	}
	if _, ok := pm.tables[pm.initSampler]; !ok {
		return nil, fmt.Errorf("prediction map: %w: %q", ErrUnknownSampler, pm.initSampler)
	}
	return pm, nil
}

func newStepTable(cs *engine.ColumnStore, rows int, mirror bool) (stepTable, error) {
	if cs.Rows() != rows {
		return stepTable{}, fmt.Errorf("%w: %d rows, expected %d", ErrMapTable, cs.Rows(), rows)
	}
	if len(cs.Names) == 0 {
		return stepTable{}, fmt.Errorf("%w: no steps", ErrMapTable)
	}

	order := make([]int, len(cs.Names))
	steps := make(map[int][]float64, len(cs.Names))
	for i, name := range cs.Names {
		step, err := strconv.Atoi(name)
		if err != nil || step < 0 {
			return stepTable{}, fmt.Errorf("%w: column %q is not a step", ErrMapTable, name)
		}
		col := cs.Columns[name]
		if col.IsCategorical() {
			return stepTable{}, fmt.Errorf("%w: step %d is not numeric", ErrMapTable, step)
		}
		vals := col.Nums
		if mirror {
			vals = append(slices.Clip(vals), vals...)
		}
		order[i] = step
		steps[step] = vals
	}
	sort.Ints(order)

	t := stepTable{steps: order, values: make([][]float64, len(order))}
	for i, step := range order {
		t.values[i] = steps[step]
	}
	return t, nil
}

// view builds the displayed dataset and map state for one sampler, kind
// and slider value. kind must be one of the sampler's kinds.
func (pm *predictMap) view(sampler, kind string, value int) (engine.Dataset, models.MapState) {
	ds := make(engine.Dataset, len(pm.base)+len(pm.kinds[sampler])+1)
	for name, col := range pm.base {
		ds[name] = col
	}
	for _, k := range pm.kinds[sampler] {
		_, vals := pm.lookup(sampler, k, value)
		ds[k] = engine.NumericColumn(vals)
	}

	step, vals := pm.lookup(sampler, kind, value)
	ds[ColorColumn] = engine.NumericColumn(vals)
	return ds, models.MapState{
		Sampler: sampler,
		Kind:    kind,
		Step:    step,
		Bounds:  pm.bounds(kind, vals),
	}
}

func (pm *predictMap) lookup(sampler, kind string, value int) (int, []float64) {
	if pm.constant[kind] {
		value = 0
	}
	return pm.tables[sampler][kind].at(value)
}

// bounds are the fixed range of kind, else the configured percentiles of
// vals. A map without values gets a zero range.
func (pm *predictMap) bounds(kind string, vals []float64) engine.Bounds {
	if b, ok := pm.fixed[kind]; ok {
		return b
	}
	lo, hi := engine.Percentile(vals, pm.qLow), engine.Percentile(vals, pm.qHigh)
	if math.IsNaN(lo) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return engine.Bounds{}
	}
	return engine.Bounds{Min: lo, Max: hi}
}

// kind resolves a requested kind, falling back to the initial kind when the
// sampler has no such map.
func (pm *predictMap) kind(sampler, kind string) (string, error) {
	kinds, ok := pm.kinds[sampler]
	if !ok {
		return "", fmt.Errorf("%w: %q has no prediction map", ErrUnknownSampler, sampler)
	}
	if !slices.Contains(kinds, kind) {
		return pm.initKind, nil
	}
	return kind, nil
}

func (pm *predictMap) meta() *models.PredictMeta {
	kinds := make(map[string][]string, len(pm.kinds))
	for s, k := range pm.kinds {
		kinds[s] = append([]string(nil), k...)
	}
	return &models.PredictMeta{
		Kinds:          kinds,
		InitialSampler: pm.initSampler,
		InitialKind:    pm.initKind,
		ManifoldX:      pm.manifoldX,
		ManifoldY:      pm.manifoldY,
	}
}
