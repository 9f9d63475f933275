// Package explore holds the active-learning explorer: read-only reference data
// built once per load, and per-client sessions that apply selection events to it.
package explore

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"explorer/internal/cluster"
	"explorer/internal/engine"
	"explorer/internal/manifest"
	"explorer/internal/models"
	"explorer/internal/selector"
)

var (
	ErrUnknownSampler = errors.New("unknown sampler")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrUnknownPlot    = errors.New("unknown line plot")
	ErrSliderRange    = errors.New("slider value out of range")
	ErrCoordinate     = errors.New("invalid matrix coordinate")
)

// Source names shared by sessions and renderers.
const (
	SourceMask     = "mask"
	SourceHeatmap  = "heatmap"
	SourceTraining = "training"
	activePrefix   = "active:"
)

// ActiveSource names the displayed slice of a sampler.
func ActiveSource(sampler string) string { return activePrefix + sampler }

// Options are the display settings not carried by the data itself.
type Options struct {
	Padding   selector.Padding
	LinePlots int
}

// Inputs are the loaded tables behind a dashboard.
type Inputs struct {
	Name          string
	Matrix        *engine.Matrix
	TrainMask     *engine.Matrix
	Samplers      map[string]*engine.ColumnStore
	SamplerOrder  []string
	Symmetric     bool
	Methods       []string
	InitialMethod string
	Columns       manifest.Columns
	Predict       *PredictInputs
}

// Explorer is immutable after Build and safe to share between sessions.
type Explorer struct {
	name     string
	samplers []string
	columns  manifest.Columns
	padding  selector.Padding

	references map[string]engine.Dataset
	masks      selector.Alternatives
	factors    map[string]models.Factors
	methods    []string
	initMethod string

	heatmap    engine.Dataset
	heatBounds engine.Bounds
	training   engine.Dataset

	bounds    map[string]engine.Bounds
	quant     []string
	initLines []string
	activeDim int
	symMult   int

	predict *predictMap
}

// Build derives every reference dataset, precomputes the cluster
// alternatives, and collects the column metadata.
func Build(in Inputs, opts Options) (*Explorer, error) {
	if in.Matrix == nil {
		return nil, errors.New("explore: matrix is required")
	}
	if len(in.Samplers) == 0 {
		return nil, errors.New("explore: at least one sampler is required")
	}

	ex := &Explorer{
		name:       in.Name,
		columns:    in.Columns,
		padding:    opts.Padding,
		references: make(map[string]engine.Dataset, len(in.Samplers)),
		masks:      make(selector.Alternatives, len(in.Methods)),
		factors:    make(map[string]models.Factors, len(in.Methods)),
		symMult:    1,
	}
	if in.Symmetric {
		ex.symMult = 2
	}

	ex.samplers = in.SamplerOrder
	if len(ex.samplers) == 0 {
		for name := range in.Samplers {
			ex.samplers = append(ex.samplers, name)
		}
		sort.Strings(ex.samplers)
	}

	if err := ex.buildSamplers(in, opts.LinePlots); err != nil {
		return nil, err
	}
	if err := ex.buildClusters(in); err != nil {
		return nil, err
	}

	predict, err := buildPredict(in, ex.samplers)
	if err != nil {
		return nil, err
	}
	ex.predict = predict

	c := in.Columns
	ex.heatmap = in.Matrix.Melt(c.RowName, c.ColName, c.ValName, false)
	lo, hi := in.Matrix.MinMax()
	ex.heatBounds = engine.Bounds{Min: lo, Max: hi}
	if in.TrainMask != nil {
		train, err := in.Matrix.Where(in.TrainMask)
		if err != nil {
			return nil, fmt.Errorf("training mask: %w", err)
		}
		ex.training = train.Melt(c.RowName, c.ColName, c.ValName, true)
	}

	slog.Info("explorer built",
		"name", ex.name,
		"samplers", len(ex.samplers),
		"methods", ex.methods,
		"active_dim", ex.activeDim,
		"quant_options", len(ex.quant),
		"predict_map", ex.predict != nil)
	return ex, nil
}

func (ex *Explorer) buildSamplers(in Inputs, linePlots int) error {
	c := in.Columns
	stats := make([]map[string]engine.ColumnStats, 0, len(ex.samplers))

	for i, name := range ex.samplers {
		cs, ok := in.Samplers[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSampler, name)
		}
		if i == 0 {
			ex.activeDim = cs.Rows()
		}

		if in.Symmetric {
			batch := c.Batch
			if _, err := cs.Column(batch); err != nil {
				batch = ""
			}
			sym, err := cs.Symmetrize(c.RowCoord, c.ColCoord, c.ActiveX, batch)
			if err != nil {
				return fmt.Errorf("sampler %q: %w", name, err)
			}
			cs = sym
		}

		labelled, err := addIndexColumns(cs, in.Matrix, c)
		if err != nil {
			return fmt.Errorf("sampler %q: %w", name, err)
		}
		if i == 0 {
			ex.quant = labelled.QuantitativeColumns()
		}
		stats = append(stats, labelled.Describe())
		ex.references[name] = labelled.Columns
	}

	ex.bounds = engine.MergeBounds(stats...)
	ex.initLines = firstN(ex.quant, linePlots)
	return nil
}

// addIndexColumns labels every sample with the matrix row and column names
// its coordinates point at.
func addIndexColumns(cs *engine.ColumnStore, m *engine.Matrix, c manifest.Columns) (*engine.ColumnStore, error) {
	rows, err := labelsAt(cs, c.RowCoord, m.RowLabels)
	if err != nil {
		return nil, err
	}
	cols, err := labelsAt(cs, c.ColCoord, m.ColLabels)
	if err != nil {
		return nil, err
	}
	out, err := cs.With(c.RowName, engine.CategoricalColumn(rows))
	if err != nil {
		return nil, err
	}
	return out.With(c.ColName, engine.CategoricalColumn(cols))
}

func labelsAt(cs *engine.ColumnStore, coord string, labels []string) ([]string, error) {
	col, err := cs.Column(coord)
	if err != nil {
		return nil, err
	}
	out := make([]string, col.Len())
	for i := range out {
		f := col.Float(i)
		idx := int(f)
		if math.IsNaN(f) || float64(idx) != f || idx < 0 || idx >= len(labels) {
			return nil, fmt.Errorf("%w: %s[%d] = %s", ErrCoordinate, coord, i, col.String(i))
		}
		out[i] = labels[idx]
	}
	return out, nil
}

func (ex *Explorer) buildClusters(in Inputs) error {
	c := in.Columns
	type result struct {
		factors models.Factors
		mask    engine.Dataset
	}
	results := make([]result, len(in.Methods))

	var g errgroup.Group
	for i, raw := range in.Methods {
		method, err := cluster.ParseMethod(raw)
		if err != nil {
			return err
		}
		ex.methods = append(ex.methods, string(method))

		g.Go(func() error {
			rowOrder, err := cluster.Order(in.Matrix.Values, method)
			if err != nil {
				return fmt.Errorf("cluster rows (%s): %w", method, err)
			}
			colOrder, err := cluster.Order(cluster.Transpose(in.Matrix.Values), method)
			if err != nil {
				return fmt.Errorf("cluster columns (%s): %w", method, err)
			}
			ordered := in.Matrix.Reorder(rowOrder, colOrder)

			y := make([]string, len(ordered.RowLabels))
			for j, label := range ordered.RowLabels {
				y[len(y)-1-j] = label
			}
			results[i] = result{
				factors: models.Factors{X: ordered.ColLabels, Y: y},
				mask:    ordered.UpperMask().Melt(c.RowName, c.ColName, c.ValName, true),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, method := range ex.methods {
		ex.factors[method] = results[i].factors
		ex.masks[method] = results[i].mask
	}

	initial, err := cluster.ParseMethod(in.InitialMethod)
	if err != nil {
		return err
	}
	if _, ok := ex.masks[string(initial)]; !ok {
		return &selector.LookupError{Key: in.InitialMethod}
	}
	ex.initMethod = string(initial)
	return nil
}

// Meta summarizes the explorer for clients.
func (ex *Explorer) Meta() models.Meta {
	meta := models.Meta{
		Name:          ex.name,
		Samplers:      append([]string(nil), ex.samplers...),
		Methods:       append([]string(nil), ex.methods...),
		InitialMethod: ex.initMethod,
		QuantOptions:  append([]string(nil), ex.quant...),
		Columns:       ex.bounds,
		Heatmap:       ex.heatBounds,
		ActiveDim:     ex.activeDim,
		SymMult:       ex.symMult,
		Padding:       ex.padding,
		LinePlots:     append([]string(nil), ex.initLines...),
		HasTraining:   ex.training != nil,
	}
	if ex.predict != nil {
		meta.PredictMap = ex.predict.meta()
	}
	return meta
}

// Reference returns a sampler's full reference dataset.
func (ex *Explorer) Reference(sampler string) (engine.Dataset, error) {
	ref, ok := ex.references[sampler]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSampler, sampler)
	}
	return ref, nil
}

// StaticSource returns the heatmap or training dataset.
func (ex *Explorer) StaticSource(name string) (engine.Dataset, bool) {
	switch name {
	case SourceHeatmap:
		return ex.heatmap, true
	case SourceTraining:
		return ex.training, ex.training != nil
	}
	return nil, false
}

// Samplers returns the sampler names in display order.
func (ex *Explorer) Samplers() []string { return append([]string(nil), ex.samplers...) }

// Columns returns the column roles.
func (ex *Explorer) Columns() manifest.Columns { return ex.columns }

// SamplerRows reports the reference row count per sampler.
func (ex *Explorer) SamplerRows() map[string]int {
	out := make(map[string]int, len(ex.references))
	for name, ref := range ex.references {
		out[name], _ = ref.Rows()
	}
	return out
}

// axis accepts only quantitative columns; zero-spread and label columns
// have no useful y range.
func (ex *Explorer) axis(plot int, column string) (models.AxisUpdate, error) {
	b, ok := ex.bounds[column]
	if !ok || !slices.Contains(ex.quant, column) {
		return models.AxisUpdate{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	return models.AxisUpdate{
		Plot:   plot,
		Column: column,
		Range:  selector.AxisRange(b, ex.padding),
		Label:  column,
	}, nil
}

func firstN(s []string, n int) []string {
	n = max(0, min(n, len(s)))
	return append([]string(nil), s[:n]...)
}
