// Package render draws a session's displayed state as an ECharts HTML page.
package render

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"explorer/internal/engine"
	"explorer/internal/explore"
	"explorer/internal/manifest"
	"explorer/internal/models"
)

const (
	heatmapHeight = "640px"
	lineHeight    = "360px"
	labelRotate   = 60
	labelFontSize = 10
)

var heatmapPalette = []string{"#313695", "#4575b4", "#abd9e9", "#fee090", "#f46d43", "#a50026"}

// samplerPalette colors the samplers in display order.
var samplerPalette = []string{"#ff7f0e", "#2ca02c", "#9467bd", "#8c564b", "#e377c2", "#7f7f7f", "#bcbd22"}

const overlayColor = "#ffffff"

// SamplerColor returns the color of the i-th sampler in display order.
func SamplerColor(i int) string { return samplerPalette[i%len(samplerPalette)] }

// Page writes the heatmap, the prediction map when loaded, and every line
// plot of a session.
func Page(w io.Writer, s *explore.Session) error {
	ex := s.Explorer()
	meta := ex.Meta()
	st := s.Snapshot()
	cols := ex.Columns()

	page := components.NewPage()
	page.PageTitle = meta.Name

	heat, _ := ex.StaticSource(explore.SourceHeatmap)
	train, _ := ex.StaticSource(explore.SourceTraining)
	page.AddCharts(Heatmap(meta, st, heat, train, cols))

	if st.Map != nil {
		page.AddCharts(PredictionHeatmap(st, cols))
		if meta.PredictMap.ManifoldX != "" {
			page.AddCharts(Manifold(meta, st))
		}
	}

	for _, axis := range st.Axes {
		page.AddCharts(LinePlot(meta, st, axis, cols.ActiveX))
	}
	return page.Render(w)
}

// Heatmap draws the matrix on the session's factor ranges with every
// sampler's displayed samples on top. The toggled overlays cover the upper
// triangle and the training cells in white.
func Heatmap(meta models.Meta, st models.State, heat, train engine.Dataset, cols manifest.Columns) *charts.HeatMap {
	hm := factorChart(st, meta.Name, fmt.Sprintf("cluster: %s", st.Method), meta.Heatmap)
	hm.AddSeries("matrix", heatmapData(heat, st.Factors, cols.RowName, cols.ColName, cols.ValName))

	for i, sampler := range meta.Samplers {
		ds := st.Sources[explore.ActiveSource(sampler)]
		hm.Overlap(cellScatter(sampler, ds, st.Factors, cols, "circle", 8, SamplerColor(i)))
	}
	if !st.Toggles.ShowTraining {
		train = nil
	}
	cover(hm, st, train, cols)
	return hm
}

// PredictionHeatmap draws the selected prediction map on the session's
// factor ranges, scaled to the map's bounds.
func PredictionHeatmap(st models.State, cols manifest.Columns) *charts.HeatMap {
	m := st.Map
	hm := factorChart(st, fmt.Sprintf("%s: %s", m.Sampler, m.Kind), fmt.Sprintf("step %d", m.Step), m.Bounds)
	ds := st.Sources[explore.SourcePrediction]
	hm.AddSeries(m.Kind, heatmapData(ds, st.Factors, cols.RowName, cols.ColName, explore.ColorColumn))
	cover(hm, st, nil, cols)
	return hm
}

// Manifold scatters the prediction entries at their manifold position,
// colored by the selected map.
func Manifold(meta models.Meta, st models.State) *charts.Scatter {
	m := st.Map
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: lineHeight}),
		charts.WithTitleOpts(opts.Title{Title: "manifold", Subtitle: m.Kind, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: meta.PredictMap.ManifoldX}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: meta.PredictMap.ManifoldY}),
		charts.WithVisualMapOpts(scaleOpts(m.Bounds)),
	)

	ds := st.Sources[explore.SourcePrediction]
	xs, ys, cs := ds[meta.PredictMap.ManifoldX], ds[meta.PredictMap.ManifoldY], ds[explore.ColorColumn]
	data := make([]opts.ScatterData, 0, cs.Len())
	for i := 0; i < cs.Len(); i++ {
		x, y, v := xs.Float(i), ys.Float(i), cs.Float(i)
		if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(v) {
			continue
		}
		data = append(data, opts.ScatterData{Value: []any{x, y, v}, SymbolSize: 6})
	}
	sc.AddSeries(m.Kind, data)
	return sc
}

func factorChart(st models.State, title, subtitle string, scale engine.Bounds) *charts.HeatMap {
	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: heatmapHeight}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			Data:      st.Factors.X,
			AxisLabel: &opts.AxisLabel{Rotate: labelRotate, Interval: "0", FontSize: labelFontSize},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:      "category",
			Data:      st.Factors.Y,
			AxisLabel: &opts.AxisLabel{FontSize: labelFontSize},
		}),
		charts.WithVisualMapOpts(scaleOpts(scale)),
	)
	return hm
}

// scaleOpts maps the third value dimension onto the heatmap palette, so
// two-dimensional marker series keep their own color.
func scaleOpts(b engine.Bounds) opts.VisualMap {
	return opts.VisualMap{
		Calculable: opts.Bool(true),
		Min:        float32(b.Min),
		Max:        float32(b.Max),
		Dimension:  "2",
		InRange:    &opts.VisualMapInRange{Color: heatmapPalette},
		Orient:     "horizontal",
		Left:       "center",
		Bottom:     "2%",
	}
}

// cover hides the upper triangle when toggled, and the cells of train.
func cover(hm *charts.HeatMap, st models.State, train engine.Dataset, cols manifest.Columns) {
	if mask, ok := st.Sources[explore.SourceMask]; ok && st.Toggles.LowerTriangle {
		hm.Overlap(cellScatter("upper", mask, st.Factors, cols, "rect", 24, overlayColor))
	}
	if train != nil {
		hm.Overlap(cellScatter("training", train, st.Factors, cols, "rect", 24, overlayColor))
	}
}

// cellScatter places one marker per row of ds on the cell its row and
// column names point at.
func cellScatter(name string, ds engine.Dataset, f models.Factors, cols manifest.Columns, symbol string, size int, color string) *charts.Scatter {
	xIdx := indexOf(f.X)
	yIdx := indexOf(f.Y)
	rows, cs := ds[cols.RowName], ds[cols.ColName]

	data := make([]opts.ScatterData, 0, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		x, okX := xIdx[cs.String(i)]
		y, okY := yIdx[rows.String(i)]
		if !okX || !okY {
			continue
		}
		data = append(data, opts.ScatterData{Value: []any{x, y}, Symbol: symbol, SymbolSize: size})
	}

	sc := charts.NewScatter()
	sc.AddSeries(name, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
	return sc
}

func heatmapData(ds engine.Dataset, f models.Factors, rowName, colName, valName string) []opts.HeatMapData {
	xIdx := indexOf(f.X)
	yIdx := indexOf(f.Y)
	rows, cols, vals := ds[rowName], ds[colName], ds[valName]

	data := make([]opts.HeatMapData, 0, vals.Len())
	for i := 0; i < vals.Len(); i++ {
		v := vals.Float(i)
		x, okX := xIdx[cols.String(i)]
		y, okY := yIdx[rows.String(i)]
		if !okX || !okY || math.IsNaN(v) {
			continue
		}
		data = append(data, opts.HeatMapData{Value: []any{x, y, v}})
	}
	return data
}

func indexOf(labels []string) map[string]int {
	out := make(map[string]int, len(labels))
	for i, l := range labels {
		out[l] = i
	}
	return out
}

// LinePlot draws one column of every sampler's displayed samples against
// the active-learning iteration.
func LinePlot(meta models.Meta, st models.State, axis models.AxisUpdate, activeX string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: lineHeight}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Plot %d", axis.Plot+1), Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "8%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: activeX}),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "value",
			Name: axis.Label,
			Min:  axis.Range.Start,
			Max:  axis.Range.End,
		}),
	)

	for i, sampler := range meta.Samplers {
		ds := st.Sources[explore.ActiveSource(sampler)]
		line.AddSeries(sampler, lineData(ds, activeX, axis.Column),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: SamplerColor(i)}))
	}
	return line
}

func lineData(ds engine.Dataset, xName, yName string) []opts.LineData {
	xs, ys := points(ds, xName, yName)
	data := make([]opts.LineData, len(xs))
	for i := range xs {
		data[i] = opts.LineData{Value: []any{xs[i], ys[i]}}
	}
	return data
}
