package render

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"explorer/internal/engine"
	"explorer/internal/explore"
	"explorer/internal/models"
)

// ErrNoPoints is returned when no sampler has a displayed sample to draw.
var ErrNoPoints = errors.New("nothing to plot")

const (
	pngWidth  = 800
	pngHeight = 400
)

// LinePNG draws one line plot as a static PNG, one series per sampler with
// displayed samples.
func LinePNG(w io.Writer, meta models.Meta, st models.State, axis models.AxisUpdate, activeX string) error {
	var series []chart.Series
	for i, sampler := range meta.Samplers {
		xs, ys := points(st.Sources[explore.ActiveSource(sampler)], activeX, axis.Column)
		if len(xs) == 0 {
			continue
		}
		color := drawing.ColorFromHex(SamplerColor(i))
		series = append(series, chart.ContinuousSeries{
			Name:    sampler,
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeWidth: 2, StrokeColor: color, DotWidth: 3, DotColor: color},
		})
	}
	if len(series) == 0 {
		return fmt.Errorf("%w: plot %d", ErrNoPoints, axis.Plot)
	}

	lo, hi := axis.Range.Start, axis.Range.End
	if hi <= lo {
		lo, hi = lo-1, hi+1
	}
	ch := chart.Chart{
		Title:  fmt.Sprintf("Plot %d", axis.Plot+1),
		Width:  pngWidth,
		Height: pngHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:  activeX,
			Range: &chart.ContinuousRange{Min: 0, Max: math.Max(float64(meta.ActiveDim), 1)},
		},
		YAxis: chart.YAxis{
			Name:  axis.Label,
			Range: &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}

func points(ds engine.Dataset, xName, yName string) ([]float64, []float64) {
	xc, okX := ds[xName]
	yc, okY := ds[yName]
	if !okX || !okY {
		return nil, nil
	}

	xs := make([]float64, 0, yc.Len())
	ys := make([]float64, 0, yc.Len())
	for i := 0; i < yc.Len(); i++ {
		x, y := xc.Float(i), yc.Float(i)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}
