package models

import (
	"explorer/internal/engine"
	"explorer/internal/selector"
)

// Meta describes a loaded dashboard.
type Meta struct {
	Name          string                   `json:"name"`
	Samplers      []string                 `json:"samplers"`
	Methods       []string                 `json:"cluster_methods"`
	InitialMethod string                   `json:"initial_method"`
	QuantOptions  []string                 `json:"quant_options"`
	Columns       map[string]engine.Bounds `json:"columns"`
	Heatmap       engine.Bounds            `json:"heatmap"`
	ActiveDim     int                      `json:"active_dim"`
	SymMult       int                      `json:"sym_mult"`
	Padding       selector.Padding         `json:"padding"`
	LinePlots     []string                 `json:"line_plots"`
	HasTraining   bool                     `json:"has_training"`
	PredictMap    *PredictMeta             `json:"predict_map,omitempty"`
}

// PredictMeta lists the prediction maps available per sampler. ManifoldX
// and ManifoldY are empty when the entries carry no manifold position.
type PredictMeta struct {
	Kinds          map[string][]string `json:"kinds"`
	InitialSampler string              `json:"initial_sampler"`
	InitialKind    string              `json:"initial_kind"`
	ManifoldX      string              `json:"manifold_x,omitempty"`
	ManifoldY      string              `json:"manifold_y,omitempty"`
}

// MapState is the displayed prediction map: whose map, which kind, the
// recorded step shown for the sampler's slider, and the color scale.
type MapState struct {
	Sampler string        `json:"sampler"`
	Kind    string        `json:"kind"`
	Step    int           `json:"step"`
	Bounds  engine.Bounds `json:"bounds"`
}

// Toggles are the heatmap overlays a session shows.
type Toggles struct {
	// LowerTriangle covers the upper triangle of the clustered matrix.
	LowerTriangle bool `json:"lower_triangle"`
	// ShowTraining covers the training cells.
	ShowTraining bool `json:"show_training"`
}

// Factors are the categorical axis ranges of the heatmap.
type Factors struct {
	X []string `json:"x"`
	Y []string `json:"y"`
}

// AxisUpdate is the y-axis range and label of one line plot.
type AxisUpdate struct {
	Plot   int            `json:"plot"`
	Column string         `json:"column"`
	Range  selector.Range `json:"range"`
	Label  string         `json:"label"`
}

// Update carries everything a renderer needs after one selection event.
type Update struct {
	Session string                    `json:"session"`
	Event   string                    `json:"event"`
	Sources map[string]engine.Dataset `json:"sources,omitempty"`
	Axes    []AxisUpdate              `json:"axes,omitempty"`
	Factors *Factors                  `json:"factors,omitempty"`
	Sliders map[string]int            `json:"sliders,omitempty"`
	Toggles *Toggles                  `json:"toggles,omitempty"`
	Map     *MapState                 `json:"map,omitempty"`
}

// State is the full displayed state of a session.
type State struct {
	Session string                    `json:"session"`
	Method  string                    `json:"cluster_method"`
	ShowAll bool                      `json:"show_all"`
	Toggles Toggles                   `json:"toggles"`
	Sliders map[string]int            `json:"sliders"`
	Factors Factors                   `json:"factors"`
	Axes    []AxisUpdate              `json:"axes"`
	Sources map[string]engine.Dataset `json:"sources"`
	Map     *MapState                 `json:"map,omitempty"`
}

// SourceSummary lists a source without its rows.
type SourceSummary struct {
	Name    string   `json:"name"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

// SourcePage is one paginated window of a source.
type SourcePage struct {
	Name   string         `json:"name"`
	Data   engine.Dataset `json:"data"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// --- REQUESTS ---

type SliderRequest struct {
	Value int `json:"value"`
}

type ClusterRequest struct {
	Method string `json:"method"`
}

type LineRequest struct {
	Column string `json:"column"`
}

// ToggleRequest switches show-all mode or a heatmap overlay.
type ToggleRequest struct {
	Active bool `json:"active"`
}

type MapRequest struct {
	Sampler string `json:"sampler"`
	Kind    string `json:"kind"`
}
