// Package manifest describes the files and column roles behind one explorer dashboard.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"explorer/internal/cluster"
)

// Manifest is the on-disk description of a dashboard's inputs.
type Manifest struct {
	Name string `yaml:"name"`

	// Matrix is the reconstruction matrix; its first column holds row labels.
	Matrix string `yaml:"matrix"`
	// TrainMask is an optional matrix of the same shape; non-zero cells are training data.
	TrainMask string `yaml:"train_mask,omitempty"`
	// Bundle, when set, replaces Matrix/TrainMask/Samplers with an Arrow bundle
	// directory (data/M, data/S_train, samples/*).
	Bundle string `yaml:"bundle,omitempty"`

	// Samplers maps a sampler name to its sample table.
	Samplers map[string]string `yaml:"samplers"`
	// SamplerOrder fixes the display order; defaults to sorted names.
	SamplerOrder []string `yaml:"sampler_order,omitempty"`

	Symmetric      bool     `yaml:"symmetric"`
	ClusterMethods []string `yaml:"cluster_methods"`
	InitialMethod  string   `yaml:"initial_method"`

	Columns Columns `yaml:"columns"`

	// PredictMap, when set, adds the per-sampler prediction maps. Its tables
	// are read from disk even when Bundle is set.
	PredictMap *PredictMap `yaml:"predict_map,omitempty"`
}

// PredictMap names the tables behind the prediction heatmap and manifold.
type PredictMap struct {
	// Entries has one row per predicted cell: its coordinates and,
	// optionally, its manifold position.
	Entries string `yaml:"entries"`
	// Maps holds, per sampler and map kind, a table with one column per
	// slider value ("0", "1", ...) aligned with Entries.
	Maps map[string]map[string]string `yaml:"maps"`

	InitialSampler string `yaml:"initial_sampler,omitempty"`
	InitialKind    string `yaml:"initial_kind,omitempty"`

	// QLow and QHigh are the percentiles that bound the color scale.
	QLow  float64 `yaml:"q_low"`
	QHigh float64 `yaml:"q_high"`
	// Constant kinds ignore the slider and always show step 0.
	Constant []string `yaml:"constant,omitempty"`
	// FixedBounds pins the color scale of a kind.
	FixedBounds map[string]Range `yaml:"fixed_bounds,omitempty"`

	ManifoldX string `yaml:"manifold_x,omitempty"`
	ManifoldY string `yaml:"manifold_y,omitempty"`
}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Columns names the roles of sampler and matrix columns.
type Columns struct {
	ActiveX  string `yaml:"active_x"`
	Batch    string `yaml:"batch"`
	RowCoord string `yaml:"row_coord"`
	ColCoord string `yaml:"col_coord"`
	RowName  string `yaml:"row_name"`
	ColName  string `yaml:"col_name"`
	ValName  string `yaml:"val_name"`
}

var (
	ErrNoMatrix       = errors.New("manifest: matrix or bundle is required")
	ErrNoSamplers     = errors.New("manifest: at least one sampler is required")
	ErrDuplicateNames = errors.New("manifest: row_name, col_name and val_name must differ")
	ErrInitialMethod  = errors.New("manifest: initial_method must be one of cluster_methods")
	ErrSamplerOrder   = errors.New("manifest: sampler_order must list every sampler once")
	ErrPredictMap     = errors.New("manifest: invalid predict_map")
)

// Load reads and validates a manifest, resolving relative paths against its directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.applyDefaults()
	m.resolve(filepath.Dir(path))

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Name == "" {
		m.Name = "active explorer"
	}
	if len(m.ClusterMethods) == 0 {
		m.ClusterMethods = []string{string(cluster.MethodNone), string(cluster.MethodWard), string(cluster.MethodAverage)}
	}
	if m.InitialMethod == "" {
		m.InitialMethod = m.ClusterMethods[0]
	}
	c := &m.Columns
	setDefault(&c.ActiveX, "active_iter")
	setDefault(&c.Batch, "batch")
	setDefault(&c.RowCoord, "row_idx")
	setDefault(&c.ColCoord, "col_idx")
	setDefault(&c.RowName, "dim1")
	setDefault(&c.ColName, "dim2")
	setDefault(&c.ValName, "entry_value")

	if p := m.PredictMap; p != nil {
		setDefault(&p.InitialKind, "prediction")
		setDefault(&p.ManifoldX, "x")
		setDefault(&p.ManifoldY, "y")
		if p.QHigh == 0 {
			p.QHigh = 100
		}
		if p.Constant == nil {
			p.Constant = []string{"density"}
		}
		if p.FixedBounds == nil {
			p.FixedBounds = map[string]Range{"prediction": {Min: -0.3, Max: 0.3}}
		}
		if p.InitialSampler == "" {
			p.InitialSampler = firstWithMaps(m.SamplerOrder, p.Maps)
		}
	}
}

func firstWithMaps(order []string, maps map[string]map[string]string) string {
	for _, s := range order {
		if len(maps[s]) > 0 {
			return s
		}
	}
	names := make([]string, 0, len(maps))
	for s, kinds := range maps {
		if len(kinds) > 0 {
			names = append(names, s)
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func (m *Manifest) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	m.Matrix = abs(m.Matrix)
	m.TrainMask = abs(m.TrainMask)
	m.Bundle = abs(m.Bundle)
	for k, v := range m.Samplers {
		m.Samplers[k] = abs(v)
	}
	if p := m.PredictMap; p != nil {
		p.Entries = abs(p.Entries)
		for _, kinds := range p.Maps {
			for k, v := range kinds {
				kinds[k] = abs(v)
			}
		}
	}
}

// Validate checks the manifest for internal consistency.
func (m *Manifest) Validate() error {
	if m.Matrix == "" && m.Bundle == "" {
		return ErrNoMatrix
	}
	if m.Bundle == "" && len(m.Samplers) == 0 {
		return ErrNoSamplers
	}
	c := m.Columns
	if c.RowName == c.ColName || c.RowName == c.ValName || c.ColName == c.ValName {
		return ErrDuplicateNames
	}

	found := false
	for _, s := range m.ClusterMethods {
		if _, err := cluster.ParseMethod(s); err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		if s == m.InitialMethod {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrInitialMethod, m.InitialMethod)
	}

	if len(m.SamplerOrder) > 0 && m.Bundle == "" {
		seen := make(map[string]bool, len(m.SamplerOrder))
		for _, s := range m.SamplerOrder {
			if _, ok := m.Samplers[s]; !ok || seen[s] {
				return fmt.Errorf("%w: %q", ErrSamplerOrder, s)
			}
			seen[s] = true
		}
		if len(seen) != len(m.Samplers) {
			return ErrSamplerOrder
		}
	}
	if m.PredictMap != nil {
		return m.PredictMap.validate()
	}
	return nil
}

func (p *PredictMap) validate() error {
	if p.Entries == "" {
		return fmt.Errorf("%w: entries is required", ErrPredictMap)
	}
	if p.InitialSampler == "" {
		return fmt.Errorf("%w: no sampler has maps", ErrPredictMap)
	}
	if _, ok := p.Maps[p.InitialSampler]; !ok {
		return fmt.Errorf("%w: initial_sampler %q has no maps", ErrPredictMap, p.InitialSampler)
	}
	for sampler, kinds := range p.Maps {
		if _, ok := kinds[p.InitialKind]; !ok {
			return fmt.Errorf("%w: sampler %q has no %q map", ErrPredictMap, sampler, p.InitialKind)
		}
	}
	if p.QLow < 0 || p.QHigh > 100 || p.QLow > p.QHigh {
		return fmt.Errorf("%w: percentiles %v..%v", ErrPredictMap, p.QLow, p.QHigh)
	}
	for kind, r := range p.FixedBounds {
		if r.Min > r.Max {
			return fmt.Errorf("%w: fixed_bounds %q", ErrPredictMap, kind)
		}
	}
	return nil
}
