package explore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"explorer/internal/engine"
	"explorer/internal/models"
	"explorer/internal/selector"
)

// Event kinds reported in updates and metrics.
const (
	EventSlider        = "slider"
	EventCluster       = "cluster"
	EventLine          = "line"
	EventShowAll       = "show_all"
	EventMap           = "map"
	EventLowerTriangle = "lower_triangle"
	EventShowTraining  = "show_training"
)

// ErrNoTraining is returned when showing training cells that were never loaded.
var ErrNoTraining = errors.New("no training mask loaded")

// Session is one client's view of an explorer: slider positions, the active
// cluster ordering, the selected line plot columns, and the datasets derived
// from them. Every event returns the update the renderer must apply.
type Session struct {
	ID string

	ex *Explorer

	mu       sync.Mutex
	sliders  map[string]int
	held     map[string]int
	showAll  bool
	method   string
	lines    []string
	toggles  models.Toggles
	sources  map[string]engine.Dataset
	lastSeen time.Time

	mapSampler string
	mapKind    string
	mapState   models.MapState
}

func newSession(id string, ex *Explorer, now time.Time) (*Session, error) {
	s := &Session{
		ID:       id,
		ex:       ex,
		sliders:  make(map[string]int, len(ex.samplers)),
		method:   ex.initMethod,
		lines:    append([]string(nil), ex.initLines...),
		sources:  make(map[string]engine.Dataset, len(ex.samplers)+1),
		lastSeen: now,
	}
	for _, name := range ex.samplers {
		if err := s.applySlider(name, 0); err != nil {
			return nil, err
		}
	}
	s.sources[SourceMask] = ex.masks[ex.initMethod].Clone()
	if ex.predict != nil {
		s.mapSampler, s.mapKind = ex.predict.initSampler, ex.predict.initKind
		s.applyMap()
	}
	return s, nil
}

// MoveSlider shows the first value active-learning iterations of a sampler.
// Moving a slider while every sample is shown leaves show-all mode.
func (s *Session) MoveSlider(sampler string, value int) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ex.references[sampler]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSampler, sampler)
	}
	if value < 0 || value > s.ex.activeDim {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrSliderRange, value, s.ex.activeDim)
	}

	s.showAll = false
	s.held = nil
	if err := s.applySlider(sampler, value); err != nil {
		return nil, err
	}
	up := &models.Update{
		Session: s.ID,
		Event:   EventSlider,
		Sources: map[string]engine.Dataset{ActiveSource(sampler): s.sources[ActiveSource(sampler)]},
		Sliders: map[string]int{sampler: value},
	}
	if s.ex.predict != nil && sampler == s.mapSampler {
		s.refreshMap(up)
	}
	return up, nil
}

func (s *Session) applySlider(sampler string, value int) error {
	window, err := selector.SliceWindow(s.ex.references[sampler], value, s.ex.symMult)
	if err != nil {
		return err
	}
	s.sliders[sampler] = value
	s.sources[ActiveSource(sampler)] = window
	return nil
}

// SelectCluster switches the upper-triangle mask and the heatmap factor
// ranges to another cluster ordering.
func (s *Session) SelectCluster(method string) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mask, err := selector.RemapByCategory(s.sources[SourceMask], s.ex.masks, method)
	if err != nil {
		return nil, err
	}
	s.sources[SourceMask] = mask
	s.method = method

	f := s.ex.factors[method]
	return &models.Update{
		Session: s.ID,
		Event:   EventCluster,
		Sources: map[string]engine.Dataset{SourceMask: mask},
		Factors: &f,
	}, nil
}

// SelectLineColumn plots column on line plot number plot and rescales its y axis.
func (s *Session) SelectLineColumn(plot int, column string) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plot < 0 || plot >= len(s.lines) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlot, plot)
	}
	axis, err := s.ex.axis(plot, column)
	if err != nil {
		return nil, err
	}
	s.lines[plot] = column
	return &models.Update{
		Session: s.ID,
		Event:   EventLine,
		Axes:    []models.AxisUpdate{axis},
	}, nil
}

// ShowAll moves every slider to its end. Turning it off restores the
// positions held when it was turned on.
func (s *Session) ShowAll(active bool) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active == s.showAll {
		return &models.Update{Session: s.ID, Event: EventShowAll}, nil
	}

	target := make(map[string]int, len(s.sliders))
	if active {
		s.held = make(map[string]int, len(s.sliders))
		for name, v := range s.sliders {
			s.held[name] = v
			target[name] = s.ex.activeDim
		}
	} else {
		for name := range s.sliders {
			target[name] = s.held[name]
		}
		s.held = nil
	}

	up := &models.Update{
		Session: s.ID,
		Event:   EventShowAll,
		Sources: make(map[string]engine.Dataset, len(target)),
		Sliders: target,
	}
	for name, v := range target {
		if err := s.applySlider(name, v); err != nil {
			return nil, err
		}
		up.Sources[ActiveSource(name)] = s.sources[ActiveSource(name)]
	}
	s.showAll = active
	if s.ex.predict != nil {
		s.refreshMap(up)
	}
	return up, nil
}

// SelectMap shows another sampler's prediction map. A kind the sampler has
// no map for falls back to the initial kind.
func (s *Session) SelectMap(sampler, kind string) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ex.predict == nil {
		return nil, ErrNoPredictMap
	}
	kind, err := s.ex.predict.kind(sampler, kind)
	if err != nil {
		return nil, err
	}
	s.mapSampler, s.mapKind = sampler, kind

	up := &models.Update{Session: s.ID, Event: EventMap}
	s.refreshMap(up)
	return up, nil
}

func (s *Session) applyMap() {
	ds, st := s.ex.predict.view(s.mapSampler, s.mapKind, s.sliders[s.mapSampler])
	s.sources[SourcePrediction] = ds
	s.mapState = st
}

func (s *Session) refreshMap(up *models.Update) {
	s.applyMap()
	if up.Sources == nil {
		up.Sources = make(map[string]engine.Dataset, 1)
	}
	up.Sources[SourcePrediction] = s.sources[SourcePrediction]
	st := s.mapState
	up.Map = &st
}

// SetLowerTriangle covers or uncovers the upper triangle of the heatmap.
func (s *Session) SetLowerTriangle(active bool) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.toggles.LowerTriangle = active
	t := s.toggles
	return &models.Update{Session: s.ID, Event: EventLowerTriangle, Toggles: &t}, nil
}

// SetShowTraining covers or uncovers the training cells of the heatmap.
func (s *Session) SetShowTraining(active bool) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active && s.ex.training == nil {
		return nil, ErrNoTraining
	}
	s.toggles.ShowTraining = active
	t := s.toggles
	return &models.Update{Session: s.ID, Event: EventShowTraining, Toggles: &t}, nil
}

// Source returns a session or explorer dataset by name.
func (s *Session) Source(name string) (engine.Dataset, bool) {
	if ds, ok := s.ex.StaticSource(name); ok {
		return ds, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.sources[name]
	return ds, ok
}

// SourceNames lists every dataset Source can return.
func (s *Session) SourceNames() []string {
	names := []string{SourceHeatmap}
	if s.ex.training != nil {
		names = append(names, SourceTraining)
	}
	names = append(names, SourceMask)
	for _, sampler := range s.ex.samplers {
		names = append(names, ActiveSource(sampler))
	}
	if s.ex.predict != nil {
		names = append(names, SourcePrediction)
	}
	return names
}

// Snapshot returns the full displayed state.
func (s *Session) Snapshot() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.State{
		Session: s.ID,
		Method:  s.method,
		ShowAll: s.showAll,
		Toggles: s.toggles,
		Sliders: make(map[string]int, len(s.sliders)),
		Factors: s.ex.factors[s.method],
		Sources: make(map[string]engine.Dataset, len(s.sources)),
	}
	for k, v := range s.sliders {
		st.Sliders[k] = v
	}
	for k, v := range s.sources {
		st.Sources[k] = v
	}
	if s.ex.predict != nil {
		m := s.mapState
		st.Map = &m
	}
	for i, col := range s.lines {
		if axis, err := s.ex.axis(i, col); err == nil {
			st.Axes = append(st.Axes, axis)
		}
	}
	return st
}

// Lines returns the column shown on each line plot.
func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Explorer returns the data the session was opened on.
func (s *Session) Explorer() *Explorer { return s.ex }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
