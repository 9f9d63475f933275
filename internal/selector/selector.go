// Package selector computes the replacement content of a displayed columnar
// dataset in response to a single selection: a category swap or a window slice.
//
// Both operations are pure. They never mutate their inputs and always return
// fresh columns, so the caller owns the result and decides when to tell the
// rendering layer to redraw.
package selector

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"explorer/internal/engine"
)

var (
	// ErrUnknownCategory matches every *LookupError.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrKeySetMismatch matches every *KeySetError.
	ErrKeySetMismatch = errors.New("series key sets differ")
	// ErrInvalidWindow is returned for negative window lengths or multipliers.
	ErrInvalidWindow = errors.New("window length and multiplier must be non-negative")
)

// Alternatives maps a category key to the full dataset displayed for it.
// It is read-only once built.
type Alternatives map[string]engine.Dataset

// Keys returns the category keys sorted.
func (a Alternatives) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LookupError reports a category key that has no alternative dataset.
type LookupError struct {
	Key string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("unknown category %q", e.Key)
}

func (e *LookupError) Is(target error) bool { return target == ErrUnknownCategory }

// KeySetError reports series present on one side of a remap only.
type KeySetError struct {
	Category string
	Missing  []string // in current, absent from the alternative
	Extra    []string // in the alternative, absent from current
}

func (e *KeySetError) Error() string {
	return fmt.Sprintf("category %q: series key sets differ (missing %v, extra %v)", e.Category, e.Missing, e.Extra)
}

func (e *KeySetError) Is(target error) bool { return target == ErrKeySetMismatch }

// RemapByCategory replaces every series of current with the series of the same
// name in alternatives[key]. The key sets must match exactly.
func RemapByCategory(current engine.Dataset, alternatives Alternatives, key string) (engine.Dataset, error) {
	alt, ok := alternatives[key]
	if !ok {
		return nil, &LookupError{Key: key}
	}

	if !current.SameKeys(alt) {
		kerr := &KeySetError{Category: key}
		for _, k := range current.Keys() {
			if _, ok := alt[k]; !ok {
				kerr.Missing = append(kerr.Missing, k)
			}
		}
		for _, k := range alt.Keys() {
			if _, ok := current[k]; !ok {
				kerr.Extra = append(kerr.Extra, k)
			}
		}
		return nil, kerr
	}

	out := make(engine.Dataset, len(current))
	for k := range current {
		out[k] = alt[k].Clone()
	}
	return out, nil
}

// SliceWindow returns, for every series of reference, the prefix of length
// windowLength*multiplier. Requests past the end return the whole series.
func SliceWindow(reference engine.Dataset, windowLength, multiplier int) (engine.Dataset, error) {
	if windowLength < 0 || multiplier < 0 {
		return nil, fmt.Errorf("%w: length %d, multiplier %d", ErrInvalidWindow, windowLength, multiplier)
	}

	out := make(engine.Dataset, len(reference))
	for k, col := range reference {
		out[k] = col.Prefix(windowRows(windowLength, multiplier, col.Len()))
	}
	return out, nil
}

// windowRows is min(length*multiplier, available) without overflowing.
func windowRows(length, multiplier, available int) int {
	if multiplier == 0 || length == 0 {
		return 0
	}
	if length > available/multiplier {
		return available
	}
	return length * multiplier
}

// Padding widens an axis range by fractions of the column maximum.
// The zero value leaves the range at [min, max].
type Padding struct {
	Lower float64 `json:"lower" mapstructure:"lower"`
	Upper float64 `json:"upper" mapstructure:"upper"`
}

// Range is an axis interval.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AxisRange computes [min - Lower*max, max + Upper*max].
func AxisRange(b engine.Bounds, p Padding) Range {
	r := Range{
		Start: b.Min - p.Lower*b.Max,
		End:   b.Max + p.Upper*b.Max,
	}
	// A negative max flips the padding inward; keep the interval ordered.
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	if math.IsNaN(r.Start) || math.IsNaN(r.End) {
		return Range{}
	}
	return r
}
