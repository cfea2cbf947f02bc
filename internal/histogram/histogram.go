// Package histogram fills weighted fixed-width histograms from selection
// results.
package histogram

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"

	"github.com/nvandessel/simrun/internal/constants"
	"github.com/nvandessel/simrun/internal/selection"
)

// ErrPrecondition is returned when a histogram is requested for a field that
// the selection result does not hold.
var ErrPrecondition = errors.New("precondition violated")

// WeightSelector picks the log-weight series for a field of res.
type WeightSelector func(res selection.Result, field string) (string, error)

// ByLength uses the event weight when its series is as long as the field's
// and the hit weight otherwise. The choice is purely structural: a flat field
// whose length happens to equal the hit weight series is mis-weighted.
func ByLength(eventWeight, hitWeight string) WeightSelector {
	return func(res selection.Result, field string) (string, error) {
		values, ok := res[field]
		if !ok {
			return "", fmt.Errorf("%w: no field %q", ErrPrecondition, field)
		}
		if ev, ok := res[eventWeight]; ok && len(ev) == len(values) {
			return eventWeight, nil
		}
		if _, ok := res[hitWeight]; ok {
			return hitWeight, nil
		}
		return "", fmt.Errorf("%w: no weight series for field %q", ErrPrecondition, field)
	}
}

// Explicit maps fields to weight series by name, falling back to fallback for
// unmapped fields. A nil fallback makes unmapped fields an error.
func Explicit(weights map[string]string, fallback WeightSelector) WeightSelector {
	return func(res selection.Result, field string) (string, error) {
		if w, ok := weights[field]; ok {
			if _, ok := res[w]; !ok {
				return "", fmt.Errorf("%w: no weight series %q", ErrPrecondition, w)
			}
			return w, nil
		}
		if fallback == nil {
			return "", fmt.Errorf("%w: no weight mapped for field %q", ErrPrecondition, field)
		}
		return fallback(res, field)
	}
}

// DefaultWeights is ByLength over the simulation's weight fields.
func DefaultWeights() WeightSelector {
	return ByLength(constants.FieldWeight, constants.FieldHitWeight)
}

// Options configures Build. Zero values select the defaults.
type Options struct {
	Bins int
	// Range is [low, high]; nil uses the data's min and max.
	Range *[2]float64
	// Weights picks the weight series; nil uses DefaultWeights.
	Weights WeightSelector
}

// Histogram is a filled histogram and its diagnostics.
type Histogram struct {
	Field       string
	WeightField string
	// Counts holds the weighted content of each bin.
	Counts []float64
	// Edges holds len(Counts)+1 bin edges.
	Edges []float64
	// Integral is the sum of Counts.
	Integral float64
	// Entries is the number of values that landed in a bin.
	Entries int
	H1D     *hbook.H1D
}

// Build histograms field of res with exp(weight) per value. Values outside
// the range and NaNs are dropped. Bins are half-open except the last, which
// includes the upper edge.
func Build(res selection.Result, field string, opts Options) (*Histogram, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: no selection result", ErrPrecondition)
	}
	values, ok := res[field]
	if !ok {
		return nil, fmt.Errorf("%w: no field %q", ErrPrecondition, field)
	}

	bins := opts.Bins
	if bins <= 0 {
		bins = constants.DefaultBins
	}
	selectWeights := opts.Weights
	if selectWeights == nil {
		selectWeights = DefaultWeights()
	}

	weightField, err := selectWeights(res, field)
	if err != nil {
		return nil, err
	}
	weights := res[weightField]
	if len(weights) != len(values) {
		return nil, fmt.Errorf("weight series %q has %d values, field %q has %d", weightField, len(weights), field, len(values))
	}

	low, high, err := bounds(values, opts.Range)
	if err != nil {
		return nil, err
	}

	h1 := hbook.NewH1D(bins, low, high)
	entries := 0
	for i, x := range values {
		if math.IsNaN(x) || x < low || x > high {
			continue
		}
		if x == high {
			x = math.Nextafter(high, low)
		}
		h1.Fill(x, math.Exp(weights[i]))
		entries++
	}

	out := &Histogram{
		Field:       field,
		WeightField: weightField,
		Counts:      make([]float64, bins),
		Edges:       make([]float64, bins+1),
		Entries:     entries,
		H1D:         h1,
	}
	width := (high - low) / float64(bins)
	for i := range out.Edges {
		out.Edges[i] = low + float64(i)*width
	}
	out.Edges[bins] = high
	for i := range out.Counts {
		out.Counts[i] = h1.Binning.Bins[i].SumW()
		out.Integral += out.Counts[i]
	}
	return out, nil
}

// bounds returns the explicit range, or the finite min and max of values
// widened by 0.5 on each side when they coincide.
func bounds(values []float64, r *[2]float64) (float64, float64, error) {
	if r != nil {
		low, high := r[0], r[1]
		if math.IsNaN(low) || math.IsNaN(high) || !(low < high) {
			return 0, 0, fmt.Errorf("invalid range [%v, %v]", low, high)
		}
		return low, high, nil
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		low = math.Min(low, x)
		high = math.Max(high, x)
	}
	if math.IsInf(low, 1) {
		return 0, 1, nil
	}
	if low == high {
		return low - 0.5, high + 0.5, nil
	}
	return low, high, nil
}
