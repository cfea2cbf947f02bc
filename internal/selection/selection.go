// Package selection applies event and hit cuts to a Dataset and flattens the
// surviving values into one numeric series per field.
package selection

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/nvandessel/simrun/internal/constants"
	"github.com/nvandessel/simrun/internal/dataset"
	"github.com/nvandessel/simrun/internal/logging"
)

// ErrPrecondition is returned when a selection is applied without a dataset.
var ErrPrecondition = errors.New("precondition violated")

// Event is a read-only view of one row of a Dataset.
type Event struct {
	ds  *dataset.Dataset
	row int
}

// NewEvent returns the view of row i of ds.
func NewEvent(ds *dataset.Dataset, i int) Event {
	return Event{ds: ds, row: i}
}

// Index returns the event's row number.
func (e Event) Index() int {
	return e.row
}

// Value returns the value of a flat field. Absent fields read as 0 and
// jagged fields as NaN, so comparisons against them fail.
func (e Event) Value(name string) float64 {
	c := e.ds.Column(name)
	if c == nil {
		return 0
	}
	if c.Kind == dataset.Jagged {
		return math.NaN()
	}
	return c.Values[e.row]
}

// Total returns a flat field's value or the sum over a jagged field's row.
// Absent fields read as 0.
func (e Event) Total(name string) float64 {
	c := e.ds.Column(name)
	if c == nil {
		return 0
	}
	var sum float64
	for _, v := range c.Row(e.row) {
		sum += v
	}
	return sum
}

// Hits returns the event's sub-records of a field, or nil when absent.
// The slice aliases dataset storage and must not be modified.
func (e Event) Hits(name string) []float64 {
	c := e.ds.Column(name)
	if c == nil {
		return nil
	}
	return c.Row(e.row)
}

// EventPredicate selects whole events.
type EventPredicate func(Event) bool

// HitPredicate selects sub-record hit of an event.
type HitPredicate func(e Event, hit int) bool

// And returns the conjunction of preds. No predicates selects everything.
func And(preds ...EventPredicate) EventPredicate {
	return func(e Event) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// Fields names the columns the default cuts read.
type Fields struct {
	Compton   string
	Photo     string
	Type      string
	HitEnergy string
}

// DefaultFields returns the simulation's column names.
func DefaultFields() Fields {
	return Fields{
		Compton:   constants.FieldComptonCount,
		Photo:     constants.FieldPhotoCount,
		Type:      constants.FieldEventType,
		HitEnergy: constants.FieldHitEnergy,
	}
}

// DefaultEventPredicate keeps primary events with exactly one Compton or
// photoelectric interaction in total.
func DefaultEventPredicate(f Fields) EventPredicate {
	return func(e Event) bool {
		return e.Total(f.Compton)+e.Total(f.Photo) == 1 &&
			e.Value(f.Type) == constants.PrimaryEventType
	}
}

// EnergyTerm keeps hits depositing more than threshold in the hit energy
// field.
func EnergyTerm(f Fields, threshold float64) HitPredicate {
	return func(e Event, hit int) bool {
		hits := e.Hits(f.HitEnergy)
		return hit < len(hits) && hits[hit] > threshold
	}
}

// Result holds one flattened series per field.
type Result map[string][]float64

// Len returns the length of a field's series, 0 when absent.
func (r Result) Len(field string) int {
	return len(r[field])
}

// Fields returns the field names in sorted order.
func (r Result) Fields() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine applies cuts to datasets.
type Engine struct {
	Fields    Fields
	Threshold float64

	// HitFields lists the jagged fields with one entry per hit. When empty,
	// a jagged field counts as per-hit if its count equals the hit field's
	// count in every event of the dataset.
	HitFields []string

	Logger *slog.Logger
}

// NewEngine returns an engine with the default fields and energy threshold.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		Fields:    DefaultFields(),
		Threshold: constants.HitEnergyThreshold,
		HitFields: append([]string(nil), constants.HitFields...),
		Logger:    logging.OrDiscard(logger),
	}
}

// EventPredicate returns pred, or the default event cut when pred is nil.
func (en *Engine) EventPredicate(pred EventPredicate) EventPredicate {
	if pred != nil {
		return pred
	}
	return DefaultEventPredicate(en.Fields)
}

// HitPredicate builds the effective hit cut. Without an override it is the
// energy term AND the event cut. An override is always combined as
// override AND event cut AND energy term.
func (en *Engine) HitPredicate(event EventPredicate, override HitPredicate) HitPredicate {
	event = en.EventPredicate(event)
	energy := EnergyTerm(en.Fields, en.Threshold)
	if override == nil {
		return func(e Event, hit int) bool {
			return energy(e, hit) && event(e)
		}
	}
	return func(e Event, hit int) bool {
		return override(e, hit) && event(e) && energy(e, hit)
	}
}

// Apply selects ds. Flat fields keep the values of events passing the event
// cut. The hit cut builds a mask over the hit energy field of each event.
// Per-hit jagged fields keep the masked sub-records; other jagged fields keep
// the whole row of every event with at least one surviving hit. Series are
// flattened event-major.
func (en *Engine) Apply(ds *dataset.Dataset, event EventPredicate, hit HitPredicate) (Result, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: no dataset loaded", ErrPrecondition)
	}
	logger := logging.OrDiscard(en.Logger)

	eventCut := en.EventPredicate(event)
	hitCut := en.HitPredicate(event, hit)

	var hitCol *dataset.Column
	hasJagged := false
	for _, c := range ds.Columns() {
		if c.Kind == dataset.Jagged {
			hasJagged = true
			break
		}
	}
	var perHit map[string]bool
	if hasJagged {
		hitCol = ds.Column(en.Fields.HitEnergy)
		if hitCol == nil || hitCol.Kind != dataset.Jagged {
			return nil, fmt.Errorf("%w: hit field %q is not a jagged field", dataset.ErrSchemaMismatch, en.Fields.HitEnergy)
		}
		var err error
		if perHit, err = en.perHitFields(ds, hitCol); err != nil {
			return nil, err
		}
	}

	res := make(Result, len(ds.Columns()))
	for _, c := range ds.Columns() {
		res[c.Name] = []float64{}
	}

	var mask []bool
	selected, hits := 0, 0
	for i := 0; i < ds.Events(); i++ {
		ev := NewEvent(ds, i)
		keepEvent := eventCut(ev)
		if keepEvent {
			selected++
		}

		surviving := 0
		if hitCol != nil {
			n := hitCol.Count(i)
			mask = mask[:0]
			for h := 0; h < n; h++ {
				ok := hitCut(ev, h)
				if ok {
					surviving++
				}
				mask = append(mask, ok)
			}
			hits += surviving
		}

		for _, c := range ds.Columns() {
			if c.Kind == dataset.Flat {
				if keepEvent {
					res[c.Name] = append(res[c.Name], c.Values[i])
				}
				continue
			}
			if surviving == 0 {
				continue
			}
			row := c.Row(i)
			if !perHit[c.Name] {
				res[c.Name] = append(res[c.Name], row...)
				continue
			}
			for h, v := range row {
				if mask[h] {
					res[c.Name] = append(res[c.Name], v)
				}
			}
		}
	}

	logger.Debug("applied selection", "events", ds.Events(), "selected", selected, "hits", hits)
	return res, nil
}

// perHitFields decides once per dataset which jagged fields share the hit
// mask. Listed hit fields must match the hit field's count in every event.
func (en *Engine) perHitFields(ds *dataset.Dataset, hitCol *dataset.Column) (map[string]bool, error) {
	listed := make(map[string]bool, len(en.HitFields)+1)
	for _, name := range en.HitFields {
		listed[name] = true
	}
	listed[hitCol.Name] = true

	perHit := make(map[string]bool)
	for _, c := range ds.Columns() {
		if c.Kind != dataset.Jagged {
			continue
		}
		event, aligned := firstMisaligned(c, hitCol)
		switch {
		case len(en.HitFields) == 0:
			perHit[c.Name] = aligned
		case listed[c.Name]:
			if !aligned {
				return nil, fmt.Errorf("%w: hit field %q has %d entries in event %d, %q has %d",
					dataset.ErrSchemaMismatch, c.Name, c.Count(event), event, hitCol.Name, hitCol.Count(event))
			}
			perHit[c.Name] = true
		}
	}
	return perHit, nil
}

// firstMisaligned reports whether c has the same count as hitCol in every
// event, and otherwise the first event where they differ.
func firstMisaligned(c, hitCol *dataset.Column) (int, bool) {
	for i := 0; i < hitCol.Len(); i++ {
		if c.Count(i) != hitCol.Count(i) {
			return i, false
		}
	}
	return 0, true
}
