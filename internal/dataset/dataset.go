// Package dataset holds event tables in memory and loads them from run
// output files.
//
// A Dataset is columnar. Every column has one row per event; a flat column
// stores one value per row, a jagged column a variable number of values per
// row (one per hit, per detector, ...). Jagged columns keep their own
// per-row counts, which need not agree with other jagged columns.
package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an input file does not exist.
	ErrNotFound = errors.New("input not found")

	// ErrSchemaMismatch is returned when files disagree on their fields or a
	// derived field cannot be computed from the available columns.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Kind tells flat and jagged columns apart.
type Kind int

const (
	// Flat columns have exactly one value per event.
	Flat Kind = iota
	// Jagged columns have zero or more values per event.
	Jagged
)

func (k Kind) String() string {
	switch k {
	case Flat:
		return "flat"
	case Jagged:
		return "jagged"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Column is a named series of values. For jagged columns, row i is
// Values[Offsets[i]:Offsets[i+1]] and len(Offsets) is the event count + 1.
type Column struct {
	Name    string
	Kind    Kind
	Values  []float64
	Offsets []int
}

// NewFlat returns a flat column over values.
func NewFlat(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Flat, Values: values}
}

// NewJagged returns a jagged column with one row per element of rows.
func NewJagged(name string, rows [][]float64) *Column {
	c := &Column{Name: name, Kind: Jagged, Offsets: make([]int, 1, len(rows)+1)}
	for _, row := range rows {
		c.AppendRow(row)
	}
	return c
}

// AppendRow adds one event to a jagged column.
func (c *Column) AppendRow(row []float64) {
	if len(c.Offsets) == 0 {
		c.Offsets = []int{0}
	}
	c.Values = append(c.Values, row...)
	c.Offsets = append(c.Offsets, len(c.Values))
}

// Len returns the number of events in the column.
func (c *Column) Len() int {
	if c.Kind == Jagged {
		if len(c.Offsets) == 0 {
			return 0
		}
		return len(c.Offsets) - 1
	}
	return len(c.Values)
}

// Row returns the values of event i. Flat columns return a one-element slice.
// The slice aliases the column's storage.
func (c *Column) Row(i int) []float64 {
	if c.Kind == Jagged {
		return c.Values[c.Offsets[i]:c.Offsets[i+1]]
	}
	return c.Values[i : i+1]
}

// Count returns how many values event i has.
func (c *Column) Count(i int) int {
	if c.Kind == Jagged {
		return c.Offsets[i+1] - c.Offsets[i]
	}
	return 1
}

// Dataset is a set of columns with a common event count.
type Dataset struct {
	events int
	cols   []*Column
	index  map[string]int
}

// New returns an empty dataset of the given event count.
func New(events int) *Dataset {
	return &Dataset{events: events, index: make(map[string]int)}
}

// Events returns the number of events.
func (d *Dataset) Events() int {
	return d.events
}

// Set adds c, replacing any column of the same name. The column must have
// the dataset's event count.
func (d *Dataset) Set(c *Column) error {
	if c.Len() != d.events {
		return fmt.Errorf("%w: column %q has %d events, dataset has %d", ErrSchemaMismatch, c.Name, c.Len(), d.events)
	}
	if i, ok := d.index[c.Name]; ok {
		d.cols[i] = c
		return nil
	}
	d.index[c.Name] = len(d.cols)
	d.cols = append(d.cols, c)
	return nil
}

// Column returns the named column, or nil.
func (d *Dataset) Column(name string) *Column {
	i, ok := d.index[name]
	if !ok {
		return nil
	}
	return d.cols[i]
}

// Columns returns the columns in insertion order.
func (d *Dataset) Columns() []*Column {
	return d.cols
}

// Fields returns the column names in insertion order.
func (d *Dataset) Fields() []string {
	names := make([]string, len(d.cols))
	for i, c := range d.cols {
		names[i] = c.Name
	}
	return names
}
