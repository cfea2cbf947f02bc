package dataset

import (
	"fmt"
	"math"
)

// Deriver computes a new column from existing ones.
type Deriver interface {
	Derive(d *Dataset) (*Column, error)
}

// Radius computes sqrt(x*x + y*y) element-wise from two columns of the same
// shape. Two flat inputs give a flat column; two jagged inputs with equal
// per-event counts give a jagged column.
type Radius struct {
	Name string
	X, Y string
}

// Derive implements Deriver.
func (r Radius) Derive(d *Dataset) (*Column, error) {
	x, y := d.Column(r.X), d.Column(r.Y)
	if x == nil || y == nil {
		return nil, fmt.Errorf("%w: %s needs fields %q and %q", ErrSchemaMismatch, r.Name, r.X, r.Y)
	}
	if x.Kind != y.Kind {
		return nil, fmt.Errorf("%w: %s inputs %q (%s) and %q (%s) differ in kind", ErrSchemaMismatch, r.Name, r.X, x.Kind, r.Y, y.Kind)
	}

	out := &Column{Name: r.Name, Kind: x.Kind, Values: make([]float64, len(x.Values))}
	if x.Kind == Jagged {
		for i := 0; i < x.Len(); i++ {
			if x.Count(i) != y.Count(i) {
				return nil, fmt.Errorf("%w: %s inputs disagree at event %d (%d vs %d values)", ErrSchemaMismatch, r.Name, i, x.Count(i), y.Count(i))
			}
		}
		out.Offsets = append([]int(nil), x.Offsets...)
	}
	for i, xv := range x.Values {
		yv := y.Values[i]
		out.Values[i] = math.Sqrt(xv*xv + yv*yv)
	}
	return out, nil
}

// Derive runs each deriver in order and stores its column in d.
func Derive(d *Dataset, derivers ...Deriver) error {
	for _, dv := range derivers {
		col, err := dv.Derive(d)
		if err != nil {
			return err
		}
		if err := d.Set(col); err != nil {
			return err
		}
	}
	return nil
}
