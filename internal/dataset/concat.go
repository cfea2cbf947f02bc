package dataset

import "fmt"

// Concat appends the events of parts in order. Every part must have the same
// field names with the same kinds as the first; a field missing from, or
// extra in, any part is ErrSchemaMismatch. Column order follows the first part.
func Concat(parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return New(0), nil
	}

	first := parts[0]
	for p, part := range parts[1:] {
		if err := sameSchema(first, part); err != nil {
			return nil, fmt.Errorf("part %d: %w", p+1, err)
		}
	}

	total := 0
	for _, part := range parts {
		total += part.Events()
	}

	out := New(total)
	for _, col := range first.Columns() {
		merged := &Column{Name: col.Name, Kind: col.Kind}
		if col.Kind == Jagged {
			merged.Offsets = make([]int, 1, total+1)
		}
		for _, part := range parts {
			src := part.Column(col.Name)
			if col.Kind == Flat {
				merged.Values = append(merged.Values, src.Values...)
				continue
			}
			for i := 0; i < src.Len(); i++ {
				merged.AppendRow(src.Row(i))
			}
		}
		if merged.Kind == Flat && merged.Values == nil {
			merged.Values = []float64{}
		}
		if err := out.Set(merged); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sameSchema(want, got *Dataset) error {
	if len(want.Columns()) != len(got.Columns()) {
		for _, c := range got.Columns() {
			if want.Column(c.Name) == nil {
				return fmt.Errorf("%w: unexpected field %q", ErrSchemaMismatch, c.Name)
			}
		}
	}
	for _, c := range want.Columns() {
		other := got.Column(c.Name)
		if other == nil {
			return fmt.Errorf("%w: missing field %q", ErrSchemaMismatch, c.Name)
		}
		if other.Kind != c.Kind {
			return fmt.Errorf("%w: field %q is %s, expected %s", ErrSchemaMismatch, c.Name, other.Kind, c.Kind)
		}
	}
	return nil
}
