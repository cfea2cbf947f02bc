package dataset

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strings"
)

// Reader reads the event table of one file.
type Reader interface {
	Read(path string) (*Dataset, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) (*Dataset, error)

// Read implements Reader.
func (f ReaderFunc) Read(path string) (*Dataset, error) {
	return f(path)
}

// DefaultReaders maps lower-case file extensions to readers for the given
// event tree name.
func DefaultReaders(tree string) map[string]Reader {
	arrow := ArrowReader{}
	return map[string]Reader{
		".root":    ROOTReader{Tree: tree},
		".arrow":   arrow,
		".feather": arrow,
		".ipc":     arrow,
	}
}

// readerFor picks a reader by the extension of path.
func readerFor(readers map[string]Reader, path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r, ok := readers[ext]
	if !ok {
		return nil, fmt.Errorf("no reader for %q files (%s)", ext, path)
	}
	return r, nil
}

// columnBuilder accumulates one column event by event.
type columnBuilder struct {
	col *Column
}

func newColumnBuilder(name string, kind Kind) *columnBuilder {
	c := &Column{Name: name, Kind: kind, Values: []float64{}}
	if kind == Jagged {
		c.Offsets = []int{0}
	}
	return &columnBuilder{col: c}
}

// appendReflect adds one event from a pointer to a number, bool or slice of
// those, as produced by ROOT branch readers.
func (b *columnBuilder) appendReflect(ptr any) error {
	v := reflect.ValueOf(ptr)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	if b.col.Kind == Flat {
		x, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", b.col.Name, err)
		}
		b.col.Values = append(b.col.Values, x)
		return nil
	}

	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return fmt.Errorf("field %q: expected a sequence, got %s", b.col.Name, v.Type())
	}
	for i := 0; i < v.Len(); i++ {
		x, err := toFloat(v.Index(i))
		if err != nil {
			return fmt.Errorf("field %q: %w", b.col.Name, err)
		}
		b.col.Values = append(b.col.Values, x)
	}
	b.col.Offsets = append(b.col.Offsets, len(b.col.Values))
	return nil
}

func toFloat(v reflect.Value) (float64, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.Invalid:
		return math.NaN(), nil
	}
	return 0, fmt.Errorf("unsupported value type %s", v.Type())
}

// kindOf reports whether a branch value pointer holds a sequence.
func kindOf(ptr any) Kind {
	t := reflect.TypeOf(ptr)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		return Jagged
	}
	return Flat
}
