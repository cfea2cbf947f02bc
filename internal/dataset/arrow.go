package dataset

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// ArrowReader reads event tables stored as Arrow IPC files. Numeric columns
// become flat columns and list-of-numeric columns jagged ones. Null scalars
// read as NaN and null lists as empty rows.
type ArrowReader struct {
	Allocator memory.Allocator
}

// Read implements Reader.
func (r ArrowReader) Read(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mem := r.Allocator
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("could not open Arrow file: %w", err)
	}
	defer fr.Close()

	schema := fr.Schema()
	builders := make([]*columnBuilder, schema.NumFields())
	for i, field := range schema.Fields() {
		kind, err := arrowKind(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		builders[i] = newColumnBuilder(field.Name, kind)
	}

	events := 0
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("could not read record batch %d: %w", i, err)
		}
		for j, col := range rec.Columns() {
			if err := builders[j].appendArrow(col); err != nil {
				return nil, fmt.Errorf("record batch %d: %w", i, err)
			}
		}
		events += int(rec.NumRows())
	}

	ds := New(events)
	for _, b := range builders {
		if err := ds.Set(b.col); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func arrowKind(dt arrow.DataType) (Kind, error) {
	if lt, ok := dt.(*arrow.ListType); ok {
		if !numericID(lt.Elem().ID()) {
			return 0, fmt.Errorf("unsupported list element type %s", lt.Elem())
		}
		return Jagged, nil
	}
	if !numericID(dt.ID()) {
		return 0, fmt.Errorf("unsupported type %s", dt)
	}
	return Flat, nil
}

func numericID(id arrow.Type) bool {
	switch id {
	case arrow.FLOAT64, arrow.FLOAT32,
		arrow.INT64, arrow.INT32, arrow.INT16, arrow.INT8,
		arrow.UINT64, arrow.UINT32, arrow.UINT16, arrow.UINT8,
		arrow.BOOL:
		return true
	}
	return false
}

func (b *columnBuilder) appendArrow(arr arrow.Array) error {
	if b.col.Kind == Flat {
		for i := 0; i < arr.Len(); i++ {
			x, err := arrowValue(arr, i)
			if err != nil {
				return fmt.Errorf("field %q: %w", b.col.Name, err)
			}
			b.col.Values = append(b.col.Values, x)
		}
		return nil
	}

	list, ok := arr.(*array.List)
	if !ok {
		return fmt.Errorf("field %q: expected list array, got %T", b.col.Name, arr)
	}
	values := list.ListValues()
	for i := 0; i < list.Len(); i++ {
		if list.IsValid(i) {
			start, end := list.ValueOffsets(i)
			for j := int(start); j < int(end); j++ {
				x, err := arrowValue(values, j)
				if err != nil {
					return fmt.Errorf("field %q: %w", b.col.Name, err)
				}
				b.col.Values = append(b.col.Values, x)
			}
		}
		b.col.Offsets = append(b.col.Offsets, len(b.col.Values))
	}
	return nil
}

func arrowValue(arr arrow.Array, i int) (float64, error) {
	if arr.IsNull(i) {
		return math.NaN(), nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Int64:
		return float64(a.Value(i)), nil
	case *array.Int32:
		return float64(a.Value(i)), nil
	case *array.Int16:
		return float64(a.Value(i)), nil
	case *array.Int8:
		return float64(a.Value(i)), nil
	case *array.Uint64:
		return float64(a.Value(i)), nil
	case *array.Uint32:
		return float64(a.Value(i)), nil
	case *array.Uint16:
		return float64(a.Value(i)), nil
	case *array.Uint8:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		if a.Value(i) {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported array type %s", arr.DataType())
}

// WriteArrow writes ds as an Arrow IPC file with a single record batch.
// Flat columns are stored as float64 and jagged columns as list<float64>.
// The file footer needs a seekable writer.
func WriteArrow(w io.WriteSeeker, ds *Dataset) error {
	mem := memory.NewGoAllocator()

	fields := make([]arrow.Field, len(ds.Columns()))
	for i, col := range ds.Columns() {
		dt := arrow.DataType(arrow.PrimitiveTypes.Float64)
		if col.Kind == Jagged {
			dt = arrow.ListOf(arrow.PrimitiveTypes.Float64)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, col := range ds.Columns() {
		switch col.Kind {
		case Flat:
			b.Field(i).(*array.Float64Builder).AppendValues(col.Values, nil)
		case Jagged:
			lb := b.Field(i).(*array.ListBuilder)
			vb := lb.ValueBuilder().(*array.Float64Builder)
			for ev := 0; ev < col.Len(); ev++ {
				lb.Append(true)
				vb.AppendValues(col.Row(ev), nil)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("could not create Arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("could not write record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("could not close Arrow writer: %w", err)
	}
	return nil
}

// WriteArrowFile writes ds to path, see WriteArrow.
func WriteArrowFile(path string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteArrow(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
