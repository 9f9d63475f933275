package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
)

var ErrUnsupportedType = errors.New("unsupported arrow type")

// LoadArrow reads an Arrow IPC file (Feather v2) into a ColumnStore.
// Float, integer, boolean and string fields are supported; nulls become NaN
// in numeric columns and "" in categorical ones.
func LoadArrow(path string) (*ColumnStore, error) {
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rdr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("read arrow %s: %w", path, err)
	}
	defer rdr.Close()

	schema := rdr.Schema()
	names := make([]string, schema.NumFields())
	nums := make([][]float64, len(names))
	strs := make([][]string, len(names))
	for i, field := range schema.Fields() {
		names[i] = field.Name
		switch field.Type.ID() {
		case arrow.STRING, arrow.LARGE_STRING:
			strs[i] = make([]string, 0)
		case arrow.FLOAT64, arrow.FLOAT32, arrow.INT64, arrow.INT32, arrow.INT16, arrow.INT8,
			arrow.UINT64, arrow.UINT32, arrow.UINT16, arrow.UINT8, arrow.BOOL:
			nums[i] = make([]float64, 0)
		default:
			return nil, fmt.Errorf("%w: column %q is %s", ErrUnsupportedType, field.Name, field.Type)
		}
	}

	for r := 0; r < rdr.NumRecords(); r++ {
		rec, err := rdr.Record(r)
		if err != nil {
			return nil, fmt.Errorf("read record %d of %s: %w", r, path, err)
		}
		for i := range names {
			col := rec.Column(i)
			if strs[i] != nil {
				strs[i] = appendStrings(strs[i], col)
			} else {
				nums[i] = appendFloats(nums[i], col)
			}
		}
	}

	cols := make([]Column, len(names))
	for i := range names {
		if strs[i] != nil {
			cols[i] = CategoricalColumn(strs[i])
		} else {
			cols[i] = NumericColumn(nums[i])
		}
	}

	cs, err := NewColumnStore(names, cols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Info("table loaded",
		"path", path,
		"format", "arrow",
		"rows", humanize.Comma(int64(cs.Rows())),
		"columns", len(cs.Names),
		"elapsed", time.Since(start))
	return cs, nil
}

func appendStrings(dst []string, col arrow.Array) []string {
	switch a := col.(type) {
	case *array.String:
		for j := 0; j < a.Len(); j++ {
			dst = append(dst, a.Value(j))
		}
	case *array.LargeString:
		for j := 0; j < a.Len(); j++ {
			dst = append(dst, a.Value(j))
		}
	}
	return dst
}

func appendFloats(dst []float64, col arrow.Array) []float64 {
	for j := 0; j < col.Len(); j++ {
		if col.IsNull(j) {
			dst = append(dst, math.NaN())
			continue
		}
		var v float64
		switch a := col.(type) {
		case *array.Float64:
			v = a.Value(j)
		case *array.Float32:
			v = float64(a.Value(j))
		case *array.Int64:
			v = float64(a.Value(j))
		case *array.Int32:
			v = float64(a.Value(j))
		case *array.Int16:
			v = float64(a.Value(j))
		case *array.Int8:
			v = float64(a.Value(j))
		case *array.Uint64:
			v = float64(a.Value(j))
		case *array.Uint32:
			v = float64(a.Value(j))
		case *array.Uint16:
			v = float64(a.Value(j))
		case *array.Uint8:
			v = float64(a.Value(j))
		case *array.Boolean:
			if a.Value(j) {
				v = 1
			}
		}
		dst = append(dst, v)
	}
	return dst
}

// WriteArrow writes cs as a single-record Arrow IPC file. Numeric columns
// become float64 fields (NaN as null), categorical columns utf8 fields.
func WriteArrow(path string, cs *ColumnStore) error {
	mem := memory.NewGoAllocator()

	fields := make([]arrow.Field, len(cs.Names))
	for i, name := range cs.Names {
		if cs.Columns[name].IsCategorical() {
			fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
		} else {
			fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
		}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, name := range cs.Names {
		col := cs.Columns[name]
		if col.IsCategorical() {
			b.Field(i).(*array.StringBuilder).AppendValues(col.Strings(), nil)
			continue
		}
		fb := b.Field(i).(*array.Float64Builder)
		for _, v := range col.Nums {
			if math.IsNaN(v) {
				fb.AppendNull()
			} else {
				fb.Append(v)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return fmt.Errorf("arrow writer %s: %w", path, err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer %s: %w", path, err)
	}
	return f.Close()
}
