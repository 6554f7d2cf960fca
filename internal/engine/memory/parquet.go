package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

// rowGroupSize bounds the rows per Parquet row group.
const rowGroupSize = 128 * 1024

func arrowType(t schema.Type) (arrow.DataType, error) {
	switch t {
	case schema.String:
		return arrow.BinaryTypes.String, nil
	case schema.Int:
		return arrow.PrimitiveTypes.Int32, nil
	case schema.BigInt:
		return arrow.PrimitiveTypes.Int64, nil
	case schema.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case schema.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case schema.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case schema.Date:
		return arrow.FixedWidthTypes.Date32, nil
	case schema.Timestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	}
	return nil, fmt.Errorf("%w %q", schema.ErrUnknownType, t)
}

func catalogType(dt arrow.DataType) (schema.Type, error) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return schema.String, nil
	case arrow.INT8, arrow.INT16, arrow.INT32:
		return schema.Int, nil
	case arrow.INT64:
		return schema.BigInt, nil
	case arrow.FLOAT32:
		return schema.Float, nil
	case arrow.FLOAT64:
		return schema.Double, nil
	case arrow.BOOL:
		return schema.Boolean, nil
	case arrow.DATE32:
		return schema.Date, nil
	case arrow.TIMESTAMP:
		return schema.Timestamp, nil
	}
	return "", fmt.Errorf("parquet: unsupported arrow type %s", dt)
}

func codec(c engine.Compression) (compress.Compression, error) {
	switch c {
	case engine.Snappy, "":
		return compress.Codecs.Snappy, nil
	case engine.Zstd:
		return compress.Codecs.Zstd, nil
	case engine.Gzip:
		return compress.Codecs.Gzip, nil
	case engine.Uncompressed:
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("parquet: unknown compression %q", c)
}

// record builds one arrow record holding the whole table.
func (t *Table) record(mem memory.Allocator) (arrow.Record, error) {
	fields := make([]arrow.Field, len(t.cols))
	for i, c := range t.cols {
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: true}
	}
	sc := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()
	for j, c := range t.cols {
		if err := appendColumn(b.Field(j), c.values); err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
	}
	return b.NewRecord(), nil
}

func appendColumn(fb array.Builder, vals []any) error {
	fb.Reserve(len(vals))
	for _, v := range vals {
		if v == nil {
			fb.AppendNull()
			continue
		}
		ok := true
		switch b := fb.(type) {
		case *array.StringBuilder:
			var s string
			s, ok = v.(string)
			b.Append(s)
		case *array.Int32Builder:
			var i int32
			i, ok = v.(int32)
			b.Append(i)
		case *array.Int64Builder:
			var i int64
			i, ok = v.(int64)
			b.Append(i)
		case *array.Float32Builder:
			var f float32
			f, ok = v.(float32)
			b.Append(f)
		case *array.Float64Builder:
			var f float64
			f, ok = v.(float64)
			b.Append(f)
		case *array.BooleanBuilder:
			var x bool
			x, ok = v.(bool)
			b.Append(x)
		case *array.Date32Builder:
			var ts time.Time
			ts, ok = v.(time.Time)
			b.Append(arrow.Date32FromTime(ts))
		case *array.TimestampBuilder:
			var ts time.Time
			ts, ok = v.(time.Time)
			b.Append(arrow.Timestamp(ts.UnixMicro()))
		default:
			return fmt.Errorf("unsupported builder %T", fb)
		}
		if !ok {
			return fmt.Errorf("unexpected value %T", v)
		}
	}
	return nil
}

// WriteParquet implements engine.Table.
func (t *Table) WriteParquet(ctx context.Context, path string, opt engine.WriteOptions) error {
	if err := t.s.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cc, err := codec(opt.Compression)
	if err != nil {
		return err
	}

	mem := memory.NewGoAllocator()
	rec, err := t.record(mem)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer rec.Release()
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(cc),
		parquet.WithCreatedBy("dataprep"),
	)
	arrProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	// The parquet writer may close f itself after the footer.
	if err := pqarrow.WriteTable(tbl, f, rowGroupSize, props, arrProps); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadParquet implements engine.Session. Dataset files are concatenated in
// name order.
func (s *Session) ReadParquet(ctx context.Context, path string) (engine.Table, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	files, err := engine.DatasetFiles(path)
	if err != nil {
		return nil, err
	}

	var out *Table
	for _, p := range files {
		t, err := s.readParquetFile(ctx, p)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = t
			continue
		}
		if err := out.appendTable(t); err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
	}
	return out, nil
}

func (s *Session) readParquetFile(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	pf, err := pqfile.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	mem := memory.NewGoAllocator()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer tbl.Release()

	n := int(tbl.NumRows())
	out := &Table{s: s, n: n, cols: make([]column, tbl.NumCols())}
	for j := 0; j < int(tbl.NumCols()); j++ {
		field := tbl.Schema().Field(j)
		typ, err := catalogType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("read %s: column %q: %w", path, field.Name, err)
		}
		vals := make([]any, 0, n)
		for _, chunk := range tbl.Column(j).Data().Chunks() {
			vals, err = appendValues(vals, chunk)
			if err != nil {
				return nil, fmt.Errorf("read %s: column %q: %w", path, field.Name, err)
			}
		}
		out.cols[j] = column{Column: engine.Column{Name: field.Name, Type: typ, Native: field.Type.String()}, values: vals}
	}
	return out, nil
}

func appendValues(dst []any, a arrow.Array) ([]any, error) {
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			dst = append(dst, nil)
			continue
		}
		var v any
		switch x := a.(type) {
		case *array.String:
			v = x.Value(i)
		case *array.LargeString:
			v = x.Value(i)
		case *array.Int8:
			v = int32(x.Value(i))
		case *array.Int16:
			v = int32(x.Value(i))
		case *array.Int32:
			v = x.Value(i)
		case *array.Int64:
			v = x.Value(i)
		case *array.Float32:
			v = x.Value(i)
		case *array.Float64:
			v = x.Value(i)
		case *array.Boolean:
			v = x.Value(i)
		case *array.Date32:
			v = x.Value(i).ToTime().UTC()
		case *array.Timestamp:
			unit := x.DataType().(*arrow.TimestampType).Unit
			v = x.Value(i).ToTime(unit).UTC().Truncate(schema.TimestampPrecision)
		default:
			return nil, fmt.Errorf("unsupported array %T", a)
		}
		dst = append(dst, v)
	}
	return dst, nil
}

// appendTable concatenates o onto t in place; both must share a schema.
func (t *Table) appendTable(o *Table) error {
	if len(o.cols) != len(t.cols) {
		return fmt.Errorf("schema mismatch: %d columns, want %d", len(o.cols), len(t.cols))
	}
	for j := range t.cols {
		if o.cols[j].Name != t.cols[j].Name || o.cols[j].Type != t.cols[j].Type {
			return fmt.Errorf("schema mismatch at column %d: %s %s, want %s %s",
				j, o.cols[j].Name, o.cols[j].Type, t.cols[j].Name, t.cols[j].Type)
		}
		t.cols[j].values = append(t.cols[j].values, o.cols[j].values...)
	}
	t.n += o.n
	return nil
}
