// Package tripgen writes parquet trip files. It produces the synthetic
// datasets served in development and the fixtures used by tests.
package tripgen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

// Column is one column of a file. A nil entry in Values is written as
// NULL. Supported types: Int32, Int64, Float64, String, Boolean, Binary and
// Timestamp (microseconds, values given as time.Time).
type Column struct {
	Name   string
	Type   arrow.DataType
	Values []interface{}
}

// TimestampType is the type pickup and dropoff columns are written with.
var TimestampType = &arrow.TimestampType{Unit: arrow.Microsecond}

// Encode writes cols as a single-row-group parquet file. Every column must
// hold the same number of values.
func Encode(cols []Column) ([]byte, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("no columns")
	}
	rows := len(cols[0].Values)

	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		if len(c.Values) != rows {
			return nil, fmt.Errorf("column %s has %d values, want %d", c.Name, len(c.Values), rows)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: c.Type, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	bldr := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bldr.Release()

	for i, c := range cols {
		if err := appendValues(bldr.Field(i), c); err != nil {
			return nil, err
		}
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	if err := pqarrow.WriteTable(tbl, &buf, int64(rows)+1, props, pqarrow.DefaultWriterProps()); err != nil {
		return nil, fmt.Errorf("write parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile encodes cols to path, creating parent directories.
func WriteFile(path string, cols []Column) error {
	data, err := Encode(cols)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func appendValues(b array.Builder, c Column) error {
	for _, v := range c.Values {
		if v == nil {
			b.AppendNull()
			continue
		}
		if err := appendValue(b, v); err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	return nil
}

func appendValue(b array.Builder, v interface{}) error {
	switch bb := b.(type) {
	case *array.Int32Builder:
		switch x := v.(type) {
		case int32:
			bb.Append(x)
		case int:
			bb.Append(int32(x))
		default:
			return fmt.Errorf("unexpected %T for int32", v)
		}
	case *array.Int64Builder:
		switch x := v.(type) {
		case int64:
			bb.Append(x)
		case int:
			bb.Append(int64(x))
		default:
			return fmt.Errorf("unexpected %T for int64", v)
		}
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			bb.Append(x)
		case int:
			bb.Append(float64(x))
		default:
			return fmt.Errorf("unexpected %T for float64", v)
		}
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("unexpected %T for string", v)
		}
		bb.Append(x)
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("unexpected %T for bool", v)
		}
		bb.Append(x)
	case *array.BinaryBuilder:
		x, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("unexpected %T for binary", v)
		}
		bb.Append(x)
	case *array.TimestampBuilder:
		x, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("unexpected %T for timestamp", v)
		}
		bb.Append(arrow.Timestamp(x.UnixMicro()))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
