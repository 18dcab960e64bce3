package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

// TimestampLayout is how timestamp columns are stored. strftime and
// date() accept it directly.
const TimestampLayout = "2006-01-02 15:04:05.999999"

const dateLayout = "2006-01-02"

// decodeParquet reads a whole parquet buffer into an arrow table. The
// caller releases the table.
func decodeParquet(ctx context.Context, key string, data []byte, mem memory.Allocator) (arrow.Table, error) {
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(key, err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: 64 * 1024}, mem)
	if err != nil {
		return nil, decodeError(key, err)
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, decodeError(key, err)
	}
	return tbl, nil
}

func decodeError(key string, err error) error {
	return taxierrors.NewEngineError(taxierrors.CodeDecodeFailed,
		fmt.Sprintf("buffer %s is not a readable parquet file", key), err)
}

// valueAt converts one arrow cell into a value the SQL driver accepts:
// nil, int64, float64, string or []byte.
func valueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		if a.Value(i) {
			return int64(1)
		}
		return int64(0)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		v := a.Value(i)
		if v > math.MaxInt64 {
			return float64(v)
		}
		return int64(v)
	case *array.Float16:
		return float64(a.Value(i).Float32())
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Decimal128:
		return a.Value(i).ToFloat64(a.DataType().(*arrow.Decimal128Type).Scale)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return bytes.Clone(a.Value(i))
	case *array.LargeBinary:
		return bytes.Clone(a.Value(i))
	case *array.FixedSizeBinary:
		return bytes.Clone(a.Value(i))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC().Format(TimestampLayout)
	case *array.Date32:
		return a.Value(i).ToTime().UTC().Format(dateLayout)
	case *array.Date64:
		return a.Value(i).ToTime().UTC().Format(dateLayout)
	case *array.Dictionary:
		return valueAt(a.Dictionary(), a.GetValueIndex(i))
	default:
		return arr.ValueStr(i)
	}
}
