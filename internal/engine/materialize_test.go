package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

func TestCreateTable_UnionByNameFillsMissingColumns(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPure} {
		t.Run(driver, func(t *testing.T) {
			h := newConnected(t, Config{Driver: driver})
			ctx := context.Background()

			jan := encode(t,
				int64Col("trip_id", 1, 2),
				float64Col("fare_amount", 10.5, 7.25),
			)
			feb := encode(t,
				int64Col("trip_id", 3, 4),
				float64Col("tip_amount", 1.5, nil),
			)
			require.NoError(t, h.RegisterBuffer("green_Y2023M01", jan))
			require.NoError(t, h.RegisterBuffer("green_Y2023M02", feb))

			info, err := h.CreateTableFromBuffers(ctx, "taxi_2023", []string{"green_Y2023M01", "green_Y2023M02"}, UnionByName)
			require.NoError(t, err)
			assert.EqualValues(t, 4, info.Rows)
			assert.Equal(t, []Column{
				{Name: "trip_id", Kind: KindInteger},
				{Name: "fare_amount", Kind: KindReal},
				{Name: "tip_amount", Kind: KindReal},
			}, info.Columns)

			assert.EqualValues(t, 4, scalar(t, h, "SELECT COUNT(*) FROM taxi_2023"))
			assert.EqualValues(t, 2, scalar(t, h, "SELECT COUNT(*) FROM taxi_2023 WHERE fare_amount IS NULL"))
			assert.EqualValues(t, 3, scalar(t, h, "SELECT COUNT(*) FROM taxi_2023 WHERE tip_amount IS NULL"))
			assert.EqualValues(t, 17.75, scalar(t, h, "SELECT SUM(fare_amount) FROM taxi_2023"))
		})
	}
}

func TestCreateTable_ColumnOrderIndependent(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()

	a := encode(t, int64Col("a", 1), stringCol("b", "x"))
	b := encode(t, stringCol("b", "y"), int64Col("a", 2))
	require.NoError(t, h.RegisterBuffer("a", a))
	require.NoError(t, h.RegisterBuffer("b", b))

	_, err := h.CreateTableFromBuffers(ctx, "t", []string{"a", "b"}, UnionByName)
	require.NoError(t, err)

	assert.Equal(t, "y", text(scalar(t, h, "SELECT b FROM t WHERE a = 2")))
}

func TestCreateTable_WidensKinds(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, h.RegisterBuffer("i", encode(t, int64Col("passenger_count", 1))))
	require.NoError(t, h.RegisterBuffer("f", encode(t, float64Col("passenger_count", 1.5))))
	info, err := h.CreateTableFromBuffers(ctx, "numeric", []string{"i", "f"}, UnionByName)
	require.NoError(t, err)
	assert.Equal(t, KindReal, info.Columns[0].Kind)
	assert.EqualValues(t, 2.5, scalar(t, h, "SELECT SUM(passenger_count) FROM numeric"))

	require.NoError(t, h.RegisterBuffer("s", encode(t, stringCol("passenger_count", "n/a"))))
	require.NoError(t, h.RegisterBuffer("i2", encode(t, int64Col("passenger_count", 2))))
	info, err = h.CreateTableFromBuffers(ctx, "mixed", []string{"i2", "s"}, UnionByName)
	require.NoError(t, err)
	assert.Equal(t, KindText, info.Columns[0].Kind)
}

func TestCreateTable_UnionByPosition(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, h.RegisterBuffer("a", encode(t, int64Col("x", 1), int64Col("y", 2))))
	require.NoError(t, h.RegisterBuffer("b", encode(t, int64Col("p", 3), int64Col("q", 4))))
	require.NoError(t, h.RegisterBuffer("c", encode(t, int64Col("x", 5))))

	info, err := h.CreateTableFromBuffers(ctx, "pos", []string{"a", "b"}, UnionByPosition)
	require.NoError(t, err)
	assert.Equal(t, "x", info.Columns[0].Name)
	assert.EqualValues(t, 4, scalar(t, h, "SELECT SUM(x) FROM pos"))

	_, err = h.CreateTableFromBuffers(ctx, "bad", []string{"a", "c"}, UnionByPosition)
	require.Error(t, err)
	assert.Equal(t, taxierrors.CodeSchemaMismatch, taxierrors.GetCode(err))

	ok, err := h.TableExists(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateTable_ExistingTableIsDuplicate(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, h.RegisterBuffer("a", encode(t, int64Col("x", 1))))
	_, err := h.CreateTableFromBuffers(ctx, "taxi_2023", []string{"a"}, UnionByName)
	require.NoError(t, err)

	_, err = h.CreateTableFromBuffers(ctx, "taxi_2023", []string{"a"}, UnionByName)
	assert.True(t, errors.Is(err, taxierrors.ErrDuplicateRegistration), "got %v", err)
	assert.EqualValues(t, 1, scalar(t, h, "SELECT COUNT(*) FROM taxi_2023"))
}

func TestCreateTable_FailureLeavesNoTable(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, h.RegisterBuffer("good", encode(t, int64Col("x", 1))))
	require.NoError(t, h.RegisterBuffer("junk", []byte("definitely not parquet")))

	_, err := h.CreateTableFromBuffers(ctx, "taxi_2023", []string{"good", "junk"}, UnionByName)
	require.Error(t, err)
	assert.Equal(t, taxierrors.CodeDecodeFailed, taxierrors.GetCode(err))

	ok, err := h.TableExists(ctx, "taxi_2023")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateTable_Validation(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, h.RegisterBuffer("a", encode(t, int64Col("x", 1))))

	_, err := h.CreateTableFromBuffers(ctx, "taxi 2023; DROP", []string{"a"}, UnionByName)
	assert.Equal(t, taxierrors.CodeInvalidIdentifier, taxierrors.GetCode(err))

	_, err = h.CreateTableFromBuffers(ctx, "t", nil, UnionByName)
	assert.Equal(t, taxierrors.CodeInvalidIdentifier, taxierrors.GetCode(err))

	_, err = h.CreateTableFromBuffers(ctx, "t", []string{"a", "a"}, UnionByName)
	assert.Equal(t, taxierrors.CodeInvalidIdentifier, taxierrors.GetCode(err))

	_, err = h.CreateTableFromBuffers(ctx, "t", []string{"missing"}, UnionByName)
	assert.Equal(t, taxierrors.CodeBufferNotFound, taxierrors.GetCode(err))
}

func TestCreateTable_TimestampsSupportStrftime(t *testing.T) {
	h := newConnected(t, DefaultConfig())
	ctx := context.Background()

	pickups := []time.Time{
		time.Date(2023, 3, 5, 7, 15, 0, 0, time.UTC),
		time.Date(2023, 3, 5, 7, 45, 0, 0, time.UTC),
		time.Date(2023, 11, 1, 23, 5, 30, 0, time.UTC),
	}
	require.NoError(t, h.RegisterBuffer("m", encode(t, timestampCol("lpep_pickup_datetime", pickups...))))
	_, err := h.CreateTableFromBuffers(ctx, "taxi_2023", []string{"m"}, UnionByName)
	require.NoError(t, err)

	assert.Equal(t, "2023-11-01 23:05:30",
		text(scalar(t, h, "SELECT MAX(lpep_pickup_datetime) FROM taxi_2023")))
	assert.EqualValues(t, 2,
		scalar(t, h, "SELECT COUNT(*) FROM taxi_2023 WHERE CAST(strftime('%H', lpep_pickup_datetime) AS INTEGER) = 7"))
}

func TestCreateTable_BatchesAcrossStatements(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			h := newConnected(t, Config{InsertBatchSize: 7, CompressBuffers: compress})
			ctx := context.Background()

			vals := make([]interface{}, 50)
			for i := range vals {
				vals[i] = int64(i)
			}
			require.NoError(t, h.RegisterBuffer("a", encode(t, int64Col("n", vals...))))

			info, err := h.CreateTableFromBuffers(ctx, "t", []string{"a"}, UnionByName)
			require.NoError(t, err)
			assert.EqualValues(t, 50, info.Rows)
			assert.EqualValues(t, 50, scalar(t, h, "SELECT COUNT(*) FROM t"))
			assert.EqualValues(t, 49*50/2, scalar(t, h, "SELECT SUM(n) FROM t"))
		})
	}
}
