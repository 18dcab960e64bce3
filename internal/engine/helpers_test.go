package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/require"

	"github.com/taxidash/taxidash/internal/tripgen"
)

func newConnected(t *testing.T, cfg Config) *Handle {
	t.Helper()
	h := New(cfg)
	require.NoError(t, h.Connect(context.Background()))
	t.Cleanup(func() { h.Close() })
	return h
}

func encode(t *testing.T, cols ...tripgen.Column) []byte {
	t.Helper()
	data, err := tripgen.Encode(cols)
	require.NoError(t, err)
	return data
}

func int64Col(name string, vals ...interface{}) tripgen.Column {
	return tripgen.Column{Name: name, Type: arrow.PrimitiveTypes.Int64, Values: vals}
}

func float64Col(name string, vals ...interface{}) tripgen.Column {
	return tripgen.Column{Name: name, Type: arrow.PrimitiveTypes.Float64, Values: vals}
}

func stringCol(name string, vals ...interface{}) tripgen.Column {
	return tripgen.Column{Name: name, Type: arrow.BinaryTypes.String, Values: vals}
}

func timestampCol(name string, vals ...time.Time) tripgen.Column {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return tripgen.Column{Name: name, Type: tripgen.TimestampType, Values: out}
}

// text renders a driver cell as a string whichever representation the
// driver picked for TEXT.
func text(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func scalar(t *testing.T, h *Handle, query string) interface{} {
	t.Helper()
	res, err := h.Query(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Len(t, res.Rows[0], 1)
	return res.Rows[0][0]
}
