package query

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"nil", nil, nil},
		{"int", 7, float64(7)},
		{"int8", int8(-3), float64(-3)},
		{"int16", int16(300), float64(300)},
		{"int32", int32(1 << 30), float64(1 << 30)},
		{"int64", int64(42), float64(42)},
		{"uint8", uint8(255), float64(255)},
		{"uint64", uint64(1 << 40), float64(1 << 40)},
		{"big.Int", big.NewInt(123456789), float64(123456789)},
		{"nil big.Int", (*big.Int)(nil), nil},
		{"float32", float32(1.5), float64(1.5)},
		{"float64", 2.25, 2.25},
		{"bytes", []byte("Manhattan"), "Manhattan"},
		{"string", "Queens", "Queens"},
		{"bool", true, true},
		{"time", ts, ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_LargeIntegersLosePrecisionSilently(t *testing.T) {
	v := int64(1<<53 + 1)
	got := Normalize(v)
	f, ok := got.(float64)
	assert.True(t, ok)
	assert.Equal(t, float64(1<<53), f)

	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	assert.Equal(t, math.Ldexp(1, 100), Normalize(huge))
}

// TestProperty_IntegerNormalization checks that integers within the exactly
// representable range survive normalization unchanged in value.
func TestProperty_IntegerNormalization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	const limit = int64(1) << 53

	properties.Property("int64 becomes an equal float64", prop.ForAll(
		func(v int64) bool {
			f, ok := Normalize(v).(float64)
			return ok && int64(f) == v
		},
		gen.Int64Range(-limit, limit),
	))

	properties.Property("big.Int becomes an equal float64", prop.ForAll(
		func(v int64) bool {
			f, ok := Normalize(big.NewInt(v)).(float64)
			return ok && int64(f) == v
		},
		gen.Int64Range(-limit, limit),
	))

	properties.Property("int32 becomes an equal float64", prop.ForAll(
		func(v int32) bool {
			f, ok := Normalize(v).(float64)
			return ok && int32(f) == v
		},
		gen.Int32(),
	))

	properties.Property("byte strings become equal strings", prop.ForAll(
		func(s string) bool {
			got, ok := Normalize([]byte(s)).(string)
			return ok && got == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestRecordAccessors(t *testing.T) {
	r := Record{
		"hora":          int64(7),
		"media_gorjeta": 2.5,
		"zone_name":     []byte("JFK Airport"),
		"missing":       nil,
		"flag":          true,
	}

	f, ok := r.Float("hora")
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)

	n, ok := r.Int("hora")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	s, ok := r.String("zone_name")
	assert.True(t, ok)
	assert.Equal(t, "JFK Airport", s)

	_, ok = r.Float("missing")
	assert.False(t, ok)
	_, ok = r.String("hora")
	assert.False(t, ok)

	f, ok = r.Float("flag")
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)
}
