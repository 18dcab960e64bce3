package query

import (
	"math/big"
	"time"
)

// Normalize converts a driver value into the shape renderers consume.
// Every integer kind becomes float64 (precision above 2^53 is lost),
// float32 widens to float64 and byte strings become strings. Other values
// pass through unchanged.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case big.Int:
		f, _ := new(big.Float).SetInt(&x).Float64()
		return f
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x
	default:
		return v
	}
}

// Record is one result row keyed by column name.
type Record map[string]interface{}

// Float returns a numeric column as float64. ok is false for NULL or
// non-numeric values.
func (r Record) Float(col string) (float64, bool) {
	switch x := Normalize(r[col]).(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Int returns a numeric column truncated to int.
func (r Record) Int(col string) (int, bool) {
	f, ok := r.Float(col)
	return int(f), ok
}

// String returns a text column. ok is false for NULL or non-text values.
func (r Record) String(col string) (string, bool) {
	switch x := Normalize(r[col]).(type) {
	case string:
		return x, true
	default:
		return "", false
	}
}
