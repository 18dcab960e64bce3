package tripgen

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
)

// Month describes one synthetic monthly file.
type Month struct {
	Category string // green or yellow
	Year     int
	Month    int
	Rows     int
	Seed     int64
	// Omit drops the named columns, to mimic schema drift between months.
	Omit []string
}

// PickupColumn returns the pickup timestamp column name of a category.
func PickupColumn(category string) string {
	switch category {
	case "green":
		return "lpep_pickup_datetime"
	case "yellow":
		return "tpep_pickup_datetime"
	default:
		return "pickup_datetime"
	}
}

func dropoffColumn(category string) string {
	switch category {
	case "green":
		return "lpep_dropoff_datetime"
	case "yellow":
		return "tpep_dropoff_datetime"
	default:
		return "dropoff_datetime"
	}
}

// Trips builds the columns of a synthetic month. Output is deterministic
// for a given Month.
func Trips(m Month) ([]Column, error) {
	if m.Month < 1 || m.Month > 12 {
		return nil, fmt.Errorf("month %d out of range", m.Month)
	}
	if m.Rows < 0 {
		return nil, fmt.Errorf("negative row count %d", m.Rows)
	}

	rng := rand.New(rand.NewSource(m.Seed))
	start := time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
	days := start.AddDate(0, 1, 0).Sub(start).Hours() / 24

	vendor := make([]interface{}, m.Rows)
	pickup := make([]interface{}, m.Rows)
	dropoff := make([]interface{}, m.Rows)
	puLoc := make([]interface{}, m.Rows)
	doLoc := make([]interface{}, m.Rows)
	passengers := make([]interface{}, m.Rows)
	distance := make([]interface{}, m.Rows)
	fare := make([]interface{}, m.Rows)
	tip := make([]interface{}, m.Rows)
	total := make([]interface{}, m.Rows)
	payment := make([]interface{}, m.Rows)

	for i := 0; i < m.Rows; i++ {
		offset := time.Duration(rng.Float64() * days * float64(24*time.Hour)).Truncate(time.Second)
		pu := start.Add(offset)
		dist := round2(0.3 + rng.ExpFloat64()*2.5)
		minutes := time.Duration(3+dist*4+rng.Float64()*10) * time.Minute
		f := round2(3 + dist*2.5)
		pt := int64(1 + rng.Intn(4))
		t := 0.0
		if pt == 1 {
			t = round2(f * (0.1 + rng.Float64()*0.15))
		}

		vendor[i] = int64(1 + rng.Intn(2))
		pickup[i] = pu
		dropoff[i] = pu.Add(minutes)
		puLoc[i] = int32(1 + rng.Intn(265))
		doLoc[i] = int32(1 + rng.Intn(265))
		if rng.Intn(20) == 0 {
			passengers[i] = nil
		} else {
			passengers[i] = float64(1 + rng.Intn(4))
		}
		distance[i] = dist
		fare[i] = f
		tip[i] = t
		total[i] = round2(f + t + 1)
		payment[i] = pt
	}

	cols := []Column{
		{Name: "VendorID", Type: arrow.PrimitiveTypes.Int64, Values: vendor},
		{Name: PickupColumn(m.Category), Type: TimestampType, Values: pickup},
		{Name: dropoffColumn(m.Category), Type: TimestampType, Values: dropoff},
		{Name: "PULocationID", Type: arrow.PrimitiveTypes.Int32, Values: puLoc},
		{Name: "DOLocationID", Type: arrow.PrimitiveTypes.Int32, Values: doLoc},
		{Name: "passenger_count", Type: arrow.PrimitiveTypes.Float64, Values: passengers},
		{Name: "trip_distance", Type: arrow.PrimitiveTypes.Float64, Values: distance},
		{Name: "fare_amount", Type: arrow.PrimitiveTypes.Float64, Values: fare},
		{Name: "tip_amount", Type: arrow.PrimitiveTypes.Float64, Values: tip},
		{Name: "total_amount", Type: arrow.PrimitiveTypes.Float64, Values: total},
		{Name: "payment_type", Type: arrow.PrimitiveTypes.Int64, Values: payment},
	}

	if len(m.Omit) == 0 {
		return cols, nil
	}
	omit := make(map[string]struct{}, len(m.Omit))
	for _, name := range m.Omit {
		omit[name] = struct{}{}
	}
	kept := cols[:0]
	for _, c := range cols {
		if _, drop := omit[c.Name]; !drop {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
