// Package dashboard builds the data behind each dashboard chart. Every
// builder issues SQL through the query façade and shapes the normalized
// rows into typed series; drawing is left to the client.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/taxidash/taxidash/internal/dataset"
	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/query"
)

// Default row limits of the charts.
const (
	DefaultScatterLimit = 100
	DefaultZoneLimit    = 15
)

// pickupColumns are the pickup timestamp columns of the known categories,
// in lookup order.
var pickupColumns = []string{
	"lpep_pickup_datetime",
	"tpep_pickup_datetime",
	"pickup_datetime",
}

// Querier is the read surface the builders need. *query.Facade satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string) ([]query.Record, error)
	TableExists(ctx context.Context, name string) (bool, error)
}

// HourlyTips is one bar of the tips-by-hour chart.
type HourlyTips struct {
	Hour   int     `json:"hour"`
	AvgTip float64 `json:"avg_tip"`
	Trips  int64   `json:"trips"`
}

// ScatterPoint is one trip of the amount-by-distance scatter plot.
type ScatterPoint struct {
	Distance float64 `json:"distance"`
	Amount   float64 `json:"amount"`
}

// ZonePayments counts credit and cash trips picked up in one zone.
type ZonePayments struct {
	LocationID int64 `json:"location_id"`
	Credit     int64 `json:"credit"`
	Cash       int64 `json:"cash"`
	Total      int64 `json:"total"`
}

// PickupCount is the number of pickups in one zone.
type PickupCount struct {
	LocationID int64 `json:"location_id"`
	Pickups    int64 `json:"pickups"`
}

// MonthCount is one point of a monthly series.
type MonthCount struct {
	Month  int    `json:"month"`
	Trips  int64  `json:"trips"`
	Season Season `json:"season"`
}

// YearSeries holds the trips per month of one loaded year.
type YearSeries struct {
	Year   int            `json:"year"`
	Months [12]MonthCount `json:"months"`
}

// Dashboard runs the chart queries.
type Dashboard struct {
	q Querier
}

// New creates a Dashboard reading through q.
func New(q Querier) *Dashboard {
	return &Dashboard{q: q}
}

// TipsByHour returns the average tip and trip count per pickup hour for
// trips that tipped, ordered by hour.
func (d *Dashboard) TipsByHour(ctx context.Context, year int) ([]HourlyTips, error) {
	table, pickup, err := d.resolve(ctx, year)
	if err != nil {
		return nil, err
	}

	rows, err := d.q.Query(ctx, fmt.Sprintf(`
		SELECT CAST(strftime('%%H', %s) AS INTEGER) AS hour,
		       ROUND(AVG(tip_amount), 2) AS avg_tip,
		       COUNT(*) AS trips
		FROM %s
		WHERE tip_amount > 0 AND %s IS NOT NULL
		GROUP BY hour
		ORDER BY hour`, pickup, table, pickup))
	if err != nil {
		return nil, err
	}

	out := make([]HourlyTips, 0, len(rows))
	for _, r := range rows {
		hour, _ := r.Int("hour")
		avg, _ := r.Float("avg_tip")
		trips, _ := r.Float("trips")
		out = append(out, HourlyTips{Hour: hour, AvgTip: avg, Trips: int64(trips)})
	}
	return out, nil
}

// TipScatter returns up to limit (trip distance, total amount) pairs.
// A non-positive limit means DefaultScatterLimit.
func (d *Dashboard) TipScatter(ctx context.Context, year, limit int) ([]ScatterPoint, error) {
	if limit <= 0 {
		limit = DefaultScatterLimit
	}
	table, err := d.table(ctx, year)
	if err != nil {
		return nil, err
	}

	rows, err := d.q.Query(ctx, fmt.Sprintf(`
		SELECT trip_distance, total_amount
		FROM %s
		WHERE trip_distance IS NOT NULL AND total_amount IS NOT NULL
		LIMIT %d`, table, limit))
	if err != nil {
		return nil, err
	}

	out := make([]ScatterPoint, 0, len(rows))
	for _, r := range rows {
		dist, _ := r.Float("trip_distance")
		amount, _ := r.Float("total_amount")
		out = append(out, ScatterPoint{Distance: dist, Amount: amount})
	}
	return out, nil
}

// LinearFit returns the least-squares line amount = slope*distance +
// intercept through points. ok is false when fewer than two points are
// given or every point has the same distance.
func LinearFit(points []ScatterPoint) (slope, intercept float64, ok bool) {
	n := float64(len(points))
	if len(points) < 2 {
		return 0, 0, false
	}
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		sumX += p.Distance
		sumY += p.Amount
		sumXY += p.Distance * p.Amount
		sumX2 += p.Distance * p.Distance
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, true
}

// PaymentByZone counts credit (payment_type 1) and cash (payment_type 2)
// trips per pickup zone, busiest zones first.
func (d *Dashboard) PaymentByZone(ctx context.Context, year, limit int) ([]ZonePayments, error) {
	if limit <= 0 {
		limit = DefaultZoneLimit
	}
	table, err := d.table(ctx, year)
	if err != nil {
		return nil, err
	}

	rows, err := d.q.Query(ctx, fmt.Sprintf(`
		SELECT PULocationID AS location_id,
		       SUM(CASE WHEN payment_type = 1 THEN 1 ELSE 0 END) AS credit,
		       SUM(CASE WHEN payment_type = 2 THEN 1 ELSE 0 END) AS cash,
		       COUNT(*) AS total
		FROM %s
		WHERE payment_type IN (1, 2)
		GROUP BY PULocationID
		ORDER BY total DESC, location_id
		LIMIT %d`, table, limit))
	if err != nil {
		return nil, err
	}

	out := make([]ZonePayments, 0, len(rows))
	for _, r := range rows {
		loc, _ := r.Float("location_id")
		credit, _ := r.Float("credit")
		cash, _ := r.Float("cash")
		total, _ := r.Float("total")
		out = append(out, ZonePayments{
			LocationID: int64(loc),
			Credit:     int64(credit),
			Cash:       int64(cash),
			Total:      int64(total),
		})
	}
	return out, nil
}

// TopPickupLocations returns the limit zones with the most pickups.
func (d *Dashboard) TopPickupLocations(ctx context.Context, year, limit int) ([]PickupCount, error) {
	if limit <= 0 {
		limit = DefaultZoneLimit
	}
	table, err := d.table(ctx, year)
	if err != nil {
		return nil, err
	}

	rows, err := d.q.Query(ctx, fmt.Sprintf(`
		SELECT PULocationID AS location_id, COUNT(*) AS pickups
		FROM %s
		WHERE PULocationID IS NOT NULL
		GROUP BY PULocationID
		ORDER BY pickups DESC, location_id
		LIMIT %d`, table, limit))
	if err != nil {
		return nil, err
	}

	out := make([]PickupCount, 0, len(rows))
	for _, r := range rows {
		loc, _ := r.Float("location_id")
		n, _ := r.Float("pickups")
		out = append(out, PickupCount{LocationID: int64(loc), Pickups: int64(n)})
	}
	return out, nil
}

// MonthlyTrips returns trips per pickup month for every year in years that
// has been loaded, ordered by year. Years that are not loaded are skipped;
// months without trips count zero. If none of the years is loaded the
// error matches ErrNoDataAvailable.
func (d *Dashboard) MonthlyTrips(ctx context.Context, years ...int) ([]YearSeries, error) {
	if len(years) == 0 {
		return nil, taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor, "no years requested")
	}
	years = uniqueSorted(years)

	var parts []string
	var loaded []int
	for _, year := range years {
		table := dataset.TableName(year)
		ok, err := d.q.TableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		pickup, err := d.pickupColumn(ctx, table)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, year)
		parts = append(parts, fmt.Sprintf(
			`SELECT %d AS year, CAST(strftime('%%m', %s) AS INTEGER) AS month, COUNT(*) AS trips
			FROM %s WHERE %s IS NOT NULL GROUP BY month`,
			year, pickup, table, pickup))
	}
	if len(loaded) == 0 {
		return nil, taxierrors.NewDatasetError(taxierrors.CodeNoDataAvailable,
			fmt.Sprintf("none of the years %v is loaded", years))
	}

	rows, err := d.q.Query(ctx, strings.Join(parts, "\nUNION ALL\n")+"\nORDER BY year, month")
	if err != nil {
		return nil, err
	}

	series := make([]YearSeries, len(loaded))
	index := make(map[int]int, len(loaded))
	for i, year := range loaded {
		series[i] = emptySeries(year)
		index[year] = i
	}
	for _, r := range rows {
		year, _ := r.Int("year")
		month, ok := r.Int("month")
		if !ok || month < 1 || month > 12 {
			continue
		}
		trips, _ := r.Float("trips")
		if i, found := index[year]; found {
			series[i].Months[month-1].Trips = int64(trips)
		}
	}
	return series, nil
}

func emptySeries(year int) YearSeries {
	s := YearSeries{Year: year}
	for m := 1; m <= 12; m++ {
		s.Months[m-1] = MonthCount{Month: m, Season: SeasonOf(m)}
	}
	return s
}

func uniqueSorted(years []int) []int {
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if _, dup := seen[y]; dup {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// table returns the table of year or an error matching
// ErrNoDataAvailable when it has not been loaded.
func (d *Dashboard) table(ctx context.Context, year int) (string, error) {
	table := dataset.TableName(year)
	ok, err := d.q.TableExists(ctx, table)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", taxierrors.NewDatasetError(taxierrors.CodeNoDataAvailable,
			fmt.Sprintf("year %d is not loaded", year))
	}
	return table, nil
}

func (d *Dashboard) resolve(ctx context.Context, year int) (table, pickup string, err error) {
	table, err = d.table(ctx, year)
	if err != nil {
		return "", "", err
	}
	pickup, err = d.pickupColumn(ctx, table)
	if err != nil {
		return "", "", err
	}
	return table, pickup, nil
}

// pickupColumn finds which category's pickup timestamp column table has.
func (d *Dashboard) pickupColumn(ctx context.Context, table string) (string, error) {
	quoted := make([]string, len(pickupColumns))
	for i, c := range pickupColumns {
		quoted[i] = "'" + c + "'"
	}
	rows, err := d.q.Query(ctx, fmt.Sprintf(
		`SELECT name FROM pragma_table_info('%s') WHERE name IN (%s)`,
		table, strings.Join(quoted, ", ")))
	if err != nil {
		return "", err
	}

	found := make(map[string]bool, len(rows))
	for _, r := range rows {
		if name, ok := r.String("name"); ok {
			found[name] = true
		}
	}
	for _, c := range pickupColumns {
		if found[c] {
			return c, nil
		}
	}
	return "", taxierrors.NewEngineError(taxierrors.CodeSchemaMismatch,
		fmt.Sprintf("table %s has no pickup timestamp column", table), nil)
}
