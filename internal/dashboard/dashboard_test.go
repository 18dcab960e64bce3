package dashboard

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxidash/taxidash/internal/dataset"
	"github.com/taxidash/taxidash/internal/engine"
	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/query"
	"github.com/taxidash/taxidash/internal/tripgen"
)

const rowsPerMonth = 40

type fixture struct {
	h    *engine.Handle
	dash *Dashboard
	// trips holds the generated columns of every loaded month, by column name.
	trips map[int]map[string][]interface{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := engine.New(engine.DefaultConfig())
	require.NoError(t, h.Connect(context.Background()))
	t.Cleanup(func() { h.Close() })
	return &fixture{
		h:     h,
		dash:  New(query.NewFacade(h, query.FacadeConfig{})),
		trips: make(map[int]map[string][]interface{}),
	}
}

// load materializes the given months of d the way the loader would.
func (f *fixture) load(t *testing.T, d dataset.Descriptor, months ...int) {
	t.Helper()
	cols := make(map[string][]interface{})
	var keys []string
	for _, m := range months {
		month, err := tripgen.Trips(tripgen.Month{
			Category: d.Category,
			Year:     d.Year,
			Month:    m,
			Rows:     rowsPerMonth,
			Seed:     int64(d.Year*100 + m),
		})
		require.NoError(t, err)
		for _, c := range month {
			cols[c.Name] = append(cols[c.Name], c.Values...)
		}
		data, err := tripgen.Encode(month)
		require.NoError(t, err)
		key := d.MonthKey(m)
		require.NoError(t, f.h.RegisterBuffer(key, data))
		keys = append(keys, key)
	}
	_, err := f.h.CreateTableFromBuffers(context.Background(), d.TableName(), keys, engine.UnionByName)
	require.NoError(t, err)
	f.trips[d.Year] = cols
}

func TestSeasonOf(t *testing.T) {
	want := map[int]Season{
		1: SeasonWinter, 2: SeasonWinter, 3: SeasonSpring, 4: SeasonSpring,
		5: SeasonSpring, 6: SeasonSummer, 7: SeasonSummer, 8: SeasonSummer,
		9: SeasonAutumn, 10: SeasonAutumn, 11: SeasonAutumn, 12: SeasonWinter,
	}
	for m, s := range want {
		assert.Equal(t, s, SeasonOf(m), "month %d", m)
	}
	assert.Equal(t, Season(""), SeasonOf(0))
	assert.Equal(t, Season(""), SeasonOf(13))
}

func TestLinearFit(t *testing.T) {
	points := []ScatterPoint{{1, 5}, {2, 7}, {3, 9}, {4, 11}}
	slope, intercept, ok := LinearFit(points)
	require.True(t, ok)
	assert.InDelta(t, 2.0, slope, 1e-9)
	assert.InDelta(t, 3.0, intercept, 1e-9)

	_, _, ok = LinearFit(points[:1])
	assert.False(t, ok)

	_, _, ok = LinearFit([]ScatterPoint{{2, 1}, {2, 5}})
	assert.False(t, ok, "vertical points have no fit")
}

func TestTipsByHour(t *testing.T) {
	f := newFixture(t)
	f.load(t, dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}, 1, 2, 3)

	type agg struct {
		sum   float64
		count int64
	}
	want := make(map[int]*agg)
	cols := f.trips[2023]
	for i, v := range cols["tip_amount"] {
		tip := v.(float64)
		if tip <= 0 {
			continue
		}
		hour := cols["lpep_pickup_datetime"][i].(time.Time).UTC().Hour()
		if want[hour] == nil {
			want[hour] = &agg{}
		}
		want[hour].sum += tip
		want[hour].count++
	}

	got, err := f.dash.TipsByHour(context.Background(), 2023)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for i, h := range got {
		if i > 0 {
			assert.Greater(t, h.Hour, got[i-1].Hour, "hours ascend")
		}
		w := want[h.Hour]
		require.NotNil(t, w, "unexpected hour %d", h.Hour)
		assert.Equal(t, w.count, h.Trips, "hour %d", h.Hour)
		assert.InDelta(t, math.Round(w.sum/float64(w.count)*100)/100, h.AvgTip, 0.011, "hour %d", h.Hour)
	}
}

func TestTipScatter(t *testing.T) {
	f := newFixture(t)
	f.load(t, dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}, 1, 2, 3)

	points, err := f.dash.TipScatter(context.Background(), 2023, 0)
	require.NoError(t, err)
	assert.Len(t, points, DefaultScatterLimit)

	points, err = f.dash.TipScatter(context.Background(), 2023, 10)
	require.NoError(t, err)
	require.Len(t, points, 10)
	for _, p := range points {
		assert.Greater(t, p.Distance, 0.0)
		assert.Greater(t, p.Amount, p.Distance*2.5, "fare grows with distance")
	}

	slope, _, ok := LinearFit(points)
	require.True(t, ok)
	assert.Greater(t, slope, 0.0)
}

func TestPaymentByZone(t *testing.T) {
	f := newFixture(t)
	f.load(t, dataset.Descriptor{Year: 2022, Category: dataset.CategoryYellow}, 5, 6)

	type counts struct{ credit, cash int64 }
	want := make(map[int64]*counts)
	cols := f.trips[2022]
	for i, v := range cols["payment_type"] {
		pt := v.(int64)
		if pt != 1 && pt != 2 {
			continue
		}
		loc := int64(cols["PULocationID"][i].(int32))
		if want[loc] == nil {
			want[loc] = &counts{}
		}
		if pt == 1 {
			want[loc].credit++
		} else {
			want[loc].cash++
		}
	}

	got, err := f.dash.PaymentByZone(context.Background(), 2022, 0)
	require.NoError(t, err)
	require.Len(t, got, min(DefaultZoneLimit, len(want)))

	for i, z := range got {
		w := want[z.LocationID]
		require.NotNil(t, w, "zone %d", z.LocationID)
		assert.Equal(t, w.credit, z.Credit)
		assert.Equal(t, w.cash, z.Cash)
		assert.Equal(t, z.Credit+z.Cash, z.Total)
		if i > 0 {
			assert.LessOrEqual(t, z.Total, got[i-1].Total)
		}
	}
}

func TestTopPickupLocations(t *testing.T) {
	f := newFixture(t)
	f.load(t, dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}, 7, 8, 9)

	freq := make(map[int64]int64)
	for _, v := range f.trips[2023]["PULocationID"] {
		freq[int64(v.(int32))]++
	}
	var counts []int64
	for _, n := range freq {
		counts = append(counts, n)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] > counts[j] })

	got, err := f.dash.TopPickupLocations(context.Background(), 2023, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, p := range got {
		assert.Equal(t, counts[i], p.Pickups)
		assert.Equal(t, freq[p.LocationID], p.Pickups)
	}
}

func TestMonthlyTrips(t *testing.T) {
	f := newFixture(t)
	f.load(t, dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}, 1, 2, 6)
	f.load(t, dataset.Descriptor{Year: 2022, Category: dataset.CategoryYellow}, 12)

	series, err := f.dash.MonthlyTrips(context.Background(), 2023, 2021, 2022, 2023)
	require.NoError(t, err)
	require.Len(t, series, 2, "2021 is not loaded and duplicates collapse")

	assert.Equal(t, 2022, series[0].Year)
	assert.Equal(t, 2023, series[1].Year)

	for m := 1; m <= 12; m++ {
		got22 := series[0].Months[m-1]
		got23 := series[1].Months[m-1]
		assert.Equal(t, m, got22.Month)
		assert.Equal(t, SeasonOf(m), got23.Season)

		var want22, want23 int64
		if m == 12 {
			want22 = rowsPerMonth
		}
		if m == 1 || m == 2 || m == 6 {
			want23 = rowsPerMonth
		}
		assert.Equal(t, want22, got22.Trips, "2022-%02d", m)
		assert.Equal(t, want23, got23.Trips, "2023-%02d", m)
	}
}

func TestMonthlyTrips_NothingLoaded(t *testing.T) {
	f := newFixture(t)

	_, err := f.dash.MonthlyTrips(context.Background(), 2022, 2023)
	assert.True(t, errors.Is(err, taxierrors.ErrNoDataAvailable))

	_, err = f.dash.MonthlyTrips(context.Background())
	assert.Equal(t, taxierrors.ErrCategoryValidation, taxierrors.GetCategory(err))
}

func TestCharts_YearNotLoaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dash.TipsByHour(ctx, 2020)
	assert.True(t, errors.Is(err, taxierrors.ErrNoDataAvailable))
	_, err = f.dash.TipScatter(ctx, 2020, 0)
	assert.True(t, errors.Is(err, taxierrors.ErrNoDataAvailable))
	_, err = f.dash.PaymentByZone(ctx, 2020, 0)
	assert.True(t, errors.Is(err, taxierrors.ErrNoDataAvailable))
	_, err = f.dash.TopPickupLocations(ctx, 2020, 0)
	assert.True(t, errors.Is(err, taxierrors.ErrNoDataAvailable))
}

func TestCharts_MissingPickupColumn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.h.Exec(ctx, `CREATE TABLE taxi_2019 (tip_amount REAL)`))

	_, err := f.dash.TipsByHour(ctx, 2019)
	require.Error(t, err)
	assert.Equal(t, taxierrors.CodeSchemaMismatch, taxierrors.GetCode(err))
}

func TestCharts_NotInitialized(t *testing.T) {
	h := engine.New(engine.DefaultConfig())
	dash := New(query.NewFacade(h, query.FacadeConfig{}))

	_, err := dash.MonthlyTrips(context.Background(), 2023)
	assert.True(t, errors.Is(err, taxierrors.ErrNotInitialized))
}
