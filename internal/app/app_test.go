package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxidash/taxidash/internal/config"
	"github.com/taxidash/taxidash/internal/dataset"
	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/storage"
	"github.com/taxidash/taxidash/internal/tripgen"
)

func writeMonths(t *testing.T, dir string, d dataset.Descriptor, months ...int) {
	t.Helper()
	for _, m := range months {
		cols, err := tripgen.Trips(tripgen.Month{Category: d.Category, Year: d.Year, Month: m, Rows: 10, Seed: int64(m)})
		require.NoError(t, err)
		require.NoError(t, tripgen.WriteFile(filepath.Join(dir, filepath.FromSlash(d.SourcePath(m))), cols))
	}
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.Datasets.MonthCount = 3
	cfg.Datasets.Primary = dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}
	cfg.Datasets.Extras = []dataset.Descriptor{{Year: 2022, Category: dataset.CategoryGreen}}
	return cfg
}

func waitLoaded(t *testing.T, a *App) {
	t.Helper()
	select {
	case <-a.Loaded():
	case <-time.After(30 * time.Second):
		t.Fatal("bootstrap did not finish")
	}
}

func TestApp_StartLoadsDatasetsInBackground(t *testing.T) {
	dir := t.TempDir()
	writeMonths(t, dir, dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}, 1, 2, 3)
	// 2022 is loaded leniently with a gap.
	writeMonths(t, dir, dataset.Descriptor{Year: 2022, Category: dataset.CategoryGreen}, 1, 3)

	a, err := New(testConfig(dir), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop(context.Background()) })

	waitLoaded(t, a)

	reports := a.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "taxi_2023", reports[0].Table)
	assert.Equal(t, "taxi_2022", reports[1].Table)
	require.Len(t, reports[1].Skipped, 1)
	assert.Equal(t, 2, reports[1].Skipped[0].Month)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/charts/monthly-trips?years=2022,2023", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var series []struct {
		Year   int `json:"year"`
		Months []struct {
			Trips int64 `json:"trips"`
		} `json:"months"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series, 2)
	assert.Equal(t, []int64{10, 0, 10}, []int64{series[0].Months[0].Trips, series[0].Months[1].Trips, series[0].Months[2].Trips})
	assert.Equal(t, int64(10), series[1].Months[1].Trips)

	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.handle.Ready(), "stop closes the engine")
}

func TestApp_PrimaryIsStrict(t *testing.T) {
	dir := t.TempDir()
	writeMonths(t, dir, dataset.Descriptor{Year: 2023, Category: dataset.CategoryGreen}, 1, 3)
	writeMonths(t, dir, dataset.Descriptor{Year: 2022, Category: dataset.CategoryGreen}, 1, 2, 3)

	a, err := New(testConfig(dir), nil)
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	t.Cleanup(func() { a.Close() })

	err = a.Bootstrap(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, taxierrors.ErrSourceUnavailable))

	ok, err := a.Facade().TableExists(context.Background(), "taxi_2023")
	require.NoError(t, err)
	assert.False(t, ok, "strict load leaves nothing behind")

	ok, err = a.Facade().TableExists(context.Background(), "taxi_2022")
	require.NoError(t, err)
	assert.True(t, ok, "extras still load after the primary fails")

	select {
	case <-a.Loaded():
	default:
		t.Fatal("Loaded should be closed after Bootstrap")
	}

	// A second run finds the extras already loaded and must not panic.
	err = a.Bootstrap(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, taxierrors.ErrDuplicateRegistration), "got %v", err)
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Source.Type = "ftp"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(context.Background(), config.SourceConfig{Type: config.SourceLocal, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &storage.LocalStorage{}, src)

	src, err = NewSource(context.Background(), config.SourceConfig{Type: config.SourceHTTP, BaseURL: "http://localhost"})
	require.NoError(t, err)
	assert.IsType(t, &storage.HTTPStorage{}, src)

	_, err = NewSource(context.Background(), config.SourceConfig{Type: "ftp"})
	assert.Error(t, err)
}
