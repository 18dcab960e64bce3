package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taxidash/taxidash/internal/dashboard"
	"github.com/taxidash/taxidash/internal/dataset"
	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/logging"
	"github.com/taxidash/taxidash/internal/observability"
	"github.com/taxidash/taxidash/internal/query"
)

// Engine is the engine state reported by /healthz.
type Engine interface {
	Ready() bool
	Tables(ctx context.Context) ([]string, error)
}

// Loader loads datasets on request.
type Loader interface {
	LoadDataset(ctx context.Context, d dataset.Descriptor, opts dataset.LoadOptions) (*dataset.LoadReport, error)
}

// Querier runs ad-hoc SQL. *query.Facade satisfies it.
type Querier interface {
	QueryResult(ctx context.Context, sql string) (*query.ResultSet, error)
	TableExists(ctx context.Context, name string) (bool, error)
}

// HandlerConfig holds the collaborators of a Handler.
type HandlerConfig struct {
	Engine    Engine
	Loader    Loader
	Query     Querier
	Dashboard *dashboard.Dashboard
	Stats     *observability.QueryStats
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger

	// LoadsPerMinute limits POST /api/datasets per client; 0 disables it.
	LoadsPerMinute int
	LoadBurst      int
}

// Handler serves the taxidash API.
type Handler struct {
	engine   Engine
	loader   Loader
	query    Querier
	dash     *dashboard.Dashboard
	stats    *observability.QueryStats
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	loadsPerMinute int
	loadBurst      int
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		engine:   cfg.Engine,
		loader:   cfg.Loader,
		query:    cfg.Query,
		dash:     cfg.Dashboard,
		stats:    cfg.Stats,
		gatherer: gatherer,
		logger:   logger,

		loadsPerMinute: cfg.LoadsPerMinute,
		loadBurst:      cfg.LoadBurst,
	}
}

// RegisterRoutes mounts every endpoint on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	var loadMW []echo.MiddlewareFunc
	if h.loadsPerMinute > 0 {
		burst := h.loadBurst
		if burst <= 0 {
			burst = 1
		}
		loadMW = append(loadMW, RateLimitMiddleware(h.loadsPerMinute, burst))
	}
	api.POST("/datasets", h.LoadDataset, loadMW...)
	api.GET("/tables/:name", h.TableExists)
	api.POST("/query", h.Query)
	api.GET("/stats/queries", h.TopQueries)

	charts := api.Group("/charts")
	charts.GET("/tips-by-hour", h.TipsByHour)
	charts.GET("/tip-scatter", h.TipScatter)
	charts.GET("/payment-by-zone", h.PaymentByZone)
	charts.GET("/top-pickups", h.TopPickups)
	charts.GET("/monthly-trips", h.MonthlyTrips)
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string   `json:"status"`
	Tables []string `json:"tables"`
}

// Health reports 200 once the engine is connected, 503 before.
func (h *Handler) Health(c echo.Context) error {
	if !h.engine.Ready() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "starting", Tables: []string{}})
	}
	tables, err := h.engine.Tables(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if tables == nil {
		tables = []string{}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Tables: tables})
}

// LoadRequest is the body of POST /api/datasets.
type LoadRequest struct {
	Year     int    `json:"year"`
	Category string `json:"category"`
	Months   int    `json:"months"`
	Strict   bool   `json:"strict"`
}

// LoadDataset loads a dataset synchronously and returns its report.
func (h *Handler) LoadDataset(c echo.Context) error {
	var req LoadRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor,
			fmt.Sprintf("invalid request body: %v", err)))
	}

	ctx := c.Request().Context()
	d := dataset.Descriptor{Year: req.Year, Category: req.Category}
	report, err := h.loader.LoadDataset(ctx, d, dataset.LoadOptions{MonthCount: req.Months, Strict: req.Strict})
	if err != nil {
		logging.WithRequestID(ctx, h.logger).Warn("dataset load failed", "dataset", d.String(), "error", err)
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, report)
}

// TableResponse is the body of GET /api/tables/:name.
type TableResponse struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// TableExists reports whether a table has been materialized.
func (h *Handler) TableExists(c echo.Context) error {
	name := c.Param("name")
	ok, err := h.query.TableExists(c.Request().Context(), name)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, TableResponse{Name: name, Exists: ok})
}

// QueryRequest represents a query request.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// QueryResponse represents the query response.
type QueryResponse struct {
	Columns         []string       `json:"columns"`
	Rows            []query.Record `json:"rows"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	RequestID       string         `json:"request_id"`
}

// Query runs one SQL statement and returns its normalized rows.
func (h *Handler) Query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor,
			fmt.Sprintf("invalid request body: %v", err)))
	}
	if strings.TrimSpace(req.SQL) == "" {
		return writeError(c, taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor, "sql is required"))
	}

	start := time.Now()
	rs, err := h.query.QueryResult(c.Request().Context(), req.SQL)
	if err != nil {
		return writeError(c, err)
	}

	resp := QueryResponse{
		Columns:         rs.Columns,
		Rows:            rs.Rows,
		ExecutionTimeMs: elapsedMs(start),
		RequestID:       requestID(c),
	}
	// Ensure empty results serialize as arrays
	if resp.Rows == nil {
		resp.Rows = []query.Record{}
	}
	if resp.Columns == nil {
		resp.Columns = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}

// TopQueries returns the most frequent statements.
func (h *Handler) TopQueries(c echo.Context) error {
	n := intParam(c, "n", 10)
	if h.stats == nil {
		return c.JSON(http.StatusOK, []observability.StatementStats{})
	}
	h.stats.Prune()
	top := h.stats.Top(n)
	if top == nil {
		top = []observability.StatementStats{}
	}
	return c.JSON(http.StatusOK, top)
}

// --- CHARTS ---

func (h *Handler) TipsByHour(c echo.Context) error {
	year, err := yearParam(c)
	if err != nil {
		return writeError(c, err)
	}
	data, err := h.dash.TipsByHour(c.Request().Context(), year)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

// TipScatter also returns the trend line when one can be fitted.
func (h *Handler) TipScatter(c echo.Context) error {
	year, err := yearParam(c)
	if err != nil {
		return writeError(c, err)
	}
	points, err := h.dash.TipScatter(c.Request().Context(), year, intParam(c, "limit", dashboard.DefaultScatterLimit))
	if err != nil {
		return writeError(c, err)
	}

	resp := map[string]interface{}{"points": points}
	if slope, intercept, ok := dashboard.LinearFit(points); ok {
		resp["trend"] = map[string]float64{"slope": slope, "intercept": intercept}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) PaymentByZone(c echo.Context) error {
	year, err := yearParam(c)
	if err != nil {
		return writeError(c, err)
	}
	data, err := h.dash.PaymentByZone(c.Request().Context(), year, intParam(c, "limit", dashboard.DefaultZoneLimit))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) TopPickups(c echo.Context) error {
	year, err := yearParam(c)
	if err != nil {
		return writeError(c, err)
	}
	data, err := h.dash.TopPickupLocations(c.Request().Context(), year, intParam(c, "limit", dashboard.DefaultZoneLimit))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

// MonthlyTrips takes a comma separated years parameter.
func (h *Handler) MonthlyTrips(c echo.Context) error {
	var years []int
	for _, s := range strings.Split(c.QueryParam("years"), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		y, err := strconv.Atoi(s)
		if err != nil {
			return writeError(c, taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor,
				fmt.Sprintf("invalid year %q", s)))
		}
		years = append(years, y)
	}
	data, err := h.dash.MonthlyTrips(c.Request().Context(), years...)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func yearParam(c echo.Context) (int, error) {
	raw := c.QueryParam("year")
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor,
			fmt.Sprintf("year must be an integer, got %q", raw))
	}
	return year, nil
}

func intParam(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
