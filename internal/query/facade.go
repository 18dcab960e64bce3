// Package query is the read side used by charts and the HTTP API. It runs
// SQL against the engine and hands back rows with every cell normalized to
// plain JSON-friendly values.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/taxidash/taxidash/internal/engine"
	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/observability"
)

// Engine is the part of engine.Handle the façade reads through.
type Engine interface {
	Ready() bool
	Query(ctx context.Context, query string) (*engine.Result, error)
	TableExists(ctx context.Context, name string) (bool, error)
}

// ResultSet is a normalized result with its column order.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// FacadeConfig holds optional collaborators of a Facade.
type FacadeConfig struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Stats   *observability.QueryStats
}

// Facade executes read queries. Every call runs the statement again;
// nothing is cached.
type Facade struct {
	engine  Engine
	logger  *slog.Logger
	metrics *observability.Metrics
	stats   *observability.QueryStats
}

// NewFacade creates a façade over eng.
func NewFacade(eng Engine, cfg FacadeConfig) *Facade {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		engine:  eng,
		logger:  logger,
		metrics: cfg.Metrics,
		stats:   cfg.Stats,
	}
}

// Query runs sql and returns its rows in result order. When a result has
// two columns with the same name, the later one wins.
func (f *Facade) Query(ctx context.Context, sql string) ([]Record, error) {
	rs, err := f.QueryResult(ctx, sql)
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// QueryResult runs sql and also reports the column order.
func (f *Facade) QueryResult(ctx context.Context, sql string) (*ResultSet, error) {
	if !f.engine.Ready() {
		return nil, taxierrors.NotInitialized("query")
	}

	start := time.Now()
	res, err := f.engine.Query(ctx, sql)
	elapsed := time.Since(start)

	f.metrics.ObserveQuery(elapsed, err)
	if f.stats != nil {
		f.stats.Record(sql, elapsed, err)
	}
	if err != nil {
		f.logger.Debug("query failed", "error", err, "duration", elapsed)
		return nil, err
	}

	rs := &ResultSet{
		Columns: res.Columns,
		Rows:    make([]Record, len(res.Rows)),
	}
	for i, row := range res.Rows {
		rec := make(Record, len(res.Columns))
		for c, name := range res.Columns {
			rec[name] = Normalize(row[c])
		}
		rs.Rows[i] = rec
	}
	return rs, nil
}

// TableExists reports whether a table named name has been materialized.
func (f *Facade) TableExists(ctx context.Context, name string) (bool, error) {
	if !f.engine.Ready() {
		return false, taxierrors.NotInitialized("table exists")
	}
	return f.engine.TableExists(ctx, name)
}

// ExistingTables filters names down to the tables that exist, keeping
// their order.
func (f *Facade) ExistingTables(ctx context.Context, names ...string) ([]string, error) {
	var out []string
	for _, name := range names {
		ok, err := f.TableExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, name)
		}
	}
	return out, nil
}
