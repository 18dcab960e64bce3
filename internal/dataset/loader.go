package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxidash/taxidash/internal/engine"
	taxierrors "github.com/taxidash/taxidash/internal/errors"
	"github.com/taxidash/taxidash/internal/observability"
	"github.com/taxidash/taxidash/internal/storage"
)

// Engine is the part of engine.Handle the loader drives.
type Engine interface {
	Ready() bool
	RegisterBuffer(key string, data []byte) error
	UnregisterBuffers(keys ...string)
	CreateTableFromBuffers(ctx context.Context, table string, keys []string, policy engine.UnionPolicy) (*engine.TableInfo, error)
	TableExists(ctx context.Context, name string) (bool, error)
	RegisteredBytes() int64
}

// LoadOptions controls one load.
type LoadOptions struct {
	// MonthCount is how many months, starting at January, to load.
	// Zero means all twelve.
	MonthCount int `json:"months" yaml:"months"`
	// Strict fails the whole load on the first unavailable month. When
	// false, unavailable months are logged and skipped.
	Strict bool `json:"strict" yaml:"strict"`
}

// SkippedMonth is a month a lenient load left out.
type SkippedMonth struct {
	Registration
	Reason string `json:"reason"`
}

// LoadReport summarizes a successful load.
type LoadReport struct {
	ID         string         `json:"id"`
	Descriptor Descriptor     `json:"dataset"`
	Table      string         `json:"table"`
	Strict     bool           `json:"strict"`
	Registered []Registration `json:"registered"`
	Skipped    []SkippedMonth `json:"skipped,omitempty"`
	Rows       int64          `json:"rows"`
	Columns    []string       `json:"columns"`
	Bytes      int64          `json:"bytes"`
	Duration   time.Duration  `json:"duration_ns"`
}

// LoaderConfig holds configuration for a Loader.
type LoaderConfig struct {
	// FetchConcurrency bounds parallel month fetches (default: 4).
	FetchConcurrency int
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// Loader materializes datasets into an engine.
type Loader struct {
	engine  Engine
	fetcher *storage.BatchFetcher
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	inFlight map[string]Descriptor
}

// NewLoader creates a loader reading months from source.
func NewLoader(eng Engine, source storage.ObjectStorage, cfg LoaderConfig) *Loader {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		engine:   eng,
		fetcher:  storage.NewBatchFetcher(source, cfg.FetchConcurrency),
		logger:   logger,
		metrics:  cfg.Metrics,
		inFlight: make(map[string]Descriptor),
	}
}

// LoadDataset fetches the first opts.MonthCount months of d, registers
// them and materializes d.TableName() as their union by column name.
//
// Every fetch finishes before anything is registered. In strict mode a
// single unavailable month fails the load with a SourceUnavailable error
// naming the lowest failing month, and nothing is registered. In lenient
// mode unavailable months are skipped; if none remain the load fails with
// NoDataAvailable.
func (l *Loader) LoadDataset(ctx context.Context, d Descriptor, opts LoadOptions) (report *LoadReport, err error) {
	start := time.Now()

	if !l.engine.Ready() {
		return nil, taxierrors.NotInitialized("load dataset " + d.String())
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	months := opts.MonthCount
	if months == 0 {
		months = MonthsPerYear
	}
	if months < 1 || months > MonthsPerYear {
		return nil, taxierrors.NewValidationError(taxierrors.CodeInvalidMonthCount,
			fmt.Sprintf("month count %d outside 1..%d", opts.MonthCount, MonthsPerYear))
	}

	table := d.TableName()
	if err := l.begin(table, d); err != nil {
		return nil, err
	}
	defer l.end(table)

	defer func() {
		l.metrics.ObserveLoad(opts.Strict, time.Since(start), err)
	}()

	exists, err := l.engine.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, taxierrors.NewEngineError(taxierrors.CodeDuplicateRegistration,
			fmt.Sprintf("dataset %s is already loaded as %s", d, table), nil)
	}

	regs := d.Registrations(months)
	paths := make([]string, len(regs))
	for i, r := range regs {
		paths[i] = r.SourceLocation
	}

	fetched, err := l.fetcher.Fetch(ctx, paths)
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("load %s: %w", d, ctxErr)
	}
	l.metrics.ObserveFetches(fetched.Fetched, len(fetched.Errors))

	report = &LoadReport{
		ID:         uuid.NewString(),
		Descriptor: d,
		Table:      table,
		Strict:     opts.Strict,
	}

	var ok []Registration
	for _, r := range regs {
		fetchErr, failed := fetched.Errors[r.SourceLocation]
		if !failed {
			ok = append(ok, r)
			continue
		}
		if opts.Strict {
			return nil, taxierrors.NewSourceError(taxierrors.CodeSourceUnavailable,
				fmt.Sprintf("%s unavailable", r.SourceLocation), fetchErr).
				WithDetails(map[string]interface{}{"location": r.SourceLocation, "month": r.Month})
		}
		l.logger.Warn("skipping unavailable month",
			"dataset", d.String(), "table", table, "month", r.Month,
			"location", r.SourceLocation, "error", fetchErr)
		report.Skipped = append(report.Skipped, SkippedMonth{Registration: r, Reason: fetchErr.Error()})
	}

	if len(ok) == 0 {
		return nil, taxierrors.NewDatasetError(taxierrors.CodeNoDataAvailable,
			fmt.Sprintf("no month of %s could be fetched", d))
	}

	keys := make([]string, 0, len(ok))
	for _, r := range ok {
		if err := l.engine.RegisterBuffer(r.Key, fetched.Buffers[r.SourceLocation]); err != nil {
			l.engine.UnregisterBuffers(keys...)
			return nil, err
		}
		keys = append(keys, r.Key)
		report.Bytes += int64(len(fetched.Buffers[r.SourceLocation]))
	}

	info, err := l.engine.CreateTableFromBuffers(ctx, table, keys, engine.UnionByName)
	if err != nil {
		l.engine.UnregisterBuffers(keys...)
		return nil, err
	}

	report.Registered = ok
	report.Rows = info.Rows
	report.Columns = make([]string, len(info.Columns))
	for i, c := range info.Columns {
		report.Columns[i] = c.Name
	}
	report.Duration = time.Since(start)

	l.metrics.ObserveTable(table, info.Rows, l.engine.RegisteredBytes())
	l.logger.Info("dataset loaded",
		"dataset", d.String(), "table", table, "load_id", report.ID,
		"months", len(ok), "skipped", len(report.Skipped), "rows", info.Rows,
		"bytes", report.Bytes, "duration", report.Duration)
	return report, nil
}

func (l *Loader) begin(table string, d Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if other, busy := l.inFlight[table]; busy {
		return taxierrors.NewEngineError(taxierrors.CodeDuplicateRegistration,
			fmt.Sprintf("%s is already being loaded into %s", other, table), nil)
	}
	l.inFlight[table] = d
	return nil
}

func (l *Loader) end(table string) {
	l.mu.Lock()
	delete(l.inFlight, table)
	l.mu.Unlock()
}
