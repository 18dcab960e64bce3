// Package engine wraps the embedded SQL engine that trip data is loaded
// into. A Handle owns one in-memory database, the namespace of registered
// file buffers and every table materialized from them.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

// Supported drivers.
const (
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// Config holds configuration for a Handle.
type Config struct {
	// Driver is the database/sql driver name (default: DriverCGO).
	Driver string
	// CompressBuffers keeps registered buffers snappy-compressed.
	CompressBuffers bool
	// InsertBatchSize is the number of rows per INSERT statement (default: 256).
	InsertBatchSize int
	// Logger receives lifecycle and materialization events.
	Logger *slog.Logger
}

// DefaultConfig returns the default handle configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverCGO,
		InsertBatchSize: 256,
	}
}

// Result holds the rows of a query in result order. Cell values are
// whatever the driver produced.
type Result struct {
	Columns []string
	Rows    [][]interface{}
}

// Handle is a connection to an in-memory analytical database.
type Handle struct {
	id       string
	cfg      Config
	logger   *slog.Logger
	registry *Registry
	mem      memory.Allocator

	mu    sync.Mutex
	db    *sql.DB
	conn  *sql.Conn
	ready atomic.Bool
}

// New creates a handle. It is unusable until Connect succeeds.
func New(cfg Config) *Handle {
	if cfg.Driver == "" {
		cfg.Driver = DriverCGO
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Handle{
		id:       id,
		cfg:      cfg,
		logger:   logger.With("handle", id),
		registry: NewRegistry(cfg.CompressBuffers),
		mem:      memory.DefaultAllocator,
	}
}

// ID returns the unique identifier of the handle.
func (h *Handle) ID() string {
	return h.id
}

// Connect opens the database. Calling it on a connected handle is a no-op.
func (h *Handle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		return nil
	}

	db, err := sql.Open(h.cfg.Driver, ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open %s engine: %w", h.cfg.Driver, err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to connect %s engine: %w", h.cfg.Driver, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return fmt.Errorf("failed to ping %s engine: %w", h.cfg.Driver, err)
	}

	h.db = db
	h.conn = conn
	h.ready.Store(true)
	h.logger.Info("engine connected", "driver", h.cfg.Driver, "compress_buffers", h.cfg.CompressBuffers)
	return nil
}

// Ready reports whether Connect succeeded and Close has not been called.
func (h *Handle) Ready() bool {
	return h.ready.Load()
}

// Close releases the database, every table and every registered buffer.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil
	}
	h.ready.Store(false)

	var firstErr error
	if err := h.conn.Close(); err != nil {
		firstErr = err
	}
	if err := h.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	h.conn = nil
	h.db = nil
	h.registry.Reset()
	h.logger.Info("engine closed")
	return firstErr
}

// RegisterBuffer makes data addressable under key for later table
// creation. Reusing a key fails with a DuplicateRegistration error.
func (h *Handle) RegisterBuffer(key string, data []byte) error {
	if !h.Ready() {
		return taxierrors.NotInitialized("register buffer " + key)
	}
	info, err := h.registry.Register(key, data)
	if err != nil {
		return err
	}
	h.logger.Debug("buffer registered", "key", key, "size", info.Size, "stored", info.StoredSize,
		"fingerprint", fmt.Sprintf("%016x", info.Fingerprint))
	return nil
}

// UnregisterBuffers drops buffers that did not make it into a table.
func (h *Handle) UnregisterBuffers(keys ...string) {
	h.registry.Unregister(keys...)
}

// Registered returns metadata for a registered buffer.
func (h *Handle) Registered(key string) (BufferInfo, bool) {
	return h.registry.Info(key)
}

// Keys returns every registered key in registration order.
func (h *Handle) Keys() []string {
	return h.registry.Keys()
}

// RegisteredBytes returns the memory held by registered buffers.
func (h *Handle) RegisteredBytes() int64 {
	return h.registry.StoredBytes()
}

// Query runs a read statement and returns the full result set. The
// connection is read-only for the duration of the call, so statements that
// would modify a table fail.
func (h *Handle) Query(ctx context.Context, query string) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil, taxierrors.NotInitialized("query")
	}

	if _, err := h.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, taxierrors.NewQueryError("query failed", err)
	}
	defer func() {
		if _, err := h.conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
			h.logger.Error("failed to leave read-only mode", "error", err)
		}
	}()

	rows, err := h.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, taxierrors.NewQueryError("query failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, taxierrors.NewQueryError("query failed", err)
	}

	result := &Result{Columns: columns}

	// Pre-allocate scan buffers once outside the loop
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, taxierrors.NewQueryError("query failed", err)
		}

		// Copy values for this row (values slice is reused)
		rowCopy := make([]interface{}, len(values))
		copy(rowCopy, values)
		result.Rows = append(result.Rows, rowCopy)

		for i := range values {
			values[i] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, taxierrors.NewQueryError("query failed", err)
	}
	return result, nil
}

// Exec runs a statement that returns no rows.
func (h *Handle) Exec(ctx context.Context, stmt string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return taxierrors.NotInitialized("exec")
	}
	if _, err := h.conn.ExecContext(ctx, stmt); err != nil {
		return taxierrors.NewQueryError("statement failed", err)
	}
	return nil
}

// TableExists looks name up in the catalog.
func (h *Handle) TableExists(ctx context.Context, name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return false, taxierrors.NotInitialized("table exists")
	}
	return h.tableExistsLocked(ctx, name)
}

func (h *Handle) tableExistsLocked(ctx context.Context, name string) (bool, error) {
	var ok int
	err := h.conn.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type IN ('table', 'view') AND name = ? COLLATE NOCASE LIMIT 1`, name).Scan(&ok)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, taxierrors.NewQueryError("catalog lookup failed", err)
	}
	return true, nil
}

// Tables lists the materialized tables by name.
func (h *Handle) Tables(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil, taxierrors.NotInitialized("tables")
	}

	rows, err := h.conn.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, taxierrors.NewQueryError("catalog lookup failed", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, taxierrors.NewQueryError("catalog lookup failed", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
