package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

// maxVariables is SQLITE_MAX_VARIABLE_NUMBER for both bundled drivers.
const maxVariables = 32766

// TableInfo describes a materialized table.
type TableInfo struct {
	Name     string
	Columns  []Column
	Rows     int64
	Sources  []string
	Policy   UnionPolicy
	Duration time.Duration
}

// CreateTableFromBuffers materializes table from the registered buffers
// named by keys, combined with policy. The table is created and filled in
// one transaction: on any error no table exists afterwards.
func (h *Handle) CreateTableFromBuffers(ctx context.Context, table string, keys []string, policy UnionPolicy) (*TableInfo, error) {
	start := time.Now()

	if !h.Ready() {
		return nil, taxierrors.NotInitialized("create table " + table)
	}
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, taxierrors.NewValidationError(taxierrors.CodeInvalidIdentifier, "no buffers given for table "+table)
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			return nil, taxierrors.NewValidationError(taxierrors.CodeInvalidIdentifier, "buffer "+k+" listed twice")
		}
		seen[k] = struct{}{}
	}

	// Decoding does not touch the connection.
	tables := make([]arrow.Table, 0, len(keys))
	defer func() {
		for _, t := range tables {
			t.Release()
		}
	}()
	schemas := make([]fileSchema, 0, len(keys))
	for _, key := range keys {
		data, err := h.registry.Get(key)
		if err != nil {
			return nil, err
		}
		tbl, err := decodeParquet(ctx, key, data, h.mem)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
		schemas = append(schemas, schemaOf(key, tbl.Schema()))
	}

	union, err := mergeSchemas(schemas, policy)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil, taxierrors.NotInitialized("create table " + table)
	}

	exists, err := h.tableExistsLocked(ctx, table)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, taxierrors.NewEngineError(taxierrors.CodeDuplicateRegistration,
			fmt.Sprintf("table %s already exists", table), nil)
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, taxierrors.NewQueryError("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, createTableSQL(table, union.columns)); err != nil {
		return nil, taxierrors.NewQueryError("create table "+table, err)
	}

	var rows int64
	for fi, tbl := range tables {
		names := make([]string, len(union.targets[fi]))
		for ci, target := range union.targets[fi] {
			names[ci] = union.columns[target].Name
		}
		n, err := h.insertTable(ctx, tx, table, names, tbl)
		if err != nil {
			return nil, taxierrors.NewQueryError(fmt.Sprintf("insert %s into %s", keys[fi], table), err)
		}
		rows += n
	}

	if err := tx.Commit(); err != nil {
		return nil, taxierrors.NewQueryError("commit "+table, err)
	}
	committed = true

	info := &TableInfo{
		Name:     table,
		Columns:  union.columns,
		Rows:     rows,
		Sources:  append([]string(nil), keys...),
		Policy:   policy,
		Duration: time.Since(start),
	}
	h.logger.Info("table materialized", "table", table, "sources", len(keys), "columns", len(info.Columns),
		"rows", rows, "policy", policy.String(), "duration", info.Duration)
	return info, nil
}

func createTableSQL(table string, columns []Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(c.Kind.String())
	}
	b.WriteString(")")
	return b.String()
}

func insertSQL(table string, columns []string, rowCount int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(") VALUES ")

	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
	}
	return b.String()
}

// insertTable copies every row of tbl into table. columns names the table
// column for each column of tbl, in tbl's order.
func (h *Handle) insertTable(ctx context.Context, tx *sql.Tx, table string, columns []string, tbl arrow.Table) (int64, error) {
	ncols := len(columns)
	if ncols == 0 || tbl.NumRows() == 0 {
		return 0, nil
	}

	perStmt := h.cfg.InsertBatchSize
	if perStmt*ncols > maxVariables {
		perStmt = maxVariables / ncols
	}

	full, err := tx.PrepareContext(ctx, insertSQL(table, columns, perStmt))
	if err != nil {
		return 0, err
	}
	defer full.Close()

	args := make([]interface{}, 0, perStmt*ncols)
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		var err error
		if pending == perStmt {
			_, err = full.ExecContext(ctx, args...)
		} else {
			_, err = tx.ExecContext(ctx, insertSQL(table, columns, pending), args...)
		}
		args = args[:0]
		pending = 0
		return err
	}

	tr := array.NewTableReader(tbl, 64*1024)
	defer tr.Release()

	var inserted int64
	for tr.Next() {
		rec := tr.Record()
		n := int(rec.NumRows())
		for r := 0; r < n; r++ {
			for c := 0; c < ncols; c++ {
				args = append(args, valueAt(rec.Column(c), r))
			}
			pending++
			inserted++
			if pending == perStmt {
				if err := flush(); err != nil {
					return 0, err
				}
			}
		}
	}
	if err := tr.Err(); err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return inserted, nil
}
