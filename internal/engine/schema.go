package engine

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

// ColumnKind is the storage class a materialized column is declared with.
type ColumnKind int

const (
	KindInteger ColumnKind = iota
	KindReal
	KindText
	KindBlob
)

func (k ColumnKind) String() string {
	switch k {
	case KindInteger:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// widen returns the kind able to hold values of both a and b.
func widen(a, b ColumnKind) ColumnKind {
	switch {
	case a == b:
		return a
	case a == KindText || b == KindText:
		return KindText
	case a == KindBlob || b == KindBlob:
		return KindText
	default:
		// INTEGER and REAL
		return KindReal
	}
}

// kindOf maps an arrow type onto a column kind.
func kindOf(dt arrow.DataType) ColumnKind {
	switch dt.ID() {
	case arrow.BOOL,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return KindInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128:
		return KindReal
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return KindBlob
	case arrow.DICTIONARY:
		return kindOf(dt.(*arrow.DictionaryType).ValueType)
	default:
		return KindText
	}
}

// Column is one column of a materialized table.
type Column struct {
	Name string
	Kind ColumnKind
}

// UnionPolicy decides how the schemas of several files combine into one
// table.
type UnionPolicy int

const (
	// UnionByName matches columns by name. A column missing from a file
	// is NULL for that file's rows; differing kinds are widened.
	UnionByName UnionPolicy = iota
	// UnionByPosition matches columns by ordinal. Every file must have the
	// same number of columns; names come from the first file.
	UnionByPosition
)

func (p UnionPolicy) String() string {
	if p == UnionByPosition {
		return "by_position"
	}
	return "by_name"
}

// fileSchema is the column layout of one decoded buffer.
type fileSchema struct {
	key     string
	columns []Column
}

func schemaOf(key string, s *arrow.Schema) fileSchema {
	fs := fileSchema{key: key, columns: make([]Column, s.NumFields())}
	for i, f := range s.Fields() {
		fs.columns[i] = Column{Name: f.Name, Kind: kindOf(f.Type)}
	}
	return fs
}

// unionSchema is the table layout plus, for every file, the table column
// each file column lands in.
type unionSchema struct {
	columns []Column
	targets [][]int
}

func mergeSchemas(files []fileSchema, policy UnionPolicy) (*unionSchema, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to merge")
	}
	if policy == UnionByPosition {
		return mergeByPosition(files)
	}
	return mergeByName(files)
}

func mergeByName(files []fileSchema) (*unionSchema, error) {
	u := &unionSchema{targets: make([][]int, len(files))}
	index := make(map[string]int)

	for fi, f := range files {
		u.targets[fi] = make([]int, len(f.columns))
		seen := make(map[string]struct{}, len(f.columns))
		for ci, c := range f.columns {
			// SQLite identifiers are case-insensitive.
			norm := strings.ToLower(c.Name)
			if _, dup := seen[norm]; dup {
				return nil, taxierrors.NewEngineError(taxierrors.CodeSchemaMismatch,
					fmt.Sprintf("buffer %s has duplicate column %q", f.key, c.Name), nil)
			}
			seen[norm] = struct{}{}

			pos, ok := index[norm]
			if !ok {
				pos = len(u.columns)
				index[norm] = pos
				u.columns = append(u.columns, c)
			} else {
				u.columns[pos].Kind = widen(u.columns[pos].Kind, c.Kind)
			}
			u.targets[fi][ci] = pos
		}
	}
	return u, nil
}

func mergeByPosition(files []fileSchema) (*unionSchema, error) {
	first := files[0]
	u := &unionSchema{
		columns: append([]Column(nil), first.columns...),
		targets: make([][]int, len(files)),
	}

	for fi, f := range files {
		if len(f.columns) != len(first.columns) {
			return nil, taxierrors.NewEngineError(taxierrors.CodeSchemaMismatch,
				fmt.Sprintf("buffer %s has %d columns, %s has %d", f.key, len(f.columns), first.key, len(first.columns)), nil)
		}
		u.targets[fi] = make([]int, len(f.columns))
		for ci, c := range f.columns {
			u.columns[ci].Kind = widen(u.columns[ci].Kind, c.Kind)
			u.targets[fi][ci] = ci
		}
	}
	return u, nil
}
