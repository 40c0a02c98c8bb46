package model

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
)

// Row is one output record keyed by column name.
type Row map[string]any

// Table is an ordered set of rows sharing a column list.
type Table struct {
	Columns []string
	Rows    []Row

	index map[string]struct{}
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	t := &Table{}
	for _, col := range columns {
		t.AddColumn(col)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether the column is part of the table.
func (t *Table) HasColumn(name string) bool {
	t.ensureIndex()
	_, ok := t.index[name]
	return ok
}

// AddColumn appends a column unless it already exists.
func (t *Table) AddColumn(name string) {
	t.ensureIndex()
	if _, ok := t.index[name]; ok {
		return
	}
	t.index[name] = struct{}{}
	t.Columns = append(t.Columns, name)
}

// AppendRow adds a row. Columns listed in order are registered first; any other
// keys of the row must already be known columns.
func (t *Table) AppendRow(row Row, order ...string) {
	for _, col := range order {
		t.AddColumn(col)
	}
	t.Rows = append(t.Rows, row)
}

// Append concatenates other below t. The column list becomes the union, with
// columns of t first; cells missing in either side read as nil.
func (t *Table) Append(other *Table) {
	if other == nil {
		return
	}
	for _, col := range other.Columns {
		t.AddColumn(col)
	}
	t.Rows = append(t.Rows, other.Rows...)
}

// LastBlockNumber returns the block number of the last row.
func (t *Table) LastBlockNumber() (uint64, bool) {
	if t.Len() == 0 {
		return 0, false
	}
	return AsUint64(t.Rows[len(t.Rows)-1][ColBlockNumber])
}

func (t *Table) ensureIndex() {
	if t.index != nil {
		return
	}
	t.index = make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		t.index[col] = struct{}{}
	}
}

// AsUint64 converts the numeric representations a block number can take after
// a storage round trip.
func AsUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		return n, err == nil
	case *big.Int:
		if v == nil || !v.IsUint64() {
			return 0, false
		}
		return v.Uint64(), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
