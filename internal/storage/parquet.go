package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"eventscope/internal/model"
)

// columnsMetadataKey stores the table column order and the Go kind of each
// column, since a Parquet group sorts its fields by name.
const columnsMetadataKey = "eventscope.columns"

const (
	kindInt64  = "int64"
	kindUint64 = "uint64"
	kindDouble = "double"
	kindBool   = "bool"
	kindString = "string"
	kindBigInt = "bigint"
	kindJSON   = "json"
)

type columnMeta struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ParquetStore keeps a table in a single Parquet file with one optional leaf
// column per table column.
type ParquetStore struct {
	path string
}

func NewParquetStore(path string) *ParquetStore {
	return &ParquetStore{path: path}
}

func (s *ParquetStore) Path() string {
	return s.path
}

// Save replaces the file with the table contents. Column kinds are inferred
// from the non-nil cells: integers wider than 64 bits and mixed integer columns
// are stored as decimal strings, nested values as JSON text.
func (s *ParquetStore) Save(table *model.Table) error {
	if table == nil || len(table.Columns) == 0 {
		return fmt.Errorf("parquet: table has no columns")
	}

	metas := make([]columnMeta, len(table.Columns))
	group := make(parquet.Group, len(table.Columns))
	for i, col := range table.Columns {
		kind := inferKind(table, col)
		metas[i] = columnMeta{Name: col, Kind: kind}
		group[col] = parquet.Optional(nodeForKind(kind))
	}
	schema := parquet.NewSchema("events", group)

	leafIndex := make(map[string]int, len(table.Columns))
	for i, path := range schema.Columns() {
		leafIndex[path[0]] = i
	}

	metaJSON, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("parquet: marshal column metadata: %w", err)
	}

	rows := make([]parquet.Row, 0, len(table.Rows))
	for r, row := range table.Rows {
		out := make(parquet.Row, len(metas))
		for _, meta := range metas {
			idx := leafIndex[meta.Name]
			cell := row[meta.Name]
			if cell == nil {
				out[idx] = parquet.Value{}.Level(0, 0, idx)
				continue
			}
			value, err := toParquetValue(meta.Kind, cell)
			if err != nil {
				return fmt.Errorf("parquet: row %d column %s: %w", r, meta.Name, err)
			}
			out[idx] = value.Level(0, 1, idx)
		}
		rows = append(rows, out)
	}

	return WriteFileAtomic(s.path, func(w io.Writer) error {
		writer := parquet.NewWriter(w, schema, parquet.KeyValueMetadata(columnsMetadataKey, string(metaJSON)))
		if _, err := writer.WriteRows(rows); err != nil {
			return fmt.Errorf("parquet: write rows: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("parquet: close writer: %w", err)
		}
		return nil
	})
}

// Load reads the whole file back into a table.
func (s *ParquetStore) Load() (*model.Table, bool, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("parquet: open: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("parquet: stat: %w", err)
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, false, fmt.Errorf("parquet: read %s: %w", s.path, err)
	}

	leaves := pf.Schema().Columns()
	names := make([]string, len(leaves))
	for i, path := range leaves {
		names[i] = strings.Join(path, ".")
	}

	kinds := make(map[string]string, len(names))
	var order []string
	if raw, ok := pf.Lookup(columnsMetadataKey); ok {
		var metas []columnMeta
		if err := json.Unmarshal([]byte(raw), &metas); err != nil {
			return nil, false, fmt.Errorf("parquet: column metadata: %w", err)
		}
		for _, meta := range metas {
			kinds[meta.Name] = meta.Kind
			order = append(order, meta.Name)
		}
	}

	table := model.NewTable(order...)
	for _, name := range names {
		table.AddColumn(name)
	}

	buf := make([]parquet.Row, 128)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, readErr := rows.ReadRows(buf)
			for _, prow := range buf[:n] {
				row := make(model.Row, len(prow))
				for _, v := range prow {
					name := names[v.Column()]
					if v.IsNull() {
						row[name] = nil
						continue
					}
					cell, err := fromParquetValue(kinds[name], v)
					if err != nil {
						rows.Close()
						return nil, false, fmt.Errorf("parquet: column %s: %w", name, err)
					}
					row[name] = cell
				}
				table.AppendRow(row)
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				rows.Close()
				return nil, false, fmt.Errorf("parquet: read rows: %w", readErr)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, false, fmt.Errorf("parquet: close rows: %w", err)
		}
	}

	return table, true, nil
}

func nodeForKind(kind string) parquet.Node {
	switch kind {
	case kindInt64:
		return parquet.Int(64)
	case kindUint64:
		return parquet.Uint(64)
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func inferKind(table *model.Table, col string) string {
	kind := ""
	for _, row := range table.Rows {
		cell := row[col]
		if cell == nil {
			continue
		}
		kind = mergeKinds(kind, kindOf(cell))
		if kind == kindJSON {
			break
		}
	}
	if kind == "" {
		return kindString
	}
	return kind
}

func kindOf(v any) string {
	switch n := v.(type) {
	case int, int8, int16, int32, int64:
		return kindInt64
	case uint, uint8, uint16, uint32, uint64:
		return kindUint64
	case float32, float64:
		return kindDouble
	case bool:
		return kindBool
	case string:
		return kindString
	case *big.Int:
		return kindBigInt
	case json.Number:
		if strings.ContainsAny(n.String(), ".eE") {
			return kindDouble
		}
		return kindBigInt
	default:
		return kindJSON
	}
}

func isIntegerKind(kind string) bool {
	return kind == kindInt64 || kind == kindUint64 || kind == kindBigInt
}

func mergeKinds(a, b string) string {
	switch {
	case a == "":
		return b
	case a == b:
		return a
	case isIntegerKind(a) && isIntegerKind(b):
		return kindBigInt
	case (a == kindDouble && isIntegerKind(b)) || (b == kindDouble && isIntegerKind(a)):
		return kindDouble
	default:
		return kindJSON
	}
}

func toParquetValue(kind string, v any) (parquet.Value, error) {
	switch kind {
	case kindInt64:
		n, ok := asInt64(v)
		if !ok {
			return parquet.Value{}, fmt.Errorf("cannot store %T as int64", v)
		}
		return parquet.Int64Value(n), nil
	case kindUint64:
		n, ok := model.AsUint64(v)
		if !ok {
			return parquet.Value{}, fmt.Errorf("cannot store %T as uint64", v)
		}
		return parquet.Int64Value(int64(n)), nil
	case kindDouble:
		f, ok := asFloat64(v)
		if !ok {
			return parquet.Value{}, fmt.Errorf("cannot store %T as double", v)
		}
		return parquet.DoubleValue(f), nil
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return parquet.Value{}, fmt.Errorf("cannot store %T as bool", v)
		}
		return parquet.BooleanValue(b), nil
	case kindString:
		s, ok := v.(string)
		if !ok {
			return parquet.Value{}, fmt.Errorf("cannot store %T as string", v)
		}
		return parquet.ByteArrayValue([]byte(s)), nil
	case kindBigInt:
		b, ok := asBigInt(v)
		if !ok {
			return parquet.Value{}, fmt.Errorf("cannot store %T as integer", v)
		}
		return parquet.ByteArrayValue([]byte(b.String())), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ByteArrayValue(data), nil
	}
}

func fromParquetValue(kind string, v parquet.Value) (any, error) {
	switch kind {
	case kindInt64:
		return v.Int64(), nil
	case kindUint64:
		return v.Uint64(), nil
	case kindDouble:
		return v.Double(), nil
	case kindBool:
		return v.Boolean(), nil
	case kindString:
		return string(v.ByteArray()), nil
	case kindBigInt:
		b, ok := new(big.Int).SetString(string(v.ByteArray()), 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", v.ByteArray())
		}
		return b, nil
	case kindJSON:
		var out any
		dec := json.NewDecoder(strings.NewReader(string(v.ByteArray())))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		return fromJSONValue(out), nil
	}

	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean(), nil
	case parquet.Int32:
		return int64(v.Int32()), nil
	case parquet.Int64:
		return v.Int64(), nil
	case parquet.Float:
		return float64(v.Float()), nil
	case parquet.Double:
		return v.Double(), nil
	default:
		return string(v.ByteArray()), nil
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		u, ok := model.AsUint64(v)
		if !ok || u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	if u, ok := model.AsUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}

func asBigInt(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		return n, n != nil
	case json.Number:
		return new(big.Int).SetString(n.String(), 10)
	case string:
		return new(big.Int).SetString(n, 10)
	}
	if i, ok := asInt64(v); ok {
		return big.NewInt(i), true
	}
	if u, ok := model.AsUint64(v); ok {
		return new(big.Int).SetUint64(u), true
	}
	return nil, false
}
