package units

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"eventscope/internal/model"
)

// DefaultScale is the number of decimals of an ERC-20 style token amount.
const DefaultScale = 18

// ConversionError reports a cell that cannot be read as a number.
type ConversionError struct {
	Column string
	Row    int
	Value  any
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("units: column %s row %d: cannot scale %T value %v", e.Column, e.Row, e.Value, e.Value)
}

// Normalize divides every cell of the named columns by 10^scale and stores the
// result as float64. Columns missing from the table are ignored and nil cells
// stay nil. The table is left untouched when any cell fails to convert.
func Normalize(table *model.Table, fields []string, scale int) error {
	if table == nil || len(fields) == 0 {
		return nil
	}
	if scale < 0 {
		return fmt.Errorf("units: negative scale %d", scale)
	}
	denom := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil))

	type cell struct {
		row   int
		col   string
		value float64
	}
	var updates []cell
	for _, col := range fields {
		if !table.HasColumn(col) {
			continue
		}
		for i, row := range table.Rows {
			raw, ok := row[col]
			if !ok || raw == nil {
				continue
			}
			rat, err := toRat(raw)
			if err != nil {
				return &ConversionError{Column: col, Row: i, Value: raw}
			}
			f, _ := rat.Quo(rat, denom).Float64()
			updates = append(updates, cell{row: i, col: col, value: f})
		}
	}

	for _, u := range updates {
		table.Rows[u.row][u.col] = u.value
	}
	return nil
}

func toRat(value any) (*big.Rat, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Rat).SetInt(v), nil
	case int:
		return new(big.Rat).SetInt64(int64(v)), nil
	case int32:
		return new(big.Rat).SetInt64(int64(v)), nil
	case int64:
		return new(big.Rat).SetInt64(v), nil
	case uint:
		return new(big.Rat).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Rat).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Rat).SetUint64(v), nil
	case float32:
		return floatRat(float64(v))
	case float64:
		return floatRat(v)
	case json.Number:
		return stringRat(v.String())
	case string:
		return stringRat(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

func floatRat(v float64) (*big.Rat, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("non-finite value %v", v)
	}
	return new(big.Rat).SetFloat64(v), nil
}

func stringRat(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty number")
	}
	rat, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return rat, nil
}
