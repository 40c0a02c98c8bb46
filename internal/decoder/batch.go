package decoder

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/iter"

	"eventscope/internal/model"
)

// Policy controls how a batch reacts to rows that fail to decode.
type Policy int

const (
	// FailFast aborts the batch on the first failing row.
	FailFast Policy = iota
	// SkipUnknown omits rows whose topic0 matches no event and fails on any
	// other error.
	SkipUnknown
	// SkipFailed omits every row that fails to decode.
	SkipFailed
)

// BatchOptions configures DecodeBatch.
type BatchOptions struct {
	Policy  Policy
	Workers int
}

// BatchResult holds the decoded table and the rows left out of it.
type BatchResult struct {
	Table   *model.Table
	Skipped []model.DecodeError
}

type rowResult struct {
	row   model.Row
	order []string
	err   error
}

// DecodeBatch decodes every row independently, selecting each event by topic0,
// and flattens the decoded fields into columns next to the raw log columns.
// Output rows keep the input order regardless of the worker count.
func (d *Decoder) DecodeBatch(ctx context.Context, rows []model.RawLog, opts BatchOptions) (BatchResult, error) {
	decodeOne := func(row *model.RawLog) rowResult {
		if err := ctx.Err(); err != nil {
			return rowResult{err: err}
		}
		out, order, err := d.decodeRow(*row)
		return rowResult{row: out, order: order, err: err}
	}

	var results []rowResult
	if opts.Workers > 1 && len(rows) > 1 {
		mapper := iter.Mapper[model.RawLog, rowResult]{MaxGoroutines: opts.Workers}
		results = mapper.Map(rows, decodeOne)
	} else {
		results = make([]rowResult, len(rows))
		for i := range rows {
			results[i] = decodeOne(&rows[i])
		}
	}
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	columns := append(append([]string{}, model.RawColumns...), model.ColEventName)
	result := BatchResult{Table: model.NewTable(columns...)}
	for i, res := range results {
		if res.err != nil {
			if skip(opts.Policy, res.err) {
				result.Skipped = append(result.Skipped, model.NewDecodeError(rows[i], res.err))
				continue
			}
			return BatchResult{}, res.err
		}
		result.Table.AppendRow(res.row, res.order...)
	}
	return result, nil
}

func skip(policy Policy, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch policy {
	case SkipUnknown:
		var unknown *UnknownEventError
		return errors.As(err, &unknown)
	case SkipFailed:
		return true
	default:
		return false
	}
}

func (d *Decoder) decodeRow(raw model.RawLog) (model.Row, []string, error) {
	desc, ok := d.Match(raw)
	if !ok {
		return nil, nil, &UnknownEventError{Topic0: raw.Topic0}
	}
	fields, err := DecodeEvent(desc, raw)
	if err != nil {
		return nil, nil, err
	}

	row := raw.Row()
	row[model.ColEventName] = desc.Name
	order := make([]string, 0, fields.Len())
	for _, name := range fields.Names {
		col := ColumnName(name)
		row[col] = fields.Values[name]
		order = append(order, col)
	}
	return row, order, nil
}

var reservedColumns = func() map[string]struct{} {
	out := make(map[string]struct{}, len(model.RawColumns)+1)
	for _, col := range model.RawColumns {
		out[col] = struct{}{}
	}
	out[model.ColEventName] = struct{}{}
	return out
}()

// ColumnName maps a decoded param name to its output column. Names that clash
// with raw log columns get an "arg_" prefix.
func ColumnName(param string) string {
	if _, ok := reservedColumns[param]; ok {
		return "arg_" + param
	}
	return param
}
