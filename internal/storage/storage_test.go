package storage

import (
	"bufio"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/model"
)

func sampleTable() *model.Table {
	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	table := model.NewTable(model.ColBlockNumber, model.ColTransactionHash, "event_name", "amount", "price", "flag", "pair", "note")
	table.AppendRow(model.Row{
		model.ColBlockNumber:     uint64(100),
		model.ColTransactionHash: "0xaaa",
		"event_name":             "Transfer",
		"amount":                 big.NewInt(42),
		"price":                  1.5,
		"flag":                   true,
		"pair":                   []any{"0x1", "0x2"},
		"note":                   nil,
	})
	table.AppendRow(model.Row{
		model.ColBlockNumber:     uint64(101),
		model.ColTransactionHash: "0xbbb",
		"event_name":             "Sync",
		"amount":                 huge,
		"price":                  nil,
		"flag":                   false,
		"pair":                   nil,
	})
	return table
}

func assertSampleTable(t *testing.T, got *model.Table) {
	t.Helper()
	want := sampleTable()
	require.Equal(t, want.Columns, got.Columns)
	require.Equal(t, 2, got.Len())

	last, ok := got.LastBlockNumber()
	require.True(t, ok)
	assert.Equal(t, uint64(101), last)

	assert.Equal(t, "0xaaa", got.Rows[0][model.ColTransactionHash])
	assert.Equal(t, "Transfer", got.Rows[0]["event_name"])
	assert.Equal(t, 1.5, got.Rows[0]["price"])
	assert.Equal(t, true, got.Rows[0]["flag"])
	assert.Equal(t, false, got.Rows[1]["flag"])
	assert.Nil(t, got.Rows[1]["price"])
	assert.Nil(t, got.Rows[0]["note"])
	assert.Equal(t, []any{"0x1", "0x2"}, got.Rows[0]["pair"])

	for i, row := range want.Rows {
		wantAmount := row["amount"].(*big.Int)
		gotAmount, ok := got.Rows[i]["amount"].(*big.Int)
		require.True(t, ok, "amount should load as *big.Int, got %T", got.Rows[i]["amount"])
		assert.Zero(t, wantAmount.Cmp(gotAmount))
	}
}

func TestParquetStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.parquet")
	store := NewParquetStore(path)

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(sampleTable()))

	got, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assertSampleTable(t, got)

	assert.Equal(t, uint64(100), got.Rows[0][model.ColBlockNumber])
	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParquetStoreMixedAndNestedColumns(t *testing.T) {
	owner := "0xD0638b91bC6B301A0eEF5A109ED11cb30ed13bCE"
	table := model.NewTable(model.ColBlockNumber, model.ColEventName, "value", "ratio", "counter", "pos")
	// two events share "value" with different ABI types
	table.AppendRow(model.Row{
		model.ColBlockNumber: uint64(7),
		model.ColEventName:   "Deposit",
		"value":              big.NewInt(5),
		"ratio":              int64(2),
		"counter":            int64(-1),
		"pos":                map[string]any{"amountIn": big.NewInt(7), "owner": owner},
	})
	table.AppendRow(model.Row{
		model.ColBlockNumber: uint64(8),
		model.ColEventName:   "Tagged",
		"value":              "0xabc",
		"ratio":              0.5,
		"counter":            uint64(18446744073709551615),
		"pos":                nil,
	})

	assert.Equal(t, kindJSON, inferKind(table, "value"))
	assert.Equal(t, kindDouble, inferKind(table, "ratio"))
	assert.Equal(t, kindBigInt, inferKind(table, "counter"))
	assert.Equal(t, kindJSON, inferKind(table, "pos"))

	store := NewParquetStore(filepath.Join(t.TempDir(), "mixed.parquet"))
	require.NoError(t, store.Save(table))
	got, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, table.Columns, got.Columns)
	require.Equal(t, 2, got.Len())

	assert.Equal(t, int64(5), got.Rows[0]["value"])
	assert.Equal(t, "0xabc", got.Rows[1]["value"])
	assert.Equal(t, 2.0, got.Rows[0]["ratio"])
	assert.Equal(t, 0.5, got.Rows[1]["ratio"])

	small, ok := got.Rows[0]["counter"].(*big.Int)
	require.True(t, ok, "counter should load as *big.Int, got %T", got.Rows[0]["counter"])
	assert.Equal(t, int64(-1), small.Int64())
	large, ok := got.Rows[1]["counter"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, "18446744073709551615", large.String())

	assert.Equal(t, map[string]any{"amountIn": int64(7), "owner": owner}, got.Rows[0]["pos"])
	assert.Nil(t, got.Rows[1]["pos"])
}

func TestJSONLStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	store := NewJSONLStore(path)

	require.NoError(t, store.Save(sampleTable()))

	got, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleTable().Columns, got.Columns)

	// json numbers reload as the narrowest integer type
	assert.Equal(t, int64(100), got.Rows[0][model.ColBlockNumber])
	assert.Equal(t, int64(42), got.Rows[0]["amount"])
	huge, ok := got.Rows[1]["amount"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, 256, huge.BitLen())
	assert.Equal(t, 1.5, got.Rows[0]["price"])
	assert.Equal(t, []any{"0x1", "0x2"}, got.Rows[0]["pair"])
}

func TestJSONLStoreKeepsIntegralFloats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	store := NewJSONLStore(path)

	table := model.NewTable("amount")
	table.AppendRow(model.Row{"amount": 1.0})
	require.NoError(t, store.Save(table))

	got, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Rows[0]["amount"])
}

func TestWriteFileAtomicKeepsTargetOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o644))

	boom := errors.New("boom")
	err := WriteFileAtomic(path, func(w io.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenInfersFormat(t *testing.T) {
	store, err := Open("data/pair.parquet", "")
	require.NoError(t, err)
	assert.IsType(t, &ParquetStore{}, store)

	store, err = Open("data/pair.jsonl", "")
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, store)

	store, err = Open("data/pair.out", FormatJSONL)
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, store)

	_, err = Open("data/pair.csv", "csv")
	require.Error(t, err)
	_, err = Open("", "")
	require.Error(t, err)
}

func TestLineWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors", "errors.jsonl")
	writer, err := NewLineWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, writer.Write(model.DecodeError{BlockNumber: 7, Error: "unknown event"}))
	require.NoError(t, writer.Write(model.DecodeError{BlockNumber: 8, Error: "malformed"}))
	require.NoError(t, writer.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"block_number":7`)
	assert.Contains(t, lines[1], `"error":"malformed"`)
}
