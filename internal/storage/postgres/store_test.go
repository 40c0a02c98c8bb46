package postgres

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventscope/internal/model"
)

func TestDecodedLogFromRow(t *testing.T) {
	row := model.Row{
		model.ColChainID:         uint64(1),
		model.ColBlockNumber:     uint64(17855654),
		model.ColTransactionHash: "0xabc",
		model.ColLogIndex:        int64(4),
		model.ColContractAddress: "0xD0638b91bC6B301A0eEF5A109ED11cb30ed13bCE",
		model.ColTopic0:          "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		model.ColData:            "0x",
		model.ColTimestamp:       uint64(1_700_000_000),
		model.ColEventName:       "Transfer",
		"from":                   "0x2222222222222222222222222222222222222222",
		"amount":                 big.NewInt(1000),
		"arg_data":               1.5,
	}

	got, err := DecodedLogFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.ChainID)
	assert.Equal(t, uint64(17855654), got.BlockNumber)
	assert.Equal(t, uint64(4), got.LogIndex)
	assert.Equal(t, "Transfer", got.EventName)
	require.NotNil(t, got.Timestamp)
	assert.Equal(t, uint64(1_700_000_000), *got.Timestamp)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(got.Fields, &fields))
	assert.Len(t, fields, 3)
	assert.Equal(t, float64(1000), fields["amount"])
	assert.Contains(t, fields, "arg_data")
	assert.NotContains(t, fields, model.ColTopic0)
}

func TestDecodedLogFromRowRequiresKey(t *testing.T) {
	_, err := DecodedLogFromRow(model.Row{model.ColChainID: uint64(1), model.ColBlockNumber: uint64(1)})
	require.Error(t, err)
}

// Runs against a live database when EVENTSCOPE_TEST_PG_DSN is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("EVENTSCOPE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("EVENTSCOPE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	require.NoError(t, store.SaveState(ctx, "test-query", 120))
	var block int64
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT last_block FROM collector_state WHERE name=$1`, "test-query").Scan(&block))
	assert.Equal(t, int64(120), block)

	log := DecodedLog{
		ChainID:         1,
		ContractAddress: "0x1",
		BlockNumber:     120,
		TransactionHash: "0xtest",
		LogIndex:        0,
		EventName:       "Sync",
		Fields:          json.RawMessage(`{"reserve0": 1}`),
	}
	require.NoError(t, store.UpsertDecodedLogs(ctx, []DecodedLog{log, log}))
}
