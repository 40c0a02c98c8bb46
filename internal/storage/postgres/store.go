package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventscope/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decoded_logs (
	chain_id BIGINT NOT NULL,
	contract_address TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	transaction_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	event_name TEXT NOT NULL,
	block_timestamp BIGINT,
	fields JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, transaction_hash, log_index)
);
CREATE INDEX IF NOT EXISTS decoded_logs_contract_block_idx
	ON decoded_logs (contract_address, block_number);
CREATE TABLE IF NOT EXISTS collector_state (
	name TEXT PRIMARY KEY,
	last_block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store mirrors decoded rows and per-query progress into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the mirror tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// DecodedLog is one decoded row as stored in decoded_logs.
type DecodedLog struct {
	ChainID         uint64
	ContractAddress string
	BlockNumber     uint64
	TransactionHash string
	LogIndex        uint64
	EventName       string
	Timestamp       *uint64
	Fields          json.RawMessage
}

// DecodedLogFromRow splits a decoded table row into its key columns and the
// decoded fields, which are kept as a JSON object.
func DecodedLogFromRow(row model.Row) (DecodedLog, error) {
	out := DecodedLog{}
	var ok bool
	if out.ChainID, ok = model.AsUint64(row[model.ColChainID]); !ok {
		return DecodedLog{}, fmt.Errorf("row has no chain_id")
	}
	if out.BlockNumber, ok = model.AsUint64(row[model.ColBlockNumber]); !ok {
		return DecodedLog{}, fmt.Errorf("row has no block_number")
	}
	if out.LogIndex, ok = model.AsUint64(row[model.ColLogIndex]); !ok {
		return DecodedLog{}, fmt.Errorf("row has no log_index")
	}
	out.TransactionHash, _ = row[model.ColTransactionHash].(string)
	if out.TransactionHash == "" {
		return DecodedLog{}, fmt.Errorf("row has no transaction_hash")
	}
	out.ContractAddress, _ = row[model.ColContractAddress].(string)
	out.EventName, _ = row[model.ColEventName].(string)
	if ts, ok := model.AsUint64(row[model.ColTimestamp]); ok && ts > 0 {
		out.Timestamp = &ts
	}

	fields := make(map[string]any)
	for key, value := range row {
		if isRawColumn(key) {
			continue
		}
		fields[key] = value
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return DecodedLog{}, fmt.Errorf("marshal fields: %w", err)
	}
	out.Fields = data
	return out, nil
}

func isRawColumn(name string) bool {
	if name == model.ColEventName {
		return true
	}
	for _, col := range model.RawColumns {
		if col == name {
			return true
		}
	}
	return false
}

// UpsertDecodedLogs inserts or updates decoded rows.
func (s *Store) UpsertDecodedLogs(ctx context.Context, logs []DecodedLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range logs {
		var ts *int64
		if l.Timestamp != nil {
			v := int64(*l.Timestamp)
			ts = &v
		}
		batch.Queue(`
			INSERT INTO decoded_logs (
				chain_id, contract_address, block_number, transaction_hash, log_index,
				event_name, block_timestamp, fields, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			ON CONFLICT (chain_id, transaction_hash, log_index)
			DO UPDATE SET
				contract_address = EXCLUDED.contract_address,
				block_number = EXCLUDED.block_number,
				event_name = EXCLUDED.event_name,
				block_timestamp = EXCLUDED.block_timestamp,
				fields = EXCLUDED.fields,
				updated_at = now()
		`,
			int64(l.ChainID),
			l.ContractAddress,
			int64(l.BlockNumber),
			l.TransactionHash,
			int64(l.LogIndex),
			l.EventName,
			ts,
			string(l.Fields),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range logs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveState upserts the last stored block for a query name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collector_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, name, int64(block))
	return err
}
