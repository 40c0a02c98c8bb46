package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"eventscope/internal/config"
	"eventscope/internal/contract"
	"eventscope/internal/decoder"
	"eventscope/internal/model"
	"eventscope/internal/storage"
	"eventscope/internal/storage/postgres"
	"eventscope/internal/units"
)

// RunConfig holds runtime settings shared by every query.
type RunConfig struct {
	BlockSpan uint64
	BatchSize uint64
	Workers   int
	Scale     int
	Format    string
	Policy    decoder.Policy
	Retry     RetryPolicy
}

// Mirror receives decoded rows after they were written to the output file.
// postgres.Store implements it.
type Mirror interface {
	UpsertDecodedLogs(ctx context.Context, logs []postgres.DecodedLog) error
	SaveState(ctx context.Context, name string, block uint64) error
}

// Result summarizes one query cycle.
type Result struct {
	Query     string
	Range     BlockRange
	Fetched   int
	Decoded   int
	Skipped   []model.DecodeError
	Written   bool
	LastBlock uint64
}

// QueryError is the failure of a single query.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Runner fetches, decodes and appends the logs of each query.
type Runner struct {
	cfg      RunConfig
	source   LogSource
	resolver ABIResolver
	abiStore ABIStore
	mirror   Mirror
	logger   *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, source LogSource, resolver ABIResolver, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		source:   source,
		resolver: resolver,
		logger:   logger,
	}
}

// WithABIStore makes the runner write remotely resolved ABIs back.
func (r *Runner) WithABIStore(store ABIStore) *Runner {
	r.abiStore = store
	return r
}

// WithMirror makes the runner copy decoded rows to a mirror.
func (r *Runner) WithMirror(mirror Mirror) *Runner {
	r.mirror = mirror
	return r
}

// RunAll runs one cycle of every query in order. A failing query does not stop
// the others; the returned error joins every QueryError.
func (r *Runner) RunAll(ctx context.Context, queries []config.Query) ([]Result, error) {
	results := make([]Result, 0, len(queries))
	var errs []error
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.RunQuery(ctx, q)
		results = append(results, res)
		if err != nil {
			r.logger.Error("query failed", zap.String("query", q.Name), zap.Error(err))
			errs = append(errs, &QueryError{Query: q.Name, Err: err})
		}
	}
	return results, errors.Join(errs...)
}

// RunQuery runs one cycle of a query: resolve the ABI, resume after the last
// covered block, fetch block windows until one yields decoded rows or the
// chain head is reached, normalize the new rows and replace the output with
// old and new rows. The output is only written when new rows were decoded;
// the scan position is kept in a checkpoint file next to it.
func (r *Runner) RunQuery(ctx context.Context, q config.Query) (Result, error) {
	res := Result{Query: q.Name}
	if err := r.validate(); err != nil {
		return res, err
	}
	logger := r.logger.With(zap.String("query", q.Name), zap.String("contract", q.ContractAddress))

	address, err := ParseAddress(q.ContractAddress)
	if err != nil {
		return res, err
	}

	abiJSON, err := r.resolver.Resolve(ctx, q.ContractAddress, q.ABI)
	if err != nil {
		return res, fmt.Errorf("resolve abi: %w", err)
	}
	if !q.HasABI() && r.abiStore != nil {
		if err := r.abiStore.PersistResolvedABI(q.Name, abiJSON); err != nil {
			logger.Warn("persist resolved abi failed", zap.Error(err))
		} else {
			logger.Info("persisted resolved abi")
		}
	}

	parsed, err := contract.ParseABI(abiJSON)
	if err != nil {
		return res, &contract.ParseError{Address: q.ContractAddress, Err: err}
	}
	dec, err := decoder.New(parsed)
	if err != nil {
		return res, err
	}
	topic0, err := eventTopics(dec, q.Events)
	if err != nil {
		return res, err
	}

	format := q.Format
	if format == "" {
		format = r.cfg.Format
	}
	store, err := storage.Open(q.OutputPath, format)
	if err != nil {
		return res, err
	}
	existing, stored, err := store.Load()
	if err != nil {
		return res, fmt.Errorf("load output: %w", err)
	}
	var lastStored *uint64
	if stored && existing.Len() > 0 {
		last, ok := existing.LastBlockNumber()
		if !ok {
			return res, fmt.Errorf("output %s: last row has no usable block_number", store.Path())
		}
		lastStored = &last
	}

	checkpoints := NewCheckpointStore(CheckpointPath(store.Path()))
	covered, err := r.coveredBlock(checkpoints, lastStored, logger)
	if err != nil {
		return res, err
	}

	latest, err := withRetry(ctx, r.cfg.Retry, logger, "latest block", r.source.LatestBlockNumber)
	if err != nil {
		return res, fmt.Errorf("get latest block: %w", err)
	}
	window, ok := PlanRange(covered, q.FromBlock, r.cfg.BlockSpan, latest)
	if !ok {
		logger.Info("nothing to sync", zap.Uint64("latest", latest))
		return res, nil
	}
	res.Range = window

	chainID, err := withRetry(ctx, r.cfg.Retry, logger, "chain id", r.source.ChainID)
	if err != nil {
		return res, fmt.Errorf("get chain id: %w", err)
	}

	// windows without decodable rows are passed over until one has rows or the
	// chain head is reached
	var batch decoder.BatchResult
	for {
		logger.Info("fetch logs", zap.Uint64("from", window.From), zap.Uint64("to", window.To))
		rawLogs, err := r.fetch(ctx, logger, chainID, address, topic0, window)
		if err != nil {
			return res, err
		}
		res.Range.To = window.To
		res.Fetched += len(rawLogs)

		if len(rawLogs) > 0 {
			batch, err = dec.DecodeBatch(ctx, rawLogs, decoder.BatchOptions{Policy: r.cfg.Policy, Workers: r.cfg.Workers})
			if err != nil {
				return res, fmt.Errorf("decode: %w", err)
			}
			res.Skipped = append(res.Skipped, batch.Skipped...)
			if batch.Table.Len() > 0 {
				break
			}
		}

		if window.To >= latest {
			logger.Info("no events found", zap.Uint64("from", res.Range.From), zap.Uint64("to", res.Range.To))
			if len(res.Skipped) > 0 {
				logger.Warn("skipped undecodable logs", zap.Int("count", len(res.Skipped)))
			}
			r.saveCheckpoint(checkpoints, res.Range.To, lastStored, logger)
			return res, nil
		}
		next := window.To
		window, _ = PlanRange(&next, 0, r.cfg.BlockSpan, latest)
	}
	if len(res.Skipped) > 0 {
		logger.Warn("skipped undecodable logs", zap.Int("count", len(res.Skipped)))
	}

	if err := units.Normalize(batch.Table, q.NormalizeFields, q.ScaleOr(r.cfg.Scale)); err != nil {
		return res, fmt.Errorf("normalize: %w", err)
	}
	res.Decoded = batch.Table.Len()

	out := batch.Table
	if stored {
		existing.Append(batch.Table)
		out = existing
	}
	if err := store.Save(out); err != nil {
		return res, fmt.Errorf("save output: %w", err)
	}
	res.Written = true
	res.LastBlock, _ = out.LastBlockNumber()
	lastBlock := res.LastBlock
	r.saveCheckpoint(checkpoints, res.Range.To, &lastBlock, logger)

	if r.mirror != nil {
		if err := r.mirrorRows(ctx, q.Name, batch.Table, res.LastBlock); err != nil {
			return res, fmt.Errorf("mirror: %w", err)
		}
	}

	logger.Info("query complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("decoded", res.Decoded),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("rows", out.Len()),
		zap.Uint64("last_block", res.LastBlock),
	)
	return res, nil
}

// coveredBlock returns the last block already handled for a query: the
// checkpoint when it still describes the current output, else the last stored
// block.
func (r *Runner) coveredBlock(checkpoints *CheckpointStore, lastStored *uint64, logger *zap.Logger) (*uint64, error) {
	cp, ok, err := checkpoints.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return lastStored, nil
	}
	if !cp.Matches(lastStored) {
		logger.Warn("ignoring stale checkpoint", zap.String("path", checkpoints.Path()), zap.Uint64("last_scanned", cp.LastScannedBlock))
		return lastStored, nil
	}
	if lastStored != nil && cp.LastScannedBlock < *lastStored {
		return lastStored, nil
	}
	scanned := cp.LastScannedBlock
	logger.Debug("resume from checkpoint", zap.Uint64("last_scanned", scanned))
	return &scanned, nil
}

// saveCheckpoint only logs failures; a lost checkpoint means the next cycle
// scans the same empty windows again.
func (r *Runner) saveCheckpoint(checkpoints *CheckpointStore, scanned uint64, outputLast *uint64, logger *zap.Logger) {
	if err := checkpoints.Save(scanned, outputLast); err != nil {
		logger.Warn("save checkpoint failed", zap.String("path", checkpoints.Path()), zap.Error(err))
	}
}

func (r *Runner) validate() error {
	if r.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.resolver == nil {
		return fmt.Errorf("abi resolver is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.BlockSpan == 0 {
		return fmt.Errorf("block span must be greater than zero")
	}
	return nil
}

func (r *Runner) fetch(
	ctx context.Context,
	logger *zap.Logger,
	chainID uint64,
	address common.Address,
	topic0 []common.Hash,
	blockRange BlockRange,
) ([]model.RawLog, error) {
	ranges, err := SplitRange(blockRange.From, blockRange.To, r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var rows []model.RawLog
	for _, chunk := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logs, err := withRetry(ctx, r.cfg.Retry, logger, "filter logs", func(ctx context.Context) ([]types.Log, error) {
			return r.source.FilterLogs(ctx, chunk.From, chunk.To, []common.Address{address}, topic0)
		})
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", chunk.From, chunk.To, err)
		}
		logger.Debug("fetched logs", zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To), zap.Int("logs", len(logs)))

		for _, log := range logs {
			if log.Removed {
				continue
			}
			id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			blockNumber := log.BlockNumber
			ts, err := withRetry(ctx, r.cfg.Retry, logger, "block timestamp", func(ctx context.Context) (uint64, error) {
				return r.source.BlockTimestamp(ctx, blockNumber)
			})
			if err != nil {
				return nil, fmt.Errorf("block timestamp %d: %w", blockNumber, err)
			}
			rows = append(rows, buildRawLog(chainID, log, ts))
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].BlockNumber != rows[j].BlockNumber {
			return rows[i].BlockNumber < rows[j].BlockNumber
		}
		return rows[i].LogIndex < rows[j].LogIndex
	})
	return rows, nil
}

func (r *Runner) mirrorRows(ctx context.Context, name string, table *model.Table, lastBlock uint64) error {
	logs := make([]postgres.DecodedLog, 0, table.Len())
	for _, row := range table.Rows {
		l, err := postgres.DecodedLogFromRow(row)
		if err != nil {
			return err
		}
		logs = append(logs, l)
	}
	if err := r.mirror.UpsertDecodedLogs(ctx, logs); err != nil {
		return err
	}
	return r.mirror.SaveState(ctx, name, lastBlock)
}

// eventTopics maps event names to the topic0 filter of the fetch.
func eventTopics(dec *decoder.Decoder, names []string) ([]common.Hash, error) {
	if len(names) == 0 {
		return nil, nil
	}
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		desc, err := dec.Index().ByName(name)
		if err != nil {
			return nil, err
		}
		if desc.Anonymous {
			return nil, fmt.Errorf("event %s is anonymous and cannot be filtered by topic0", name)
		}
		topics = append(topics, desc.ID)
	}
	return topics, nil
}
