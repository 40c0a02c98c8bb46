package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eventscope/internal/chain"
	"eventscope/internal/collector"
	"eventscope/internal/config"
	"eventscope/internal/contract"
	"eventscope/internal/decoder"
	"eventscope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "collector",
		Short:        "Contract event log collector",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, decode and append the next block window of every query",
		RunE:  runCollector,
	}

	runCmd.Flags().String("rpc-url", "", "node RPC URL")
	runCmd.Flags().String("abi-api-key", "", "ABI lookup API key")
	runCmd.Flags().String("abi-endpoint", contract.DefaultEndpoint, "ABI lookup endpoint")
	runCmd.Flags().String("queries", "./cfg/queries.json", "query descriptor file")
	runCmd.Flags().String("schema", "", "config JSON schema file (defaults to the built-in schema)")
	runCmd.Flags().Uint64("block-span", 10, "blocks fetched per query and cycle")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per log request")
	runCmd.Flags().Int("workers", 1, "decode workers")
	runCmd.Flags().Int("scale", 18, "default decimals for normalized fields")
	runCmd.Flags().Duration("http-timeout", 10*time.Second, "ABI lookup timeout")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts for node calls")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN to mirror decoded rows")
	runCmd.Flags().String("format", "", "output format (parquet, jsonl); inferred from the output path when empty")
	runCmd.Flags().Bool("skip-unknown", false, "skip logs whose topic0 is not in the ABI instead of failing")
	runCmd.Flags().Duration("interval", 0, "repeat every interval until interrupted; 0 runs a single cycle")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw log JSONL offline",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("abi", "", "contract ABI JSON file")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/decoded.parquet", "output table (parquet or jsonl)")
	decodeCmd.Flags().String("errors", "", "write undecodable rows to this JSONL file instead of failing")
	decodeCmd.Flags().String("format", "", "output format (parquet, jsonl); inferred from the output path when empty")
	decodeCmd.Flags().Bool("skip-unknown", false, "skip logs whose topic0 is not in the ABI")
	decodeCmd.Flags().StringSlice("normalize", nil, "fields to scale down by 10^scale (comma-separated)")
	decodeCmd.Flags().Int("scale", 18, "decimals for normalized fields")
	decodeCmd.Flags().Int("workers", 1, "decode workers")

	root.AddCommand(decodeCmd)

	abiCmd := &cobra.Command{
		Use:   "abi",
		Short: "Resolve a contract ABI and list its events",
		RunE:  runABI,
	}

	abiCmd.Flags().String("address", "", "contract address")
	abiCmd.Flags().String("query", "", "query name to resolve instead of an address")
	abiCmd.Flags().Bool("persist", false, "write a remotely resolved ABI back to the query file")
	abiCmd.Flags().String("queries", "./cfg/queries.json", "query descriptor file")
	abiCmd.Flags().String("abi-api-key", "", "ABI lookup API key")
	abiCmd.Flags().String("abi-endpoint", contract.DefaultEndpoint, "ABI lookup endpoint")
	abiCmd.Flags().Duration("http-timeout", 10*time.Second, "ABI lookup timeout")

	root.AddCommand(abiCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCollector(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	queries, err := config.LoadQueries(cfg.QueriesPath)
	if err != nil {
		return err
	}
	if len(queries.Names()) == 0 {
		return fmt.Errorf("no queries in %s", cfg.QueriesPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	resolver := contract.NewResolver(contract.ResolverConfig{
		Endpoint: cfg.ABIEndpoint,
		APIKey:   cfg.ABIAPIKey,
		Timeout:  cfg.HTTPTimeout,
	}, logger)

	policy := decoder.FailFast
	if cfg.SkipUnknown {
		policy = decoder.SkipUnknown
	}
	runner := collector.NewRunner(collector.RunConfig{
		BlockSpan: cfg.BlockSpan,
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Scale:     cfg.Scale,
		Format:    cfg.Format,
		Policy:    policy,
		Retry: collector.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		},
	}, chainClient, resolver, logger).WithABIStore(queries)

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
		runner.WithMirror(store)
	}

	logger.Info("collector start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("queries", cfg.QueriesPath),
		zap.Int("query_count", len(queries.Names())),
		zap.Uint64("block_span", cfg.BlockSpan),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.Workers),
		zap.Bool("pg_mirror", cfg.PGDSN != ""),
		zap.Duration("interval", cfg.Interval),
	)

	if cfg.Interval <= 0 {
		_, err := runner.RunAll(ctx, queries.Queries())
		return err
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := runner.RunAll(ctx, queries.Queries()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("cycle finished with errors", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("collector stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
