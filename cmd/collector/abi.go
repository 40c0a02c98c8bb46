package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventscope/internal/config"
	"eventscope/internal/contract"
)

func runABI(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadABI(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address := cfg.Address
	var local json.RawMessage
	var queries *config.QueryFile
	if cfg.Query != "" {
		queries, err = config.LoadQueries(cfg.QueriesPath)
		if err != nil {
			return err
		}
		q, ok := queries.Get(cfg.Query)
		if !ok {
			return fmt.Errorf("query %q not found in %s", cfg.Query, queries.Path())
		}
		address = q.ContractAddress
		local = q.ABI
	}

	resolver := contract.NewResolver(contract.ResolverConfig{
		Endpoint: cfg.ABIEndpoint,
		APIKey:   cfg.ABIAPIKey,
		Timeout:  cfg.HTTPTimeout,
	}, logger)

	resolved, err := resolver.Resolve(ctx, address, local)
	if err != nil {
		return err
	}
	parsed, err := contract.ParseABI(resolved)
	if err != nil {
		return &contract.ParseError{Address: address, Err: err}
	}

	if err := printEvents(cmd.OutOrStdout(), contract.EventDescriptors(parsed)); err != nil {
		return err
	}

	if cfg.Persist && contract.IsEmptyABI(local) {
		if err := queries.PersistResolvedABI(cfg.Query, resolved); err != nil {
			return fmt.Errorf("persist abi: %w", err)
		}
		logger.Info("abi persisted", zap.String("query", cfg.Query), zap.String("path", queries.Path()))
	}
	return nil
}

func printEvents(w io.Writer, events []contract.EventDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tTOPIC0\tINDEXED")
	for _, ev := range events {
		topic0 := ev.ID.Hex()
		if ev.Anonymous {
			topic0 = "(anonymous)"
		}
		var indexed []string
		for _, p := range ev.Params {
			if p.Indexed {
				indexed = append(indexed, p.Name)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ev.Signature, topic0, strings.Join(indexed, ","))
	}
	return tw.Flush()
}
