package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eventscope/internal/config"
	"eventscope/internal/contract"
	"eventscope/internal/decoder"
	"eventscope/internal/model"
	"eventscope/internal/storage"
	"eventscope/internal/units"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
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

	rawABI, err := os.ReadFile(cfg.ABIPath)
	if err != nil {
		return fmt.Errorf("read abi: %w", err)
	}
	parsed, err := contract.ParseABI(rawABI)
	if err != nil {
		return fmt.Errorf("parse abi %s: %w", cfg.ABIPath, err)
	}
	dec, err := decoder.New(parsed)
	if err != nil {
		return err
	}

	out, err := storage.Open(cfg.Out, cfg.Format)
	if err != nil {
		return err
	}

	var errWriter *storage.LineWriter
	if cfg.Errors != "" {
		errWriter, err = storage.NewLineWriter(cfg.Errors, false)
		if err != nil {
			return err
		}
		defer errWriter.Close()
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("decode start",
		zap.String("abi", cfg.ABIPath),
		zap.String("in", cfg.In),
		zap.String("out", out.Path()),
		zap.String("errors", cfg.Errors),
		zap.Int("events", dec.Index().Len()),
		zap.Int("workers", cfg.Workers),
	)

	rows, malformed, err := readRawLogs(inputFile, errWriter)
	if err != nil {
		return err
	}
	if malformed > 0 && errWriter == nil {
		return fmt.Errorf("%d malformed input lines", malformed)
	}

	result, err := dec.DecodeBatch(ctx, rows, decoder.BatchOptions{
		Policy:  decodePolicy(cfg),
		Workers: cfg.Workers,
	})
	if err != nil {
		return err
	}

	for _, skipped := range result.Skipped {
		if errWriter == nil {
			break
		}
		if err := errWriter.Write(skipped); err != nil {
			return err
		}
	}

	if err := units.Normalize(result.Table, cfg.NormalizeFields, cfg.Scale); err != nil {
		return err
	}
	if err := out.Save(result.Table); err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", len(rows)+malformed),
		zap.Int("decoded", result.Table.Len()),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("malformed", malformed),
	)
	return nil
}

// decodePolicy skips unknown events on request; an errors file turns every
// row failure into an error record instead of aborting.
func decodePolicy(cfg config.DecodeConfig) decoder.Policy {
	switch {
	case cfg.Errors != "":
		return decoder.SkipFailed
	case cfg.SkipUnknown:
		return decoder.SkipUnknown
	default:
		return decoder.FailFast
	}
}

// readRawLogs scans JSONL raw logs. Lines that do not parse are counted and
// written to errWriter when it is set.
func readRawLogs(r io.Reader, errWriter *storage.LineWriter) ([]model.RawLog, int, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var rows []model.RawLog
	var malformed int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var row model.RawLog
		if err := json.Unmarshal(line, &row); err != nil {
			malformed++
			if errWriter != nil {
				if werr := errWriter.Write(model.DecodeError{Error: err.Error()}); werr != nil {
					return nil, malformed, werr
				}
			}
			continue
		}
		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, malformed, fmt.Errorf("scan input: %w", err)
	}
	return rows, malformed, nil
}
