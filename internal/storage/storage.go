package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"eventscope/internal/model"
)

// Supported table formats.
const (
	FormatParquet = "parquet"
	FormatJSONL   = "jsonl"
)

// TableStore persists one output table. Save replaces the stored table as a
// whole; a reader never observes a partially written file.
type TableStore interface {
	// Load returns the stored table. ok is false when nothing has been stored
	// yet.
	Load() (table *model.Table, ok bool, err error)
	Save(table *model.Table) error
	Path() string
}

// Open returns the store for path. An empty format is inferred from the file
// extension and defaults to Parquet.
func Open(path, format string) (TableStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if format == "" {
		format = FormatFromPath(path)
	}
	switch strings.ToLower(format) {
	case FormatParquet:
		return NewParquetStore(path), nil
	case FormatJSONL:
		return NewJSONLStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// FormatFromPath guesses the table format from a file extension.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatParquet
	}
}
