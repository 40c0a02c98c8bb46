package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"eventscope/internal/contract"
	"eventscope/internal/storage"
)

// Query describes one contract to collect.
type Query struct {
	Name            string          `json:"-"`
	ContractAddress string          `json:"contract_address"`
	ABI             json.RawMessage `json:"abi"`
	OutputPath      string          `json:"output_path"`
	FromBlock       uint64          `json:"from_block,omitempty"`
	NormalizeFields []string        `json:"normalize_fields,omitempty"`
	Scale           *int            `json:"scale,omitempty"`
	Format          string          `json:"format,omitempty"`
	// Events restricts the fetch to these event names. Empty means all logs of
	// the contract.
	Events []string `json:"events,omitempty"`
}

// HasABI reports whether the query carries its own ABI.
func (q Query) HasABI() bool {
	return !contract.IsEmptyABI(q.ABI)
}

// ScaleOr returns the query scale, or def when the query does not set one.
func (q Query) ScaleOr(def int) int {
	if q.Scale == nil {
		return def
	}
	return *q.Scale
}

// QueryFile is the query descriptor file: a JSON object keyed by query name.
// Query order follows the file.
type QueryFile struct {
	path string

	mu      sync.Mutex
	names   []string
	entries map[string]map[string]json.RawMessage
	queries map[string]Query
}

// LoadQueries reads and validates a query descriptor file.
func LoadQueries(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	qf, err := ParseQueries(data)
	if err != nil {
		return nil, err
	}
	qf.path = path
	return qf, nil
}

// ParseQueries parses a query descriptor document.
func ParseQueries(data []byte) (*QueryFile, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, &ValidationError{Source: "queries", Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &ValidationError{Source: "queries", Err: errors.New("expected a JSON object keyed by query name")}
	}

	qf := &QueryFile{
		entries: make(map[string]map[string]json.RawMessage),
		queries: make(map[string]Query),
	}
	var issues []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ValidationError{Source: "queries", Err: err}
		}
		name, _ := tok.(string)

		var entry map[string]json.RawMessage
		if err := dec.Decode(&entry); err != nil {
			return nil, &ValidationError{Source: "queries", Err: fmt.Errorf("query %s: %w", name, err)}
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		var q Query
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, &ValidationError{Source: "queries", Err: fmt.Errorf("query %s: %w", name, err)}
		}
		q.Name = name
		if q.HasABI() {
			normalized, err := contract.NormalizeABI(q.ABI)
			if err != nil {
				issues = append(issues, fmt.Sprintf("%s: abi: %v", name, err))
			}
			q.ABI = normalized
		}
		issues = append(issues, validateQuery(q)...)

		if _, dup := qf.queries[name]; !dup {
			qf.names = append(qf.names, name)
		}
		qf.entries[name] = entry
		qf.queries[name] = q
	}
	if _, err := dec.Token(); err != nil {
		return nil, &ValidationError{Source: "queries", Err: err}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Source: "queries", Issues: issues}
	}
	return qf, nil
}

func validateQuery(q Query) []string {
	var issues []string
	if !common.IsHexAddress(strings.TrimSpace(q.ContractAddress)) {
		issues = append(issues, fmt.Sprintf("%s: invalid contract_address %q", q.Name, q.ContractAddress))
	}
	if strings.TrimSpace(q.OutputPath) == "" {
		issues = append(issues, fmt.Sprintf("%s: output_path is required", q.Name))
	}
	if q.Scale != nil && *q.Scale < 0 {
		issues = append(issues, fmt.Sprintf("%s: scale must be >= 0", q.Name))
	}
	switch strings.ToLower(q.Format) {
	case "", storage.FormatParquet, storage.FormatJSONL:
	default:
		issues = append(issues, fmt.Sprintf("%s: unsupported format %q", q.Name, q.Format))
	}
	return issues
}

// Path returns the file the queries were loaded from.
func (f *QueryFile) Path() string {
	return f.path
}

// Names returns the query names in file order.
func (f *QueryFile) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Get returns a query by name.
func (f *QueryFile) Get(name string) (Query, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queries[name]
	return q, ok
}

// Queries returns every query in file order.
func (f *QueryFile) Queries() []Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Query, 0, len(f.names))
	for _, name := range f.names {
		out = append(out, f.queries[name])
	}
	return out
}

// PersistResolvedABI stores a resolved ABI on a query and rewrites the file
// atomically. Other fields of the entry are kept as they were.
func (f *QueryFile) PersistResolvedABI(name string, abiJSON json.RawMessage) error {
	normalized, err := contract.NormalizeABI(abiJSON)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[name]
	if !ok {
		return fmt.Errorf("unknown query %q", name)
	}
	entry["abi"] = normalized
	q := f.queries[name]
	q.ABI = normalized
	f.queries[name] = q

	if f.path == "" {
		return nil
	}
	return storage.WriteFileAtomic(f.path, f.encode)
}

func (f *QueryFile) encode(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, name := range f.names {
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		value, err := json.MarshalIndent(f.entries[name], "  ", "  ")
		if err != nil {
			return fmt.Errorf("marshal query %s: %w", name, err)
		}
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(value)
		if i < len(f.names)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	_, err := w.Write(buf.Bytes())
	return err
}
