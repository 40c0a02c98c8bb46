package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"eventscope/internal/model"
)

// JSONLStore keeps a table as one JSON object per line. Keys are written in
// column order and read back in first-seen order.
type JSONLStore struct {
	path string
}

func NewJSONLStore(path string) *JSONLStore {
	return &JSONLStore{path: path}
}

func (s *JSONLStore) Path() string {
	return s.path
}

// Load reads the table. Numbers come back as int64, uint64 or *big.Int when
// they are integral, float64 otherwise.
func (s *JSONLStore) Load() (*model.Table, bool, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open table: %w", err)
	}
	defer file.Close()

	table := model.NewTable()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		row, order, err := decodeOrderedObject(line)
		if err != nil {
			return nil, false, fmt.Errorf("%s line %d: %w", s.path, lineNo, err)
		}
		table.AppendRow(row, order...)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("scan table: %w", err)
	}
	return table, true, nil
}

// Save replaces the file with the table contents.
func (s *JSONLStore) Save(table *model.Table) error {
	return WriteFileAtomic(s.path, func(w io.Writer) error {
		for _, row := range table.Rows {
			line, err := encodeOrderedObject(table.Columns, row)
			if err != nil {
				return err
			}
			if _, err := w.Write(line); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		return nil
	})
}

func encodeOrderedObject(columns []string, row model.Row) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(row[col])
		if err != nil {
			return nil, fmt.Errorf("marshal column %s: %w", col, err)
		}
		// keep floats distinguishable from integers on reload
		if _, isFloat := row[col].(float64); isFloat && !bytes.ContainsAny(value, ".eE") {
			value = append(value, ".0"...)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func decodeOrderedObject(line []byte) (model.Row, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object")
	}

	row := make(model.Row)
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", key, err)
		}
		if _, seen := row[key]; !seen {
			order = append(order, key)
		}
		row[key] = fromJSONValue(value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return row, order, nil
}

func fromJSONValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		return fromJSONNumber(v)
	case map[string]any:
		for k, item := range v {
			v[k] = fromJSONValue(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = fromJSONValue(item)
		}
		return v
	default:
		return v
	}
}

func fromJSONNumber(n json.Number) any {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(text, 10, 64); err == nil {
			return u
		}
		if b, ok := new(big.Int).SetString(text, 10); ok {
			return b
		}
	}
	f, err := n.Float64()
	if err != nil {
		return text
	}
	return f
}

// LineWriter appends JSON values to a file, one per line.
type LineWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewLineWriter opens path for writing, truncating it unless appendMode is set.
func NewLineWriter(path string, appendMode bool) (*LineWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &LineWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *LineWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *LineWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
