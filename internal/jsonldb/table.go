// Package jsonldb provides a concurrent-safe, JSONL-backed table store.
//
// # Overview
//
// A [Table] stores rows in a JSONL (JSON Lines) file with full in-memory
// caching. Tables are safe for concurrent use by multiple goroutines.
//
// # File Format
//
// Line 1 is the schema header: the format version and the ordered list of
// columns. Subsequent lines are JSON rows. Rows are sorted by ID on load if out
// of order (handles manual edits).
package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

var errSchemaVersionRequired = errors.New("schema version is required")

// currentVersion is the current version of the JSONL table format.
const currentVersion = "1.0"

// Column is a table column. Type is opaque to this package.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// schemaHeader is the first line of a JSONL data file.
type schemaHeader struct {
	Version string   `json:"version"`
	Columns []Column `json:"columns"`
}

// Validate checks that the schema header is well-formed.
func (h *schemaHeader) Validate() error {
	if h.Version == "" {
		return errSchemaVersionRequired
	}
	seen := make(map[string]bool, len(h.Columns))
	for i, col := range h.Columns {
		if col.Name == "" {
			return fmt.Errorf("column %d: name is required", i)
		}
		if col.Type == "" {
			return fmt.Errorf("column %d: type is required", i)
		}
		if seen[col.Name] {
			return fmt.Errorf("column %d: duplicate name %q", i, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// Row is implemented by the types stored in a Table.
type Row[T any] interface {
	Clone() T
	GetID() int64
}

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T Row[T]] struct {
	path string
	mu   sync.RWMutex

	columns []Column
	rows    []T
}

// NewTable opens the table at path, creating it with columns when the file
// does not exist. When it exists, columns missing from the stored header are
// added.
func NewTable[T Row[T]](path string, columns []Column) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	table := &Table[T]{path: path}
	created, err := table.load()
	if err != nil {
		return nil, err
	}
	if created {
		table.columns = slices.Clone(columns)
		if err := table.rewrite(table.rows); err != nil {
			return nil, err
		}
		return table, nil
	}
	if err := table.AddColumns(columns...); err != nil {
		return nil, err
	}
	return table, nil
}

// load reads the file. It returns true when the file does not exist.
func (t *Table[T]) load() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = []T{}
			return true, nil
		}
		return false, fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	header := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if header {
			header = false
			var h schemaHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return false, fmt.Errorf("failed to unmarshal schema header in %s: %w", t.path, err)
			}
			if err := h.Validate(); err != nil {
				return false, fmt.Errorf("invalid schema header in %s: %w", t.path, err)
			}
			t.columns = h.Columns
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return false, fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}
	if header {
		return false, fmt.Errorf("table file %s has no schema header", t.path)
	}
	if !slices.IsSortedFunc(rows, compareID[T]) {
		slices.SortStableFunc(rows, compareID[T])
	}
	if rows == nil {
		rows = []T{}
	}
	t.rows = rows
	return false, nil
}

func compareID[T Row[T]](a, b T) int {
	x, y := a.GetID(), b.GetID()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Path returns the file path.
func (t *Table[T]) Path() string {
	return t.path
}

// Columns returns the columns in header order.
func (t *Table[T]) Columns() []Column {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.columns)
}

// AddColumns appends the columns not already present and persists the header.
// A column present with a different type is an error.
func (t *Table[T]) AddColumns(columns ...Column) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := slices.Clone(t.columns)
	for _, c := range columns {
		i := slices.IndexFunc(next, func(e Column) bool { return e.Name == c.Name })
		if i < 0 {
			next = append(next, c)
			continue
		}
		if next[i].Type != c.Type {
			return fmt.Errorf("column %q in %s has type %s, not %s", c.Name, t.path, next[i].Type, c.Type)
		}
	}
	if len(next) == len(t.columns) {
		return nil
	}
	prev := t.columns
	t.columns = next
	if err := t.rewrite(t.rows); err != nil {
		t.columns = prev
		return err
	}
	return nil
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Last returns a clone of the row with the largest ID, or false if empty.
func (t *Table[T]) Last() (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		var zero T
		return zero, false
	}
	return t.rows[len(t.rows)-1].Clone(), true
}

// All returns an iterator over clones of all rows in ID order.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// Append adds rows to the table and persists them. IDs must be larger than
// every ID already stored.
func (t *Table[T]) Append(rows ...T) error {
	if len(rows) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	last := int64(0)
	if len(t.rows) != 0 {
		last = t.rows[len(t.rows)-1].GetID()
	}
	var buf []byte
	for _, row := range rows {
		id := row.GetID()
		if id <= last {
			return fmt.Errorf("row id %d is not larger than %d in %s", id, last, t.path)
		}
		last = id
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G302: data files are not secret
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat table file: %w", err)
	}
	if err := appendLines(f, st.Size(), buf); err != nil {
		return err
	}
	for _, row := range rows {
		t.rows = append(t.rows, row.Clone())
	}
	return nil
}

type truncateWriter interface {
	io.Writer
	Truncate(size int64) error
}

// appendLines writes buf at the end of f, whose length is size. On failure
// f is cut back to size so no partial line is left behind.
func appendLines(f truncateWriter, size int64, buf []byte) error {
	if _, err := f.Write(buf); err != nil {
		if err2 := f.Truncate(size); err2 != nil {
			return fmt.Errorf("failed to write rows: %w (truncate: %w)", err, err2)
		}
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// DeleteFunc removes the rows for which del returns true and persists the
// table. It returns the number of removed rows.
func (t *Table[T]) DeleteFunc(del func(T) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		if !del(row) {
			kept = append(kept, row)
		}
	}
	n := len(t.rows) - len(kept)
	if n == 0 {
		return 0, nil
	}
	if err := t.rewrite(kept); err != nil {
		return 0, err
	}
	t.rows = kept
	return n, nil
}

// rewrite atomically replaces the file with the header and rows. The caller
// must hold the write lock.
func (t *Table[T]) rewrite(rows []T) error {
	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	writer := bufio.NewWriter(tmp)
	enc := json.NewEncoder(writer)
	if err := enc.Encode(schemaHeader{Version: currentVersion, Columns: t.columns}); err != nil {
		return fmt.Errorf("failed to write schema header: %w", err)
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close table file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("failed to replace table file: %w", err)
	}
	return nil
}
