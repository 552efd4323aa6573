// Package rows reads raw rows from CSV or JSON-lines input and groups their
// nullable integer values by key.
package rows

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/panbanda/p95agg/pkg/aggregate"
)

// DefaultKey names the single group used when no key column is configured.
const DefaultKey = "*"

// ErrInvalidValue is returned for a value that is neither null nor an integer.
var ErrInvalidValue = errors.New("invalid integer value")

// Format identifies an input encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat converts a string to Format. Empty strings are resolved from
// the path's extension, defaulting to CSV.
func ParseFormat(s, path string) Format {
	switch strings.ToLower(s) {
	case "jsonl", "ndjson", "json":
		return FormatJSONL
	case "csv":
		return FormatCSV
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// Options controls how rows are parsed.
type Options struct {
	Format Format
	// Header indicates the first CSV record names the columns. Without a
	// header, KeyColumn and ValueColumn must be zero-based indexes.
	Header    bool
	Delimiter rune
	// KeyColumn is empty to put every row in DefaultKey.
	KeyColumn   string
	ValueColumn string
	// NullTokens are CSV cell values read as null, compared after trimming.
	NullTokens []string
}

// Grouper accumulates values per key, keeping keys in first-seen order.
type Grouper struct {
	index  map[string]int
	groups []aggregate.Group
}

// NewGrouper creates an empty Grouper.
func NewGrouper() *Grouper {
	return &Grouper{index: make(map[string]int)}
}

// Add appends v to key's group.
func (g *Grouper) Add(key string, v sql.NullInt64) {
	i, ok := g.index[key]
	if !ok {
		i = len(g.groups)
		g.index[key] = i
		g.groups = append(g.groups, aggregate.Group{Key: key})
	}
	g.groups[i].Values = append(g.groups[i].Values, v)
}

// Groups returns the accumulated groups.
func (g *Grouper) Groups() []aggregate.Group {
	return g.groups
}

// Rows returns the total number of values added.
func (g *Grouper) Rows() int {
	n := 0
	for _, grp := range g.groups {
		n += len(grp.Values)
	}
	return n
}

// ReadFile reads and groups the rows of the file at path.
func ReadFile(path string, opts Options) ([]aggregate.Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	groups, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return groups, nil
}

// Read parses all rows from r and groups them.
func Read(r io.Reader, opts Options) ([]aggregate.Group, error) {
	g := NewGrouper()
	var err error
	switch opts.Format {
	case FormatJSONL:
		err = readJSONL(r, opts, g)
	default:
		err = readCSV(r, opts, g)
	}
	if err != nil {
		return nil, err
	}
	return g.Groups(), nil
}

func readCSV(r io.Reader, opts Options, g *Grouper) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}

	keyIdx, valIdx := -1, -1
	if !opts.Header {
		var err error
		if opts.KeyColumn != "" {
			if keyIdx, err = strconv.Atoi(opts.KeyColumn); err != nil || keyIdx < 0 {
				return fmt.Errorf("key column %q must be an index without a header", opts.KeyColumn)
			}
		}
		if valIdx, err = strconv.Atoi(opts.ValueColumn); err != nil || valIdx < 0 {
			return fmt.Errorf("value column %q must be an index without a header", opts.ValueColumn)
		}
	}

	nulls := make(map[string]struct{}, len(opts.NullTokens))
	for _, tok := range opts.NullTokens {
		nulls[strings.TrimSpace(tok)] = struct{}{}
	}

	for first := true; ; first = false {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line, _ := cr.FieldPos(0)

		if first && opts.Header {
			if keyIdx, valIdx, err = columns(record, opts); err != nil {
				return err
			}
			continue
		}

		if valIdx >= len(record) || keyIdx >= len(record) {
			return fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(keyIdx, valIdx)+1, len(record))
		}

		key := DefaultKey
		if keyIdx >= 0 {
			key = record[keyIdx]
		}

		cell := strings.TrimSpace(record[valIdx])
		if _, ok := nulls[cell]; ok {
			g.Add(key, sql.NullInt64{})
			continue
		}
		v, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w: %q", line, ErrInvalidValue, cell)
		}
		g.Add(key, sql.NullInt64{Int64: v, Valid: true})
	}
}

func columns(header []string, opts Options) (int, int, error) {
	keyIdx, valIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(name)
		if opts.KeyColumn != "" && name == opts.KeyColumn {
			keyIdx = i
		}
		if name == opts.ValueColumn {
			valIdx = i
		}
	}
	if opts.KeyColumn != "" && keyIdx < 0 {
		return 0, 0, fmt.Errorf("key column %q not found in header", opts.KeyColumn)
	}
	if valIdx < 0 {
		return 0, 0, fmt.Errorf("value column %q not found in header", opts.ValueColumn)
	}
	return keyIdx, valIdx, nil
}

func readJSONL(r io.Reader, opts Options, g *Grouper) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		key := DefaultKey
		if opts.KeyColumn != "" {
			k, ok := row[opts.KeyColumn]
			if !ok || k == nil {
				return fmt.Errorf("line %d: missing key field %q", line, opts.KeyColumn)
			}
			key = fmt.Sprint(k)
		}

		v, err := jsonValue(row[opts.ValueColumn])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		g.Add(key, v)
	}
	return sc.Err()
}

func jsonValue(v any) (sql.NullInt64, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullInt64{}, nil
	case json.Number:
		n, err := strconv.ParseInt(x.String(), 10, 64)
		if err != nil {
			return sql.NullInt64{}, fmt.Errorf("%w: %s", ErrInvalidValue, x)
		}
		return sql.NullInt64{Int64: n, Valid: true}, nil
	default:
		return sql.NullInt64{}, fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}
}
