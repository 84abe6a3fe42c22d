// Package dataset loads delimited tables from disk into typed, string-rendered
// columns that the profiler can iterate without caring about file formats.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrDuplicateColumn is returned when a file header repeats a column name.
var ErrDuplicateColumn = errors.New("duplicate column")

// Table is a named dataset with an ordered set of columns.
type Table struct {
	Name    string
	Rows    int
	Columns []Column
}

// Column holds one column's values rendered as strings. Missing[i] reports
// whether the i-th cell was empty or a recognised null marker; the rendered
// value of a missing cell is "".
type Column struct {
	Name    string
	DType   string
	Values  []string
	Missing []bool
}

// Len returns the number of rows in the column.
func (c Column) Len() int { return len(c.Values) }

// LoadDir reads every *.csv file in dir except glossaryFile (matched
// case-insensitively) and returns the tables sorted by file name. The table
// name is the file name without its extension.
func LoadDir(dir, glossaryFile string) ([]Table, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var tables []Table
	for _, p := range paths {
		if strings.EqualFold(filepath.Base(p), glossaryFile) {
			continue
		}
		t, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// LoadFile reads a single CSV file into a Table. Column names must be unique.
func LoadFile(path string) (Table, error) {
	header, rows, err := ReadCSV(path)
	if err != nil {
		return Table{}, err
	}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return Table{}, fmt.Errorf("%s: %w %q", path, ErrDuplicateColumn, h)
		}
		seen[h] = true
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return FromRecords(name, header, rows), nil
}

// ReadCSV returns the header and data rows of a comma-separated file. Rows
// shorter than the header are padded with empty cells; longer rows are cut.
func ReadCSV(path string) ([]string, [][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parsing header of %s: %w", path, err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}
	return header, rows, nil
}

// ReadRecords reads a CSV file as a slice of header-keyed maps. Header names
// are lower-cased and trimmed so lookups are case-insensitive.
func ReadRecords(path string) ([]map[string]string, error) {
	header, rows, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = strings.ToLower(strings.TrimSpace(h))
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]string, len(keys))
		for i, k := range keys {
			rec[k] = row[i]
		}
		out = append(out, rec)
	}
	return out, nil
}

// FromRecords builds a Table from a header and raw string rows, inferring a
// type per column.
func FromRecords(name string, header []string, rows [][]string) Table {
	t := Table{Name: name, Rows: len(rows), Columns: make([]Column, len(header))}
	raw := make([]string, len(rows))
	for j, h := range header {
		for i, row := range rows {
			if j < len(row) {
				raw[i] = row[j]
			} else {
				raw[i] = ""
			}
		}
		t.Columns[j] = NewColumn(h, raw)
	}
	return t
}
