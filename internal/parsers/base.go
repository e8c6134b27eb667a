// Package parsers loads the two heterogeneous inputs of the reconciliation
// pipeline: TISS billing XML and itemized payment statements (delimited
// tabular files).
//
// Statement files arrive in three layout tiers, tried in order: the fixed
// AMHP export layout, a previously persisted manual column mapping, and
// heuristic column auto-detection. When all tiers fail the reader reports a
// mapping-required condition so a UI collaborator can capture the
// correspondence and apply it through ApplyMapping.
//
// Billing XML batches recover per file: a malformed document contributes an
// error marker and the remaining files are still extracted.
package parsers

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"tiss-reconciliation-service/pkg/errors"
	"tiss-reconciliation-service/pkg/logger"
)

// FileError records a per-file failure inside a batch operation.
type FileError struct {
	File string `json:"file"`
	Err  error  `json:"-"`
}

// Message returns the error text for reports. BillingItem batches surface
// these as error-marker rows rather than aborting.
func (fe FileError) Message() string {
	if fe.Err == nil {
		return ""
	}
	return fe.Err.Error()
}

// RawTable is a statement file materialized as rows of cells, before any
// layout tier has interpreted it. Rows may have ragged lengths; spreadsheet
// exports frequently carry title and filter rows above the real header.
type RawTable struct {
	Path string
	Rows [][]string
}

// ReadRawTable reads a delimited file into a RawTable.
func ReadRawTable(path string, delimiter rune) (*RawTable, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileUnreadable, path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, err)
		}
		rows = append(rows, record)
	}

	logger.GetGlobalLogger().WithComponent("raw_table").WithFields(logger.Fields{
		"path": path,
		"rows": len(rows),
	}).Debug("Read raw table")

	return &RawTable{Path: path, Rows: rows}, nil
}

// Cell returns the trimmed cell at (row, col), or "" when out of range.
func (t *RawTable) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// headerIndex maps trimmed, non-empty header cells of the given row to their
// column positions. The first occurrence of a duplicated heading wins.
func (t *RawTable) headerIndex(row int) map[string]int {
	index := make(map[string]int)
	if row < 0 || row >= len(t.Rows) {
		return index
	}
	for i, cell := range t.Rows[row] {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		if _, exists := index[name]; !exists {
			index[name] = i
		}
	}
	return index
}

// headers returns the trimmed header cells of the given row, empty cells
// included so positions line up with data columns.
func (t *RawTable) headers(row int) []string {
	if row < 0 || row >= len(t.Rows) {
		return nil
	}
	out := make([]string, len(t.Rows[row]))
	for i, cell := range t.Rows[row] {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

// isEmptyRow reports whether every cell of the record is blank.
func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
