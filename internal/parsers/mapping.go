package parsers

import (
	"encoding/json"
	"os"
	"regexp"

	"tiss-reconciliation-service/internal/models"
	"tiss-reconciliation-service/internal/normalize"
	"tiss-reconciliation-service/pkg/errors"
)

// Canonical statement field names used by column mappings.
const (
	FieldLot               = "lote"
	FieldPeriod            = "competencia"
	FieldProviderGuide     = "guia_prest"
	FieldPayerGuide        = "guia_oper"
	FieldProcedureCode     = "cod_proc"
	FieldProcedureDesc     = "desc_proc"
	FieldPresentedQuantity = "qtd_apres"
	FieldPaidQuantity      = "qtd_paga"
	FieldPresentedValue    = "val_apres"
	FieldDeniedValue       = "val_glosa"
	FieldPaidValue         = "val_pago"
	FieldReasonCode        = "motivo_cod"
	FieldReasonDesc        = "motivo_desc"
)

// FieldMapping declares which source column feeds each canonical field.
// Fields without a usable column are simply absent.
type FieldMapping map[string]string

// MappingEntry is one persisted mapping: the sheet the user selected (kept
// for spreadsheet sources; empty for plain delimited files) and the
// field-to-column correspondence.
type MappingEntry struct {
	Sheet   string       `json:"sheet"`
	Columns FieldMapping `json:"columns"`
}

// MappingStore persists manual column mappings keyed by statement filename.
// It is an explicit collaborator passed into the statement reader: load a
// snapshot, read mappings during the batch, save after a successful manual
// mapping. Hosts running concurrent sessions synchronize access externally.
type MappingStore struct {
	path    string
	entries map[string]MappingEntry
}

// LoadMappingStore reads the store file. A missing file yields an empty
// store; a corrupt one is an error so saved mappings are not silently lost.
func LoadMappingStore(path string) (*MappingStore, error) {
	store := &MappingStore{path: path, entries: make(map[string]MappingEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, errors.FileError(errors.CodeFileUnreadable, path, err)
	}
	if err := json.Unmarshal(data, &store.entries); err != nil {
		return nil, errors.MappingError(errors.CodeInvalidMapping, path, "mapping store is not valid JSON", err)
	}
	return store, nil
}

// Get returns the persisted mapping for a statement filename.
func (s *MappingStore) Get(filename string) (MappingEntry, bool) {
	entry, ok := s.entries[filename]
	return entry, ok
}

// Put records a mapping for a statement filename.
func (s *MappingStore) Put(filename string, entry MappingEntry) {
	s.entries[filename] = entry
}

// Save writes the store back to its file.
func (s *MappingStore) Save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errors.InternalError("mapping store serialization", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFileUnreadable, s.path, err)
	}
	return nil
}

// fieldDetector associates a canonical field with the patterns that identify
// its column. Patterns are data, matched against normalized header text, so
// they can be tested without touching any file.
type fieldDetector struct {
	Field    string
	Patterns []string
}

// Detector order matters: quantity and denial patterns are deliberately
// broad and must not claim columns a more specific detector would take.
var fieldDetectors = []fieldDetector{
	{Field: FieldLot, Patterns: []string{`\blote\b`}},
	{Field: FieldPeriod, Patterns: []string{`compet|\bmes\b|refer`}},
	{Field: FieldProviderGuide, Patterns: []string{`\bguia\b`}},
	{Field: FieldPayerGuide, Patterns: []string{`^\bguia\b`}},
	{Field: FieldProcedureCode, Patterns: []string{`cod.*proced|proced.*cod|tuss`}},
	{Field: FieldProcedureDesc, Patterns: []string{`descr`}},
	{Field: FieldPresentedQuantity, Patterns: []string{`quant|qtd`, `apres|exec`}},
	{Field: FieldPaidQuantity, Patterns: []string{`quant|qtd`, `pag|aprov`}},
	{Field: FieldPresentedValue, Patterns: []string{`apres|cobrado`, `val|vl`}},
	{Field: FieldDeniedValue, Patterns: []string{`glosa`, `val|vl`}},
	{Field: FieldPaidValue, Patterns: []string{`pago|liberado|apurado`, `val|vl`}},
	{Field: FieldReasonCode, Patterns: []string{`glosa|motivo`, `cod|motivo`}},
	{Field: FieldReasonDesc, Patterns: []string{`glosa|motivo`, `desc`}},
}

// DetectMapping runs the heuristic detectors over the column names. The
// boolean reports whether the detection is usable: a mapping without a
// procedure-code column cannot key any row and signals fall-through to the
// next tier, never an error.
func DetectMapping(columns []string) (FieldMapping, bool) {
	normalized := make([]string, len(columns))
	for i, c := range columns {
		normalized[i] = normalize.HeaderText(c)
	}

	mapping := make(FieldMapping)
	for _, detector := range fieldDetectors {
		for i, header := range normalized {
			if header == "" {
				continue
			}
			if matchesAll(header, detector.Patterns) {
				mapping[detector.Field] = columns[i]
				break
			}
		}
	}

	if _, ok := mapping[FieldProcedureCode]; !ok {
		return nil, false
	}
	return mapping, true
}

func matchesAll(header string, patterns []string) bool {
	for _, p := range patterns {
		if !regexp.MustCompile(p).MatchString(header) {
			return false
		}
	}
	return true
}

// ApplyMapping converts a raw table plus a field-to-column correspondence
// into canonical statement rows. headerRow is the index of the header row
// inside the table; data starts on the following row. This is the function
// a UI collaborator calls after capturing a manual mapping (tier 4), and it
// also serves tiers 2 and 3.
func ApplyMapping(table *RawTable, headerRow int, mapping FieldMapping, stripLeadingZeros bool) []models.StatementRow {
	index := table.headerIndex(headerRow)

	columnOf := func(field string) int {
		name, ok := mapping[field]
		if !ok {
			return -1
		}
		col, ok := index[name]
		if !ok {
			return -1
		}
		return col
	}

	pick := func(record []string, col int) string {
		if col < 0 || col >= len(record) {
			return ""
		}
		return record[col]
	}

	// Every canonical field resolves to a column index, -1 when unmapped, so
	// lookups below never fall back to column zero.
	cols := map[string]int{}
	for _, field := range []string{
		FieldLot, FieldPeriod, FieldProviderGuide, FieldPayerGuide,
		FieldProcedureCode, FieldProcedureDesc,
		FieldPresentedQuantity, FieldPaidQuantity,
		FieldPresentedValue, FieldDeniedValue, FieldPaidValue,
		FieldReasonCode, FieldReasonDesc,
	} {
		cols[field] = columnOf(field)
	}

	var rows []models.StatementRow
	for i := headerRow + 1; i < len(table.Rows); i++ {
		record := table.Rows[i]
		if isEmptyRow(record) {
			continue
		}

		row := models.StatementRow{
			LotNumber:            trimmed(pick(record, cols[FieldLot])),
			Period:               trimmed(pick(record, cols[FieldPeriod])),
			ProviderGuideNumber:  normalize.GuideNumber(pick(record, cols[FieldProviderGuide])),
			PayerGuideNumber:     normalize.GuideNumber(pick(record, cols[FieldPayerGuide])),
			ProcedureCode:        trimmed(pick(record, cols[FieldProcedureCode])),
			ProcedureDescription: trimmed(pick(record, cols[FieldProcedureDesc])),
		}

		row.PresentedQuantity = lenientDecimal(pick(record, cols[FieldPresentedQuantity]))
		row.PaidQuantity = lenientDecimal(pick(record, cols[FieldPaidQuantity]))
		row.PresentedValue = lenientDecimal(pick(record, cols[FieldPresentedValue]))
		row.DeniedValue = lenientDecimal(pick(record, cols[FieldDeniedValue]))
		row.PaidValue = lenientDecimal(pick(record, cols[FieldPaidValue]))

		rawReason := trimmed(pick(record, cols[FieldReasonCode]))
		code, description := models.SplitDenialReason(rawReason)
		if code == "" {
			code = rawReason
		}
		if description == "" {
			description = trimmed(pick(record, cols[FieldReasonDesc]))
		}
		row.DenialReasonCode = code
		row.DenialReasonDescription = description

		row.NormalizedProcedureCode = normalize.Code(row.ProcedureCode, stripLeadingZeros)
		rows = append(rows, row)
	}
	return rows
}
