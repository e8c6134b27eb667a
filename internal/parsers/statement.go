package parsers

import (
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/models"
	"tiss-reconciliation-service/internal/normalize"
	"tiss-reconciliation-service/pkg/errors"
	"tiss-reconciliation-service/pkg/logger"
)

// Fixed AMHP statement layout: the header row is identified by this label
// appearing in any cell, within the first headerSearchRows rows.
const (
	fixedHeaderMarker = "CPF/CNPJ"
	headerSearchRows  = 20
)

// Known headings of the fixed AMHP layout.
const (
	fixedColGuide         = "Guia"
	fixedColProcedureCode = "Cod. Procedimento"
	fixedColDescription   = "Descrição"
	fixedColPresented     = "Valor Apresentado"
	fixedColPaid          = "Valor Apurado"
	fixedColDenied        = "Valor Glosa"
	fixedColQuantity      = "Quant. Exec."
	fixedColDenialCode    = "Código Glosa"
)

// StatementReaderConfig holds configuration for loading payment statements.
type StatementReaderConfig struct {
	// Delimiter of the tabular file. Brazilian exports commonly use ';'.
	Delimiter rune
	// StripLeadingZeros is the policy-wide code-normalization flag and must
	// match the extractor's setting or keys will not line up.
	StripLeadingZeros bool
}

// DefaultStatementReaderConfig returns the default reader configuration.
func DefaultStatementReaderConfig() *StatementReaderConfig {
	return &StatementReaderConfig{Delimiter: ';'}
}

// Validate checks the reader configuration.
func (c *StatementReaderConfig) Validate() error {
	if c.Delimiter == 0 {
		return errors.ConfigurationError("statement_delimiter", c.Delimiter, nil)
	}
	return nil
}

// StatementReader loads payment-statement files into canonical rows,
// resolving each file's layout through the tier ladder: fixed AMHP layout,
// persisted manual mapping, heuristic auto-detection. The mapping store is
// an injected collaborator and may be nil.
type StatementReader struct {
	config *StatementReaderConfig
	store  *MappingStore
	logger logger.Logger
}

// NewStatementReader creates a statement reader.
func NewStatementReader(config *StatementReaderConfig, store *MappingStore) (*StatementReader, error) {
	if config == nil {
		config = DefaultStatementReaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &StatementReader{
		config: config,
		store:  store,
		logger: logger.GetGlobalLogger().WithComponent("statement_reader"),
	}, nil
}

// StatementBatch is the outcome of loading a set of statement files. Files
// are normalized independently and concatenated; a file that cannot be
// resolved contributes a FileError and the batch continues.
type StatementBatch struct {
	Rows   []models.StatementRow
	Errors []FileError
}

// ReadFiles loads every statement file in the batch.
func (sr *StatementReader) ReadFiles(paths []string) *StatementBatch {
	batch := &StatementBatch{}
	for _, path := range paths {
		rows, err := sr.ReadFile(path)
		if err != nil {
			sr.logger.WithError(err).WithField("file", path).Warn("Skipping unresolvable statement file")
			batch.Errors = append(batch.Errors, FileError{File: path, Err: err})
			continue
		}
		batch.Rows = append(batch.Rows, rows...)
	}

	sr.logger.WithFields(logger.Fields{
		"files":        len(paths),
		"rows":         len(batch.Rows),
		"failed_files": len(batch.Errors),
	}).Info("Loaded statement batch")
	return batch
}

// ReadFile loads one statement file, trying the layout tiers in order.
func (sr *StatementReader) ReadFile(path string) ([]models.StatementRow, error) {
	table, err := ReadRawTable(path, sr.config.Delimiter)
	if err != nil {
		return nil, err
	}

	// Tier 1: fixed AMHP layout.
	rows, err := sr.readFixedLayout(table)
	if err == nil {
		sr.logger.WithFields(logger.Fields{"file": path, "rows": len(rows), "tier": "fixed"}).Debug("Statement resolved")
		return rows, nil
	}
	if !errors.IsCode(err, errors.CodeHeaderNotFound) {
		return nil, err
	}

	// Tier 2: persisted manual mapping for this filename.
	if sr.store != nil {
		if entry, ok := sr.store.Get(filepath.Base(path)); ok {
			rows, err := sr.applyStoredMapping(table, entry)
			if err != nil {
				return nil, err
			}
			sr.logger.WithFields(logger.Fields{"file": path, "rows": len(rows), "tier": "stored"}).Debug("Statement resolved")
			return rows, nil
		}
	}

	// Tier 3: heuristic auto-detection against the first non-empty row.
	headerRow := firstNonEmptyRow(table)
	if headerRow >= 0 {
		if mapping, ok := DetectMapping(table.headers(headerRow)); ok {
			rows := ApplyMapping(table, headerRow, mapping, sr.config.StripLeadingZeros)
			sr.logger.WithFields(logger.Fields{"file": path, "rows": len(rows), "tier": "detected"}).Debug("Statement resolved")
			return rows, nil
		}
	}

	// All automatic tiers exhausted: the caller must capture a manual
	// mapping (via ApplyMapping) and persist it to the store.
	return nil, errors.MappingError(errors.CodeMappingRequired, path,
		"no layout tier could resolve the columns", nil)
}

// readFixedLayout interprets the fixed AMHP export. The header row is
// located by its marker label; failure to find it within the search window
// is the distinct header-not-found condition, which tier 1 callers treat as
// fall-through and direct callers must surface.
func (sr *StatementReader) readFixedLayout(table *RawTable) ([]models.StatementRow, error) {
	headerRow := -1
	limit := len(table.Rows)
	if limit > headerSearchRows {
		limit = headerSearchRows
	}
	for i := 0; i < limit; i++ {
		for _, cell := range table.Rows[i] {
			if strings.Contains(strings.ToUpper(cell), fixedHeaderMarker) {
				headerRow = i
				break
			}
		}
		if headerRow >= 0 {
			break
		}
	}
	if headerRow < 0 {
		return nil, errors.MappingError(errors.CodeHeaderNotFound, table.Path,
			"no row containing "+fixedHeaderMarker+" in the first 20 rows", nil)
	}

	index := table.headerIndex(headerRow)
	col := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		return -1
	}

	guideCol := col(fixedColGuide)
	codeCol := col(fixedColProcedureCode)
	if guideCol < 0 || codeCol < 0 {
		return nil, errors.MappingError(errors.CodeMissingColumn, table.Path,
			fixedColGuide+" / "+fixedColProcedureCode, nil)
	}

	descCol := col(fixedColDescription)
	presentedCol := col(fixedColPresented)
	paidCol := col(fixedColPaid)
	deniedCol := col(fixedColDenied)
	quantityCol := col(fixedColQuantity)
	denialCol := col(fixedColDenialCode)

	var rows []models.StatementRow
	for i := headerRow + 1; i < len(table.Rows); i++ {
		record := table.Rows[i]
		if isEmptyRow(record) {
			continue
		}

		row := models.StatementRow{
			ProviderGuideNumber:  normalize.GuideNumber(cellAt(record, guideCol)),
			ProcedureCode:        trimmed(cellAt(record, codeCol)),
			ProcedureDescription: trimmed(cellAt(record, descCol)),
			PresentedValue:       lenientDecimal(cellAt(record, presentedCol)),
			PaidValue:            lenientDecimal(cellAt(record, paidCol)),
			DeniedValue:          lenientDecimal(cellAt(record, deniedCol)),
			PresentedQuantity:    lenientDecimal(cellAt(record, quantityCol)),
		}
		row.NormalizedProcedureCode = normalize.Code(row.ProcedureCode, sr.config.StripLeadingZeros)
		row.DenialReasonCode, row.DenialReasonDescription = models.SplitDenialReason(cellAt(record, denialCol))
		rows = append(rows, row)
	}
	return rows, nil
}

// applyStoredMapping reapplies a persisted mapping, validating that its
// columns still exist in the file.
func (sr *StatementReader) applyStoredMapping(table *RawTable, entry MappingEntry) ([]models.StatementRow, error) {
	headerRow := firstNonEmptyRow(table)
	if headerRow < 0 {
		return nil, errors.MappingError(errors.CodeInvalidMapping, table.Path, "file has no rows", nil)
	}

	index := table.headerIndex(headerRow)
	for field, column := range entry.Columns {
		if column == "" {
			continue
		}
		if _, ok := index[column]; !ok {
			return nil, errors.MappingError(errors.CodeInvalidMapping, table.Path,
				"mapped column "+column+" for field "+field+" not found", nil)
		}
	}

	return ApplyMapping(table, headerRow, entry.Columns, sr.config.StripLeadingZeros), nil
}

func firstNonEmptyRow(table *RawTable) int {
	for i, record := range table.Rows {
		if !isEmptyRow(record) {
			return i
		}
	}
	return -1
}

func cellAt(record []string, col int) string {
	if col < 0 || col >= len(record) {
		return ""
	}
	return record[col]
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

// lenientDecimal applies the coerce-to-zero policy for numeric statement
// cells.
func lenientDecimal(s string) decimal.Decimal {
	d, _ := normalize.ParseDecimal(s)
	return d
}
