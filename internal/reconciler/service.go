// Package reconciler orchestrates the end-to-end pipeline: extract billing
// items from TISS guide files, load payment statements, run the tiered
// matching engine and hand the result to reporting or analytics.
package reconciler

import (
	"context"

	"tiss-reconciliation-service/internal/matcher"
	"tiss-reconciliation-service/internal/models"
	"tiss-reconciliation-service/internal/parsers"
	"tiss-reconciliation-service/pkg/errors"
	"tiss-reconciliation-service/pkg/logger"
)

// Config aggregates the per-stage configurations of a pipeline run.
type Config struct {
	Reader  *parsers.StatementReaderConfig
	Matcher *matcher.Config

	// StripLeadingZeros is applied uniformly to the extractor and the
	// reader so normalized codes agree on both sides of the match.
	StripLeadingZeros bool

	// MappingFile is the path of the persisted column-mapping store. Empty
	// disables the stored-mapping tier.
	MappingFile string
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		Reader:  parsers.DefaultStatementReaderConfig(),
		Matcher: matcher.DefaultConfig(),
	}
}

// Request names the input files of one reconciliation run.
type Request struct {
	XMLFiles       []string
	StatementFiles []string
}

// Result is the outcome of a pipeline run. FileErrors lists inputs that
// were skipped; the run itself fails only when nothing at all could be
// processed on one side.
type Result struct {
	Reconciled []models.ReconciledItem `json:"reconciled"`
	Unmatched  []models.BillingItem    `json:"unmatched"`
	Summary    matcher.Summary         `json:"summary"`

	FileErrors []parsers.FileError `json:"file_errors,omitempty"`
}

// Service wires the pipeline stages together.
type Service struct {
	config    *Config
	extractor *parsers.BillingExtractor
	reader    *parsers.StatementReader
	engine    *matcher.Engine
	store     *parsers.MappingStore
	logger    logger.Logger
}

// NewService creates a reconciliation service from a pipeline
// configuration.
func NewService(config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Reader == nil {
		config.Reader = parsers.DefaultStatementReaderConfig()
	}
	if config.Matcher == nil {
		config.Matcher = matcher.DefaultConfig()
	}
	config.Reader.StripLeadingZeros = config.StripLeadingZeros

	var store *parsers.MappingStore
	if config.MappingFile != "" {
		var err error
		store, err = parsers.LoadMappingStore(config.MappingFile)
		if err != nil {
			return nil, err
		}
	}

	reader, err := parsers.NewStatementReader(config.Reader, store)
	if err != nil {
		return nil, err
	}
	engine, err := matcher.NewEngine(config.Matcher)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:    config,
		extractor: parsers.NewBillingExtractor(config.StripLeadingZeros),
		reader:    reader,
		engine:    engine,
		store:     store,
		logger:    logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// MappingStore exposes the persisted column-mapping store, nil when no
// mapping file is configured.
func (s *Service) MappingStore() *parsers.MappingStore {
	return s.store
}

// ProcessReconciliation runs the full pipeline for one request.
func (s *Service) ProcessReconciliation(ctx context.Context, req *Request) (*Result, error) {
	if len(req.XMLFiles) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "xml_files", nil, nil)
	}
	if len(req.StatementFiles) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "statement_files", nil, nil)
	}

	s.logger.WithFields(logger.Fields{
		"xml_files":       len(req.XMLFiles),
		"statement_files": len(req.StatementFiles),
	}).Info("Starting reconciliation")

	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError("reconciliation cancelled", err)
	}

	billing := s.extractor.ExtractFiles(req.XMLFiles)
	if len(billing.Items) == 0 {
		err := errors.ReconciliationError(errors.CodeNoBillingItems, "guide extraction", nil)
		return nil, attachFileErrors(err, billing.Errors)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError("reconciliation cancelled", err)
	}

	statements := s.reader.ReadFiles(req.StatementFiles)
	if len(statements.Rows) == 0 {
		err := errors.ReconciliationError(errors.CodeNoStatements, "statement loading", nil)
		return nil, attachFileErrors(err, statements.Errors)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError("reconciliation cancelled", err)
	}

	matchResult := s.engine.Reconcile(billing.Items, statements.Rows)

	result := &Result{
		Reconciled: matchResult.Reconciled,
		Unmatched:  matchResult.Unmatched,
		Summary:    matchResult.Summary,
	}
	result.FileErrors = append(result.FileErrors, billing.Errors...)
	result.FileErrors = append(result.FileErrors, statements.Errors...)

	s.logger.WithFields(logger.Fields{
		"reconciled":   len(result.Reconciled),
		"unmatched":    len(result.Unmatched),
		"failed_files": len(result.FileErrors),
	}).Info("Reconciliation finished")
	return result, nil
}

// attachFileErrors surfaces the first skipped file inside an empty-result
// error so the message distinguishes malformed inputs from genuinely empty
// ones.
func attachFileErrors(err *errors.Error, fileErrors []parsers.FileError) *errors.Error {
	if len(fileErrors) == 0 {
		return err
	}
	return err.WithContext("first_failed_file", fileErrors[0].File).
		WithContext("failed_files", len(fileErrors))
}
