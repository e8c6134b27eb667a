// Package matcher pairs billing items extracted from TISS guides with
// payment-statement rows. Matching runs per billing item as a tier
// cascade: provider-guide key, payer-guide key, then an optional
// description-and-value fallback. Statement rows are never consumed, so a
// key occurring on several statement rows fans one billing item out into
// several reconciled items.
package matcher

import (
	"tiss-reconciliation-service/internal/models"
	"tiss-reconciliation-service/pkg/logger"
)

// Engine performs tiered reconciliation.
type Engine struct {
	config *Config
	logger logger.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Summary carries per-tier counts for a reconciliation run.
type Summary struct {
	BillingItems      int `json:"billing_items"`
	StatementRows     int `json:"statement_rows"`
	MatchedByProvider int `json:"matched_by_provider"`
	MatchedByPayer    int `json:"matched_by_payer"`
	MatchedByFallback int `json:"matched_by_fallback"`
	UnmatchedItems    int `json:"unmatched_items"`
}

// Matched returns the number of billing items that matched on any tier.
func (s *Summary) Matched() int {
	return s.MatchedByProvider + s.MatchedByPayer + s.MatchedByFallback
}

// Result is the outcome of one reconciliation run. Reconciled holds the
// fanned-out pairs; Unmatched holds deduplicated billing items that no tier
// could place.
type Result struct {
	Reconciled []models.ReconciledItem `json:"reconciled"`
	Unmatched  []models.BillingItem    `json:"unmatched"`
	Summary    Summary                 `json:"summary"`
}

// Reconcile matches every billing item against the statement rows.
func (e *Engine) Reconcile(items []models.BillingItem, rows []models.StatementRow) *Result {
	index := NewStatementIndex(rows)
	result := &Result{
		Summary: Summary{
			BillingItems:  len(items),
			StatementRows: len(rows),
		},
	}

	seenUnmatched := make(map[string]bool)
	for i := range items {
		item := &items[i]
		matches, origin := e.matchItem(item, index)
		if len(matches) == 0 {
			key := item.DedupKey()
			if !seenUnmatched[key] {
				seenUnmatched[key] = true
				result.Unmatched = append(result.Unmatched, *item)
			}
			result.Summary.UnmatchedItems++
			continue
		}

		switch origin {
		case models.MatchedOnProvider:
			result.Summary.MatchedByProvider++
		case models.MatchedOnPayer:
			result.Summary.MatchedByPayer++
		case models.MatchedOnDescription:
			result.Summary.MatchedByFallback++
		}
		for _, row := range matches {
			result.Reconciled = append(result.Reconciled, models.NewReconciledItem(*item, row, origin))
		}
	}

	e.logger.WithFields(logger.Fields{
		"billing_items":       result.Summary.BillingItems,
		"statement_rows":      result.Summary.StatementRows,
		"matched_by_provider": result.Summary.MatchedByProvider,
		"matched_by_payer":    result.Summary.MatchedByPayer,
		"matched_by_fallback": result.Summary.MatchedByFallback,
		"unmatched":           result.Summary.UnmatchedItems,
	}).Info("Reconciliation completed")
	return result
}

// matchItem runs the tier cascade for one billing item.
func (e *Engine) matchItem(item *models.BillingItem, index *StatementIndex) ([]models.StatementRow, models.MatchOrigin) {
	if rows := index.LookupKey(item.KeyByProvider()); len(rows) > 0 {
		return rows, models.MatchedOnProvider
	}
	if rows := index.LookupKey(item.KeyByPayer()); len(rows) > 0 {
		return rows, models.MatchedOnPayer
	}
	if e.config.DescriptionFallback {
		rows := index.LookupDescription(item.GuideNumber(), item.ProcedureDescription, item.TotalValue, e.config.Tolerance)
		if len(rows) > 0 {
			return rows, models.MatchedOnDescription
		}
	}
	return nil, ""
}
