// Package reporter renders reconciliation results and their analytics in
// console, JSON and CSV form.
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/analytics"
	"tiss-reconciliation-service/internal/models"
	"tiss-reconciliation-service/internal/normalize"
	"tiss-reconciliation-service/internal/reconciler"
	"tiss-reconciliation-service/pkg/errors"
	"tiss-reconciliation-service/pkg/logger"
)

// Format selects the output rendering.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
)

// Config controls report generation.
type Config struct {
	Format Format

	// TopN bounds the ranking tables.
	TopN int
	// MinPresented is the presented-value floor for the denial-rate
	// ranking.
	MinPresented decimal.Decimal

	// SimulationFactors holds per-reason-code recovery factors. Empty
	// disables the simulation section.
	SimulationFactors map[string]decimal.Decimal
}

// DefaultConfig returns the default report configuration.
func DefaultConfig() *Config {
	return &Config{
		Format:       FormatConsole,
		TopN:         10,
		MinPresented: decimal.NewFromInt(100),
	}
}

// Validate checks the report configuration.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatConsole, FormatJSON, FormatCSV:
		return nil
	default:
		return errors.ConfigurationError("output_format", string(c.Format), nil)
	}
}

// Report is the assembled analytical view of one reconciliation run.
type Report struct {
	Summary       matcherSummary                `json:"summary"`
	Periods       []analytics.PeriodKPI         `json:"periods"`
	TopDenied     analytics.DeniedRanking       `json:"top_denied"`
	DenialReasons []analytics.DenialReason      `json:"denial_reasons"`
	Categories    []analytics.DenialReason      `json:"denial_categories"`
	Outliers      []analytics.Outlier           `json:"outliers"`
	Physicians    []analytics.PhysicianStanding `json:"physicians"`
	Simulation    *analytics.SimulationSummary  `json:"simulation,omitempty"`
	Unmatched     []models.BillingItem          `json:"unmatched"`
}

type matcherSummary struct {
	BillingItems      int `json:"billing_items"`
	StatementRows     int `json:"statement_rows"`
	Reconciled        int `json:"reconciled"`
	MatchedByProvider int `json:"matched_by_provider"`
	MatchedByPayer    int `json:"matched_by_payer"`
	MatchedByFallback int `json:"matched_by_fallback"`
	UnmatchedItems    int `json:"unmatched_items"`
	FailedFiles       int `json:"failed_files"`
}

// Generator renders reconciliation reports.
type Generator struct {
	config *Config
	logger logger.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reporter"),
	}, nil
}

// Generate writes the report for a reconciliation result.
func (g *Generator) Generate(w io.Writer, result *reconciler.Result) error {
	report := g.build(result)
	switch g.config.Format {
	case FormatJSON:
		return g.writeJSON(w, report)
	case FormatCSV:
		return g.writeCSV(w, result)
	default:
		return g.writeConsole(w, report)
	}
}

func (g *Generator) build(result *reconciler.Result) *Report {
	report := &Report{
		Summary: matcherSummary{
			BillingItems:      result.Summary.BillingItems,
			StatementRows:     result.Summary.StatementRows,
			Reconciled:        len(result.Reconciled),
			MatchedByProvider: result.Summary.MatchedByProvider,
			MatchedByPayer:    result.Summary.MatchedByPayer,
			MatchedByFallback: result.Summary.MatchedByFallback,
			UnmatchedItems:    result.Summary.UnmatchedItems,
			FailedFiles:       len(result.FileErrors),
		},
		Periods:       analytics.PeriodKPIs(result.Reconciled),
		TopDenied:     analytics.TopDeniedItems(result.Reconciled, g.config.MinPresented, g.config.TopN),
		DenialReasons: analytics.DenialReasons(result.Reconciled, ""),
		Categories:    analytics.CategoryBreakdown(result.Reconciled, ""),
		Outliers:      analytics.Outliers(result.Reconciled, decimal.Decimal{}),
		Physicians:    analytics.PhysicianRanking(result.Reconciled, g.config.TopN),
		Unmatched:     result.Unmatched,
	}
	if len(g.config.SimulationFactors) > 0 {
		simulated := analytics.Simulate(result.Reconciled, g.config.SimulationFactors)
		summary := analytics.SummarizeSimulation(simulated)
		report.Simulation = &summary
	}
	return report
}

func (g *Generator) writeJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.InternalError("json report encoding", err)
	}
	return nil
}

// writeCSV emits the flat reconciled rows; aggregates live in the other
// formats.
func (g *Generator) writeCSV(w io.Writer, result *reconciler.Result) error {
	cw := csv.NewWriter(w)
	header := []string{
		"source_file", "lot_number", "guide_type", "provider_guide", "payer_guide",
		"procedure_code", "procedure_description", "matched_on",
		"billed_total", "presented_value", "paid_value", "denied_value",
		"denial_reason_code", "denial_reason_description", "denial_category",
	}
	if err := cw.Write(header); err != nil {
		return errors.InternalError("csv report writing", err)
	}

	for i := range result.Reconciled {
		item := &result.Reconciled[i]
		record := []string{
			item.Billing.SourceFile,
			item.Billing.LotNumber,
			string(item.Billing.GuideType),
			item.Billing.ProviderGuideNumber,
			item.Billing.PayerGuideNumber,
			item.Statement.ProcedureCode,
			item.Statement.ProcedureDescription,
			string(item.MatchedOn),
			item.Billing.TotalValue.String(),
			item.Statement.PresentedValue.String(),
			item.Statement.PaidValue.String(),
			item.Statement.DeniedValue.String(),
			item.Statement.DenialReasonCode,
			item.Statement.DenialReasonDescription,
			models.CategorizeDenialReason(item.Statement.DenialReasonCode),
		}
		if err := cw.Write(record); err != nil {
			return errors.InternalError("csv report writing", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.InternalError("csv report writing", err)
	}
	return nil
}

func (g *Generator) writeConsole(w io.Writer, report *Report) error {
	var b strings.Builder

	b.WriteString("TISS RECONCILIATION REPORT\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Billing items:\t%d\n", report.Summary.BillingItems)
	fmt.Fprintf(tw, "Statement rows:\t%d\n", report.Summary.StatementRows)
	fmt.Fprintf(tw, "Reconciled pairs:\t%d\n", report.Summary.Reconciled)
	fmt.Fprintf(tw, "  by provider guide:\t%d\n", report.Summary.MatchedByProvider)
	fmt.Fprintf(tw, "  by payer guide:\t%d\n", report.Summary.MatchedByPayer)
	fmt.Fprintf(tw, "  by description+value:\t%d\n", report.Summary.MatchedByFallback)
	fmt.Fprintf(tw, "Unmatched items:\t%d\n", report.Summary.UnmatchedItems)
	if report.Summary.FailedFiles > 0 {
		fmt.Fprintf(tw, "Skipped files:\t%d\n", report.Summary.FailedFiles)
	}
	tw.Flush()

	if len(report.Periods) > 0 {
		b.WriteString("\nPER PERIOD\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Period\tItems\tPresented\tDenied\tPaid\tDenied %")
		for _, kpi := range report.Periods {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s%%\n",
				periodLabel(kpi.Period), kpi.ItemCount,
				normalize.FormatCurrency(kpi.Presented),
				normalize.FormatCurrency(kpi.Denied),
				normalize.FormatCurrency(kpi.Paid),
				kpi.DeniedPct.StringFixed(2))
		}
		tw.Flush()
	}

	if len(report.TopDenied.ByValue) > 0 {
		b.WriteString("\nTOP DENIED PROCEDURES (BY VALUE)\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Code\tDescription\tItems\tDenied\tDenied %")
		for _, p := range report.TopDenied.ByValue {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s%%\n",
				p.ProcedureCode, clip(p.ProcedureDescription, 40), p.ItemCount,
				normalize.FormatCurrency(p.Denied), p.DeniedPct.StringFixed(2))
		}
		tw.Flush()
	}

	if len(report.DenialReasons) > 0 {
		b.WriteString("\nDENIAL REASONS\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Code\tCategory\tItems\tDenied\tShare")
		for _, r := range report.DenialReasons {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s%%\n",
				r.Code, r.Category, r.ItemCount,
				normalize.FormatCurrency(r.Denied), r.SharePct.StringFixed(2))
		}
		tw.Flush()
	}

	if len(report.Outliers) > 0 {
		b.WriteString("\nVALUE OUTLIERS\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Guide\tCode\tPresented\tLower fence\tUpper fence")
		for _, o := range report.Outliers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				o.Item.Statement.ProviderGuideNumber,
				o.Item.Statement.ProcedureCode,
				normalize.FormatCurrency(o.Presented),
				normalize.FormatCurrency(o.LowerFence),
				normalize.FormatCurrency(o.UpperFence))
		}
		tw.Flush()
	}

	if report.Simulation != nil {
		s := report.Simulation
		b.WriteString("\nRECOVERY SIMULATION\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Current denied:\t%s\n", normalize.FormatCurrency(s.CurrentDenied))
		fmt.Fprintf(tw, "Simulated denied:\t%s\n", normalize.FormatCurrency(s.SimulatedDenied))
		fmt.Fprintf(tw, "Simulated paid:\t%s\n", normalize.FormatCurrency(s.SimulatedPaid))
		fmt.Fprintf(tw, "Recovered:\t%s\n", normalize.FormatCurrency(s.Recovered))
		tw.Flush()
	}

	if len(report.Unmatched) > 0 {
		b.WriteString("\nUNMATCHED BILLING ITEMS\n")
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Guide\tCode\tDescription\tTotal")
		for i := range report.Unmatched {
			u := &report.Unmatched[i]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				u.GuideNumber(), u.ProcedureCode,
				clip(u.ProcedureDescription, 40),
				normalize.FormatCurrency(u.TotalValue))
		}
		tw.Flush()
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.InternalError("console report writing", err)
	}
	return nil
}

func periodLabel(p string) string {
	if p == "" {
		return "(none)"
	}
	return p
}

// clip shortens a string to max runes. Descriptions carry accented text,
// so the cut is rune-based.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
