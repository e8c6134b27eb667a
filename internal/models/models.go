// Package models defines the entities flowing through the reconciliation
// pipeline: billed items extracted from TISS XML, payment-statement rows,
// and the reconciled join of the two.
//
// All entities are values produced once by their parsing stage and never
// mutated afterwards, except for the controlled value repair applied by the
// extractor at parse time.
package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/normalize"
)

// GuideType identifies the TISS guide shape a billed item came from.
type GuideType string

const (
	// GuideConsultation is a consultation guide (guiaConsulta).
	GuideConsultation GuideType = "CONSULTA"
	// GuideSADT is an ancillary-services guide (guiaSP-SADT).
	GuideSADT GuideType = "SADT"
)

// IsValid checks if the guide type is one of the two TISS shapes handled here.
func (g GuideType) IsValid() bool {
	return g == GuideConsultation || g == GuideSADT
}

// ItemKind distinguishes executed procedures from other billed expenses
// (materials, medications) inside a SADT guide.
type ItemKind string

const (
	ItemProcedure    ItemKind = "procedimento"
	ItemOtherExpense ItemKind = "outra_despesa"
)

// MatchOrigin records which reconciliation tier resolved a billed item.
type MatchOrigin string

const (
	MatchedOnProvider    MatchOrigin = "provider"
	MatchedOnPayer       MatchOrigin = "payer"
	MatchedOnDescription MatchOrigin = "description+value"
)

// IsValid checks if the match origin is one of the three reconciliation tiers.
func (m MatchOrigin) IsValid() bool {
	return m == MatchedOnProvider || m == MatchedOnPayer || m == MatchedOnDescription
}

// KeySeparator joins a guide number and a normalized procedure code into a
// reconciliation key.
const KeySeparator = "__"

// BillingItem is one billed procedure or expense line extracted from a TISS
// guide. PayerGuideNumber falls back to ProviderGuideNumber at extraction
// time when the document omits it; the two numbering schemes are often
// identical in practice and the fallback maximizes downstream match rate.
type BillingItem struct {
	SourceFile string    `json:"source_file"`
	LotNumber  string    `json:"lot_number"`
	GuideType  GuideType `json:"guide_type"`

	ProviderGuideNumber string `json:"provider_guide_number"`
	PayerGuideNumber    string `json:"payer_guide_number"`

	PatientName   string `json:"patient_name"`
	PhysicianName string `json:"physician_name"`
	ServiceDate   string `json:"service_date"`

	ItemKind          ItemKind `json:"item_kind"`
	ExpenseIdentifier string   `json:"expense_identifier,omitempty"`

	TableCode               string `json:"table_code"`
	ProcedureCode           string `json:"procedure_code"`
	NormalizedProcedureCode string `json:"normalized_procedure_code"`
	ProcedureDescription    string `json:"procedure_description"`

	Quantity   decimal.Decimal `json:"quantity"`
	UnitValue  decimal.Decimal `json:"unit_value"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// KeyByProvider returns the provider-side reconciliation key.
func (b *BillingItem) KeyByProvider() string {
	return strings.TrimSpace(b.ProviderGuideNumber) + KeySeparator + b.NormalizedProcedureCode
}

// KeyByPayer returns the payer-side reconciliation key.
func (b *BillingItem) KeyByPayer() string {
	return strings.TrimSpace(b.PayerGuideNumber) + KeySeparator + b.NormalizedProcedureCode
}

// GuideNumber returns the guide number used by the description fallback
// tier: the provider number when present, otherwise the payer number.
func (b *BillingItem) GuideNumber() string {
	if g := strings.TrimSpace(b.ProviderGuideNumber); g != "" {
		return g
	}
	return strings.TrimSpace(b.PayerGuideNumber)
}

// DedupKey identifies a billed item for the unmatched report, collapsing the
// fan-out a multi-row statement key produces on the matched side.
func (b *BillingItem) DedupKey() string {
	return strings.Join([]string{
		b.SourceFile,
		b.ProviderGuideNumber,
		b.ProcedureCode,
		b.TotalValue.String(),
	}, "|")
}

// String returns a short description of the item for logs.
func (b *BillingItem) String() string {
	return fmt.Sprintf("BillingItem{file: %s, guide: %s, code: %s, total: %s}",
		b.SourceFile, b.ProviderGuideNumber, b.ProcedureCode, b.TotalValue.String())
}

// StatementRow is one line of an itemized payment statement
// (demonstrativo). Statements only carry the provider-side guide number
// reliably, so the single statement key is provider-based.
type StatementRow struct {
	LotNumber string `json:"lot_number"`
	Period    string `json:"period"`

	ProviderGuideNumber string `json:"provider_guide_number"`
	PayerGuideNumber    string `json:"payer_guide_number"`

	ProcedureCode           string `json:"procedure_code"`
	NormalizedProcedureCode string `json:"normalized_procedure_code"`
	ProcedureDescription    string `json:"procedure_description"`

	PresentedQuantity decimal.Decimal `json:"presented_quantity"`
	PaidQuantity      decimal.Decimal `json:"paid_quantity"`

	PresentedValue decimal.Decimal `json:"presented_value"`
	PaidValue      decimal.Decimal `json:"paid_value"`
	DeniedValue    decimal.Decimal `json:"denied_value"`

	DenialReasonCode        string `json:"denial_reason_code"`
	DenialReasonDescription string `json:"denial_reason_description"`
}

// Key returns the statement reconciliation key.
func (s *StatementRow) Key() string {
	return strings.TrimSpace(s.ProviderGuideNumber) + KeySeparator + s.NormalizedProcedureCode
}

// String returns a short description of the row for logs.
func (s *StatementRow) String() string {
	return fmt.Sprintf("StatementRow{guide: %s, code: %s, presented: %s, denied: %s}",
		s.ProviderGuideNumber, s.ProcedureCode, s.PresentedValue.String(), s.DeniedValue.String())
}

// ReconciledItem joins one billed item with one statement row. A billing
// item whose key resolves to multiple statement rows appears in multiple
// reconciled items; that fan-out is part of the engine's contract because
// downstream aggregate sums depend on it.
type ReconciledItem struct {
	Billing   BillingItem  `json:"billing"`
	Statement StatementRow `json:"statement"`
	MatchedOn MatchOrigin  `json:"matched_on"`

	// PresentedValueDelta is TotalValue - PresentedValue.
	PresentedValueDelta decimal.Decimal `json:"presented_value_delta"`
	// DeniedFraction is DeniedValue / PresentedValue, zero when the
	// presented value is not positive.
	DeniedFraction decimal.Decimal `json:"denied_fraction"`
}

// NewReconciledItem builds a reconciled item and computes its derived fields.
func NewReconciledItem(billing BillingItem, statement StatementRow, matchedOn MatchOrigin) ReconciledItem {
	item := ReconciledItem{
		Billing:             billing,
		Statement:           statement,
		MatchedOn:           matchedOn,
		PresentedValueDelta: billing.TotalValue.Sub(statement.PresentedValue),
	}
	if statement.PresentedValue.IsPositive() {
		item.DeniedFraction = statement.DeniedValue.Div(statement.PresentedValue)
	} else {
		item.DeniedFraction = decimal.Zero
	}
	return item
}

var (
	denialCodePattern = regexp.MustCompile(`^\s*(\d+)`)
	denialDescPattern = regexp.MustCompile(`^\s*\d+\s*-\s*(.*)$`)
)

// SplitDenialReason splits a combined denial field ("1001 - Beneficiário
// não elegível") into its numeric code and dash-separated description. Both
// parts default to the empty string when absent.
func SplitDenialReason(raw string) (code, description string) {
	if m := denialCodePattern.FindStringSubmatch(raw); m != nil {
		code = strings.TrimSpace(m[1])
	}
	if m := denialDescPattern.FindStringSubmatch(raw); m != nil {
		description = strings.TrimSpace(m[1])
	}
	return code, description
}

// Administrative buckets for denial-reason categorization.
const (
	CategoryEligibility   = "Cadastro/Elegibilidade"
	CategoryAuthorization = "Autorização/SADT"
	CategoryPricingTable  = "Tabela/Preços"
	CategoryAudit         = "Auditoria Médica/Técnica"
	CategoryDocumentation = "Documentação/Físico"
	CategoryOther         = "Outros/Administrativa"
)

var denialCategoryMembers = map[string]string{
	"1001": CategoryEligibility,
	"1002": CategoryEligibility,
	"1003": CategoryEligibility,
	"1006": CategoryEligibility,
	"1009": CategoryEligibility,
	"1201": CategoryAuthorization,
	"1202": CategoryAuthorization,
	"1205": CategoryAuthorization,
	"1209": CategoryAuthorization,
	"1801": CategoryPricingTable,
	"1802": CategoryPricingTable,
	"1805": CategoryPricingTable,
	"1806": CategoryPricingTable,
	"2501": CategoryDocumentation,
	"2505": CategoryDocumentation,
	"2509": CategoryDocumentation,
}

// CategorizeDenialReason maps an ANS denial reason code to a coarse
// administrative bucket via membership and prefix rules.
func CategorizeDenialReason(code string) string {
	code = strings.TrimSpace(code)
	if category, ok := denialCategoryMembers[code]; ok {
		return category
	}
	if strings.HasPrefix(code, "20") || strings.HasPrefix(code, "22") {
		return CategoryAudit
	}
	return CategoryOther
}

// NormalizeProcedureCode applies the policy-wide code normalization to an
// item and returns the result, keeping the raw code untouched.
func NormalizeProcedureCode(code string, stripLeadingZeros bool) string {
	return normalize.Code(code, stripLeadingZeros)
}
