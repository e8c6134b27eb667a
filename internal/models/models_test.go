package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBillingItemKeys(t *testing.T) {
	item := BillingItem{
		ProviderGuideNumber:     " 12345 ",
		PayerGuideNumber:        "99999",
		NormalizedProcedureCode: "101",
	}

	if got, want := item.KeyByProvider(), "12345__101"; got != want {
		t.Errorf("KeyByProvider() = %q, want %q", got, want)
	}
	if got, want := item.KeyByPayer(), "99999__101"; got != want {
		t.Errorf("KeyByPayer() = %q, want %q", got, want)
	}
}

func TestStatementRowKey(t *testing.T) {
	row := StatementRow{
		ProviderGuideNumber:     "12345",
		NormalizedProcedureCode: "101",
	}
	if got, want := row.Key(), "12345__101"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestGuideNumberFallback(t *testing.T) {
	item := BillingItem{ProviderGuideNumber: "", PayerGuideNumber: "777"}
	if got := item.GuideNumber(); got != "777" {
		t.Errorf("GuideNumber() = %q, want %q", got, "777")
	}

	item.ProviderGuideNumber = "555"
	if got := item.GuideNumber(); got != "555" {
		t.Errorf("GuideNumber() = %q, want %q", got, "555")
	}
}

func TestDedupKey(t *testing.T) {
	a := BillingItem{
		SourceFile:          "lote.xml",
		ProviderGuideNumber: "1",
		ProcedureCode:       "101",
		TotalValue:          dec("50.00"),
	}
	b := a
	if a.DedupKey() != b.DedupKey() {
		t.Error("identical items must share a dedup key")
	}

	b.TotalValue = dec("60.00")
	if a.DedupKey() == b.DedupKey() {
		t.Error("items with different totals must not share a dedup key")
	}
}

func TestNewReconciledItem(t *testing.T) {
	billing := BillingItem{TotalValue: dec("100.00")}
	statement := StatementRow{
		PresentedValue: dec("90.00"),
		DeniedValue:    dec("45.00"),
	}

	item := NewReconciledItem(billing, statement, MatchedOnProvider)

	if !item.PresentedValueDelta.Equal(dec("10.00")) {
		t.Errorf("PresentedValueDelta = %s, want 10.00", item.PresentedValueDelta)
	}
	if !item.DeniedFraction.Equal(dec("0.5")) {
		t.Errorf("DeniedFraction = %s, want 0.5", item.DeniedFraction)
	}
}

func TestNewReconciledItemZeroPresented(t *testing.T) {
	item := NewReconciledItem(BillingItem{}, StatementRow{DeniedValue: dec("10")}, MatchedOnPayer)
	if !item.DeniedFraction.IsZero() {
		t.Errorf("DeniedFraction = %s, want 0 when presented value is zero", item.DeniedFraction)
	}
}

func TestSplitDenialReason(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
		wantDesc string
	}{
		{"code with description", "1001 - Beneficiário não elegível", "1001", "Beneficiário não elegível"},
		{"code only", "1201", "1201", ""},
		{"leading spaces", "  1805 - Valor acima da tabela", "1805", "Valor acima da tabela"},
		{"no code", "sem código", "", ""},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, desc := SplitDenialReason(tt.input)
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if desc != tt.wantDesc {
				t.Errorf("description = %q, want %q", desc, tt.wantDesc)
			}
		})
	}
}

func TestCategorizeDenialReason(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"1001", CategoryEligibility},
		{"1002", CategoryEligibility},
		{"1009", CategoryEligibility},
		{"1201", CategoryAuthorization},
		{"1209", CategoryAuthorization},
		{"1801", CategoryPricingTable},
		{"1806", CategoryPricingTable},
		{"2001", CategoryAudit},
		{"2099", CategoryAudit},
		{"2210", CategoryAudit},
		{"2501", CategoryDocumentation},
		{"2509", CategoryDocumentation},
		{"9999", CategoryOther},
		{"", CategoryOther},
	}

	for _, tt := range tests {
		if got := CategorizeDenialReason(tt.code); got != tt.want {
			t.Errorf("CategorizeDenialReason(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestMatchOriginIsValid(t *testing.T) {
	for _, origin := range []MatchOrigin{MatchedOnProvider, MatchedOnPayer, MatchedOnDescription} {
		if !origin.IsValid() {
			t.Errorf("%q should be valid", origin)
		}
	}
	if MatchOrigin("").IsValid() {
		t.Error("empty origin should be invalid")
	}
}
