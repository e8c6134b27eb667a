package analytics

import (
	"testing"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func reconciled(period, code, reason string, presented, denied, paid string) models.ReconciledItem {
	return models.NewReconciledItem(
		models.BillingItem{TotalValue: dec(presented)},
		models.StatementRow{
			Period:                  period,
			NormalizedProcedureCode: code,
			ProcedureCode:           code,
			PresentedValue:          dec(presented),
			DeniedValue:             dec(denied),
			PaidValue:               dec(paid),
			DenialReasonCode:        reason,
		},
		models.MatchedOnProvider,
	)
}

func TestPeriodKPIs(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("2024-03", "101", "", "100.00", "20.00", "80.00"),
		reconciled("2024-03", "102", "", "50.00", "0.00", "50.00"),
		reconciled("2024-04", "101", "", "200.00", "50.00", "150.00"),
	}

	kpis := PeriodKPIs(items)
	if len(kpis) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(kpis))
	}

	march := kpis[0]
	if march.Period != "2024-03" {
		t.Fatalf("periods must sort ascending, got %q first", march.Period)
	}
	if march.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", march.ItemCount)
	}
	if !march.Presented.Equal(dec("150.00")) {
		t.Errorf("Presented = %s, want 150.00", march.Presented)
	}
	if !march.Denied.Equal(dec("20.00")) {
		t.Errorf("Denied = %s, want 20.00", march.Denied)
	}
	// 20 / 150 * 100
	if march.DeniedPct.StringFixed(2) != "13.33" {
		t.Errorf("DeniedPct = %s, want 13.33", march.DeniedPct.StringFixed(2))
	}

	april := kpis[1]
	if april.DeniedPct.StringFixed(2) != "25.00" {
		t.Errorf("april DeniedPct = %s, want 25.00", april.DeniedPct.StringFixed(2))
	}
}

func TestPeriodKPIsZeroPresented(t *testing.T) {
	items := []models.ReconciledItem{reconciled("2024-01", "101", "", "0.00", "0.00", "0.00")}
	kpis := PeriodKPIs(items)
	if !kpis[0].DeniedPct.IsZero() {
		t.Errorf("DeniedPct = %s, want 0 when nothing was presented", kpis[0].DeniedPct)
	}
}

func TestTopDeniedItems(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "", "1000.00", "100.00", "900.00"),
		reconciled("", "102", "", "500.00", "300.00", "200.00"),
		// Small volume, extreme rate: excluded from the rate ranking by the
		// presented-value floor.
		reconciled("", "103", "", "10.00", "10.00", "0.00"),
	}

	ranking := TopDeniedItems(items, dec("100"), 10)

	if len(ranking.ByValue) != 3 {
		t.Fatalf("ByValue length = %d, want 3", len(ranking.ByValue))
	}
	if ranking.ByValue[0].ProcedureCode != "102" {
		t.Errorf("top by value = %q, want 102", ranking.ByValue[0].ProcedureCode)
	}

	if len(ranking.ByPct) != 2 {
		t.Fatalf("ByPct length = %d, want 2 after the floor", len(ranking.ByPct))
	}
	if ranking.ByPct[0].ProcedureCode != "102" {
		t.Errorf("top by rate = %q, want 102", ranking.ByPct[0].ProcedureCode)
	}
	for _, p := range ranking.ByPct {
		if p.ProcedureCode == "103" {
			t.Error("low-volume procedure must not enter the rate ranking")
		}
	}
}

func TestTopDeniedItemsSplitsByDescription(t *testing.T) {
	// Two payers reusing code 101 with unrelated descriptions must not be
	// merged into one ranking row.
	a := reconciled("", "101", "", "100.00", "30.00", "70.00")
	a.Statement.ProcedureDescription = "CONSULTA EM CONSULTORIO"
	b := reconciled("", "101", "", "200.00", "10.00", "190.00")
	b.Statement.ProcedureDescription = "SESSAO DE FISIOTERAPIA"

	ranking := TopDeniedItems([]models.ReconciledItem{a, b}, decimal.Zero, 10)
	if len(ranking.ByValue) != 2 {
		t.Fatalf("ByValue length = %d, want 2 groups for distinct descriptions", len(ranking.ByValue))
	}
	if ranking.ByValue[0].ProcedureDescription != "CONSULTA EM CONSULTORIO" {
		t.Errorf("top group description = %q, want CONSULTA EM CONSULTORIO", ranking.ByValue[0].ProcedureDescription)
	}
	if !ranking.ByValue[0].Denied.Equal(dec("30.00")) {
		t.Errorf("top group denied = %s, want 30.00", ranking.ByValue[0].Denied)
	}
}

func TestTopDeniedItemsNoDenials(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "", "100.00", "0.00", "100.00"),
		reconciled("", "102", "", "200.00", "0.00", "200.00"),
	}
	ranking := TopDeniedItems(items, decimal.Zero, 10)
	if len(ranking.ByValue) != 0 || len(ranking.ByPct) != 0 {
		t.Errorf("fully paid procedures must not rank, got %d/%d",
			len(ranking.ByValue), len(ranking.ByPct))
	}
}

func TestTopDeniedItemsTruncation(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "", "100.00", "30.00", "70.00"),
		reconciled("", "102", "", "100.00", "20.00", "80.00"),
		reconciled("", "103", "", "100.00", "10.00", "90.00"),
	}
	ranking := TopDeniedItems(items, decimal.Zero, 2)
	if len(ranking.ByValue) != 2 {
		t.Errorf("ByValue length = %d, want 2", len(ranking.ByValue))
	}
}

func TestDenialReasons(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "1001", "100.00", "60.00", "40.00"),
		reconciled("", "102", "1001", "100.00", "20.00", "80.00"),
		reconciled("", "103", "1801", "100.00", "20.00", "80.00"),
		// No denial: contributes nothing to the breakdown.
		reconciled("", "104", "", "100.00", "0.00", "100.00"),
	}

	reasons := DenialReasons(items, "")
	if len(reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %d", len(reasons))
	}

	top := reasons[0]
	if top.Code != "1001" {
		t.Errorf("top reason = %q, want 1001", top.Code)
	}
	if !top.Denied.Equal(dec("80.00")) {
		t.Errorf("denied = %s, want 80.00", top.Denied)
	}
	if top.Category != models.CategoryEligibility {
		t.Errorf("category = %q, want %q", top.Category, models.CategoryEligibility)
	}

	// Shares cover the whole denied value.
	total := decimal.Zero
	for _, r := range reasons {
		total = total.Add(r.SharePct)
	}
	if total.StringFixed(2) != "100.00" {
		t.Errorf("shares sum to %s, want 100.00", total.StringFixed(2))
	}
}

func TestDenialReasonsSplitByDescription(t *testing.T) {
	// The same reason code with divergent description text forms two groups,
	// mirroring how the statements themselves word the denial.
	a := reconciled("", "101", "1801", "100.00", "30.00", "70.00")
	a.Statement.DenialReasonDescription = "VALOR ACIMA DA TABELA"
	b := reconciled("", "102", "1801", "100.00", "10.00", "90.00")
	b.Statement.DenialReasonDescription = "TABELA DESATUALIZADA"

	reasons := DenialReasons([]models.ReconciledItem{a, b}, "")
	if len(reasons) != 2 {
		t.Fatalf("expected 2 reason groups, got %d", len(reasons))
	}
	if reasons[0].Description != "VALOR ACIMA DA TABELA" {
		t.Errorf("top description = %q, want VALOR ACIMA DA TABELA", reasons[0].Description)
	}
	if reasons[0].SharePct.StringFixed(2) != "75.00" {
		t.Errorf("top share = %s, want 75.00", reasons[0].SharePct.StringFixed(2))
	}
}

func TestDenialReasonsPeriodFilter(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("2024-03", "101", "1001", "100.00", "50.00", "50.00"),
		reconciled("2024-04", "102", "1801", "100.00", "30.00", "70.00"),
	}

	reasons := DenialReasons(items, "2024-03")
	if len(reasons) != 1 {
		t.Fatalf("expected 1 reason for the period, got %d", len(reasons))
	}
	if reasons[0].Code != "1001" {
		t.Errorf("reason = %q, want 1001", reasons[0].Code)
	}
}

func TestCategoryBreakdown(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "1001", "100.00", "40.00", "60.00"),
		reconciled("", "102", "1002", "100.00", "30.00", "70.00"),
		reconciled("", "103", "2201", "100.00", "20.00", "80.00"),
		reconciled("", "104", "9999", "100.00", "10.00", "90.00"),
	}

	categories := CategoryBreakdown(items, "")
	if len(categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(categories))
	}
	if categories[0].Category != models.CategoryEligibility {
		t.Errorf("top category = %q, want %q", categories[0].Category, models.CategoryEligibility)
	}
	if !categories[0].Denied.Equal(dec("70.00")) {
		t.Errorf("eligibility denied = %s, want 70.00", categories[0].Denied)
	}

	total := decimal.Zero
	for _, c := range categories {
		total = total.Add(c.SharePct)
	}
	if total.StringFixed(2) != "100.00" {
		t.Errorf("category shares sum to %s, want 100.00", total.StringFixed(2))
	}
}

func TestOutliers(t *testing.T) {
	// Presented values 1..8 plus 50 for the same procedure give Q1=3, Q3=7,
	// IQR=4, fences -3 and 13. Only 50 sits beyond a fence.
	var items []models.ReconciledItem
	for i := 1; i <= 8; i++ {
		items = append(items, reconciled("", "101", "", decimal.NewFromInt(int64(i)).String(), "0", "0"))
	}
	items = append(items, reconciled("", "101", "", "50.00", "0", "0"))

	outliers := Outliers(items, decimal.Decimal{})
	if len(outliers) != 1 {
		t.Fatalf("expected 1 outlier, got %d", len(outliers))
	}
	if !outliers[0].Presented.Equal(dec("50.00")) {
		t.Errorf("outlier presented = %s, want 50.00", outliers[0].Presented)
	}
	if !outliers[0].UpperFence.Equal(dec("13")) {
		t.Errorf("upper fence = %s, want 13", outliers[0].UpperFence)
	}
}

func TestOutliersLowerFence(t *testing.T) {
	// Four values at 100 and one at 50: IQR = 0, both fences sit at 100,
	// so 50 falls below the lower fence.
	items := []models.ReconciledItem{
		reconciled("", "101", "", "50.00", "0", "0"),
		reconciled("", "101", "", "100.00", "0", "0"),
		reconciled("", "101", "", "100.00", "0", "0"),
		reconciled("", "101", "", "100.00", "0", "0"),
		reconciled("", "101", "", "100.00", "0", "0"),
	}

	outliers := Outliers(items, decimal.Decimal{})
	if len(outliers) != 1 {
		t.Fatalf("expected 1 outlier, got %d", len(outliers))
	}
	if !outliers[0].Presented.Equal(dec("50.00")) {
		t.Errorf("outlier presented = %s, want 50.00", outliers[0].Presented)
	}
}

func TestOutliersFenceIsExclusive(t *testing.T) {
	// Four equal values: IQR = 0, fences = the common value. Sitting exactly
	// on a fence is not an outlier.
	items := []models.ReconciledItem{
		reconciled("", "101", "", "10.00", "0", "0"),
		reconciled("", "101", "", "10.00", "0", "0"),
		reconciled("", "101", "", "10.00", "0", "0"),
		reconciled("", "101", "", "10.00", "0", "0"),
	}

	outliers := Outliers(items, decimal.Decimal{})
	if len(outliers) != 0 {
		t.Errorf("value on the fence must not be flagged, got %d outliers", len(outliers))
	}
}

func TestOutliersGroupByDescription(t *testing.T) {
	// A reused code with two descriptions splits into two groups; the
	// three-item group is skipped, so its high value is not judged against
	// the other description's distribution.
	var items []models.ReconciledItem
	for i := 0; i < 4; i++ {
		it := reconciled("", "101", "", "10.00", "0", "0")
		it.Statement.ProcedureDescription = "CONSULTA"
		items = append(items, it)
	}
	for _, v := range []string{"10.00", "10.00", "50.00"} {
		it := reconciled("", "101", "", v, "0", "0")
		it.Statement.ProcedureDescription = "SESSAO"
		items = append(items, it)
	}

	if got := Outliers(items, decimal.Decimal{}); got != nil {
		t.Errorf("descriptions must separate the groups, got %d outliers", len(got))
	}
}

func TestOutliersSmallGroup(t *testing.T) {
	// Procedure groups under four items carry no quartile information.
	items := []models.ReconciledItem{
		reconciled("", "101", "", "999.00", "0", "0"),
		reconciled("", "102", "", "1.00", "0", "0"),
		reconciled("", "102", "", "1000.00", "0", "0"),
	}
	if got := Outliers(items, decimal.Decimal{}); got != nil {
		t.Errorf("groups under 4 have no quartiles, got %d outliers", len(got))
	}
}

func TestQuantileInterpolation(t *testing.T) {
	sorted := []decimal.Decimal{dec("1"), dec("2"), dec("3"), dec("4")}

	q1 := quantile(sorted, dec("0.25"))
	if q1.StringFixed(2) != "1.75" {
		t.Errorf("Q1 = %s, want 1.75", q1.StringFixed(2))
	}
	q3 := quantile(sorted, dec("0.75"))
	if q3.StringFixed(2) != "3.25" {
		t.Errorf("Q3 = %s, want 3.25", q3.StringFixed(2))
	}
	if !quantile(sorted, dec("1")).Equal(dec("4")) {
		t.Error("Q100 must be the maximum")
	}
}

func TestSimulate(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "1001", "100.00", "40.00", "60.00"),
		reconciled("", "102", "1801", "100.00", "20.00", "80.00"),
	}

	factors := map[string]decimal.Decimal{"1001": dec("0.5")}
	simulated := Simulate(items, factors)

	if !simulated[0].SimulatedDenied.Equal(dec("20.00")) {
		t.Errorf("simulated denied = %s, want 20.00", simulated[0].SimulatedDenied)
	}
	if !simulated[0].SimulatedPaid.Equal(dec("80.00")) {
		t.Errorf("simulated paid = %s, want 80.00", simulated[0].SimulatedPaid)
	}

	// Codes without a factor keep their denial.
	if !simulated[1].SimulatedDenied.Equal(dec("20.00")) {
		t.Errorf("untouched denied = %s, want 20.00", simulated[1].SimulatedDenied)
	}

	summary := SummarizeSimulation(simulated)
	if !summary.Recovered.Equal(dec("20.00")) {
		t.Errorf("recovered = %s, want 20.00", summary.Recovered)
	}
	if !summary.SimulatedDenied.Equal(dec("40.00")) {
		t.Errorf("summary simulated denied = %s, want 40.00", summary.SimulatedDenied)
	}
}

func TestSimulateIdentityFactor(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "1001", "100.00", "40.00", "60.00"),
	}

	simulated := Simulate(items, map[string]decimal.Decimal{"1001": dec("1")})
	summary := SummarizeSimulation(simulated)

	if !summary.SimulatedDenied.Equal(summary.CurrentDenied) {
		t.Errorf("factor 1 must be the identity: %s != %s", summary.SimulatedDenied, summary.CurrentDenied)
	}
	if !summary.Recovered.IsZero() {
		t.Errorf("recovered = %s, want 0", summary.Recovered)
	}
}

func TestPhysicianRanking(t *testing.T) {
	a := reconciled("", "101", "1001", "100.00", "50.00", "50.00")
	a.Billing.PhysicianName = "DR A"
	b := reconciled("", "102", "1001", "100.00", "10.00", "90.00")
	b.Billing.PhysicianName = "DR B"
	c := reconciled("", "103", "1001", "100.00", "30.00", "70.00")
	c.Billing.PhysicianName = "DR A"

	ranking := PhysicianRanking([]models.ReconciledItem{a, b, c}, 10)
	if len(ranking) != 2 {
		t.Fatalf("expected 2 physicians, got %d", len(ranking))
	}
	if ranking[0].PhysicianName != "DR A" {
		t.Errorf("top physician = %q, want DR A", ranking[0].PhysicianName)
	}
	if !ranking[0].Denied.Equal(dec("80.00")) {
		t.Errorf("denied = %s, want 80.00", ranking[0].Denied)
	}
}

func TestMatchOriginDistribution(t *testing.T) {
	items := []models.ReconciledItem{
		reconciled("", "101", "", "1", "0", "1"),
		reconciled("", "102", "", "1", "0", "1"),
	}
	items[1].MatchedOn = models.MatchedOnPayer

	dist := MatchOriginDistribution(items)
	if dist[models.MatchedOnProvider] != 1 || dist[models.MatchedOnPayer] != 1 {
		t.Errorf("distribution = %v", dist)
	}
}
