// Package analytics computes aggregate views over reconciled billing
// items: period KPIs, denial rankings, reason breakdowns, outlier
// detection and what-if recovery simulation. All monetary arithmetic uses
// decimals; percentages are exposed as decimals on a 0-100 scale.
package analytics

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// percentOf returns part/whole on a 0-100 scale, zero when whole is not
// positive. decimal.Div panics on zero so every ratio goes through here.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// PeriodKPI aggregates all reconciled items sharing a statement period.
type PeriodKPI struct {
	Period    string          `json:"period"`
	ItemCount int             `json:"item_count"`
	Presented decimal.Decimal `json:"presented_value"`
	Denied    decimal.Decimal `json:"denied_value"`
	Paid      decimal.Decimal `json:"paid_value"`
	DeniedPct decimal.Decimal `json:"denied_pct"`
}

// PeriodKPIs groups reconciled items by statement period, ascending by
// period label. Items whose statement carries no period fall into the
// empty-label bucket.
func PeriodKPIs(items []models.ReconciledItem) []PeriodKPI {
	groups := make(map[string]*PeriodKPI)
	for i := range items {
		st := &items[i].Statement
		kpi, ok := groups[st.Period]
		if !ok {
			kpi = &PeriodKPI{Period: st.Period}
			groups[st.Period] = kpi
		}
		kpi.ItemCount++
		kpi.Presented = kpi.Presented.Add(st.PresentedValue)
		kpi.Denied = kpi.Denied.Add(st.DeniedValue)
		kpi.Paid = kpi.Paid.Add(st.PaidValue)
	}

	result := make([]PeriodKPI, 0, len(groups))
	for _, kpi := range groups {
		kpi.DeniedPct = percentOf(kpi.Denied, kpi.Presented)
		result = append(result, *kpi)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Period < result[j].Period })
	return result
}

// groupKey is the pair of code and description used as a grouping identity.
// Statements from different payers can reuse a procedure or reason code with
// unrelated descriptions, so the code alone does not identify a group.
type groupKey struct {
	code        string
	description string
}

// DeniedProcedure aggregates denial totals for one procedure.
// ItemCount counts only the rows carrying a positive denial.
type DeniedProcedure struct {
	ProcedureCode        string          `json:"procedure_code"`
	ProcedureDescription string          `json:"procedure_description"`
	ItemCount            int             `json:"item_count"`
	Presented            decimal.Decimal `json:"presented_value"`
	Denied               decimal.Decimal `json:"denied_value"`
	DeniedPct            decimal.Decimal `json:"denied_pct"`
}

// DeniedRanking carries the two top-denied views: absolute denied value,
// and denial rate restricted to procedures above a presented-value floor.
type DeniedRanking struct {
	ByValue []DeniedProcedure `json:"by_value"`
	ByPct   []DeniedProcedure `json:"by_pct"`
}

// TopDeniedItems ranks procedures by denied value and by denial rate. The
// rate ranking only admits procedures whose accumulated presented value
// reaches minPresented, filtering out small-volume noise.
func TopDeniedItems(items []models.ReconciledItem, minPresented decimal.Decimal, topN int) DeniedRanking {
	groups := make(map[groupKey]*DeniedProcedure)
	for i := range items {
		st := &items[i].Statement
		key := groupKey{code: st.NormalizedProcedureCode, description: st.ProcedureDescription}
		agg, ok := groups[key]
		if !ok {
			agg = &DeniedProcedure{
				ProcedureCode:        key.code,
				ProcedureDescription: key.description,
			}
			groups[key] = agg
		}
		if st.DeniedValue.IsPositive() {
			agg.ItemCount++
		}
		agg.Presented = agg.Presented.Add(st.PresentedValue)
		agg.Denied = agg.Denied.Add(st.DeniedValue)
	}

	// Procedures with nothing denied stay out of both rankings.
	all := make([]DeniedProcedure, 0, len(groups))
	for _, agg := range groups {
		if !agg.Denied.IsPositive() {
			continue
		}
		agg.DeniedPct = percentOf(agg.Denied, agg.Presented)
		all = append(all, *agg)
	}

	byValue := make([]DeniedProcedure, len(all))
	copy(byValue, all)
	sort.Slice(byValue, func(i, j int) bool {
		if !byValue[i].Denied.Equal(byValue[j].Denied) {
			return byValue[i].Denied.GreaterThan(byValue[j].Denied)
		}
		if byValue[i].ProcedureCode != byValue[j].ProcedureCode {
			return byValue[i].ProcedureCode < byValue[j].ProcedureCode
		}
		return byValue[i].ProcedureDescription < byValue[j].ProcedureDescription
	})

	var byPct []DeniedProcedure
	for _, agg := range all {
		if agg.Presented.GreaterThanOrEqual(minPresented) {
			byPct = append(byPct, agg)
		}
	}
	sort.Slice(byPct, func(i, j int) bool {
		if !byPct[i].DeniedPct.Equal(byPct[j].DeniedPct) {
			return byPct[i].DeniedPct.GreaterThan(byPct[j].DeniedPct)
		}
		if byPct[i].ProcedureCode != byPct[j].ProcedureCode {
			return byPct[i].ProcedureCode < byPct[j].ProcedureCode
		}
		return byPct[i].ProcedureDescription < byPct[j].ProcedureDescription
	})

	return DeniedRanking{
		ByValue: truncate(byValue, topN),
		ByPct:   truncate(byPct, topN),
	}
}

func truncate(rows []DeniedProcedure, n int) []DeniedProcedure {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

// DenialReason aggregates the denial totals attributed to one reason code.
type DenialReason struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	ItemCount   int             `json:"item_count"`
	Denied      decimal.Decimal `json:"denied_value"`
	SharePct    decimal.Decimal `json:"share_pct"`
}

// DenialReasons breaks total denied value down by reason code, descending
// by denied value. period filters to one statement period; empty means all
// periods. Rows without any denied value are skipped, so shares always sum
// to 100 when any denial exists.
func DenialReasons(items []models.ReconciledItem, period string) []DenialReason {
	groups := make(map[groupKey]*DenialReason)
	total := decimal.Zero
	for i := range items {
		st := &items[i].Statement
		if period != "" && st.Period != period {
			continue
		}
		if !st.DeniedValue.IsPositive() {
			continue
		}
		key := groupKey{code: st.DenialReasonCode, description: st.DenialReasonDescription}
		reason, ok := groups[key]
		if !ok {
			reason = &DenialReason{
				Code:        key.code,
				Description: key.description,
				Category:    models.CategorizeDenialReason(key.code),
			}
			groups[key] = reason
		}
		reason.ItemCount++
		reason.Denied = reason.Denied.Add(st.DeniedValue)
		total = total.Add(st.DeniedValue)
	}

	result := make([]DenialReason, 0, len(groups))
	for _, reason := range groups {
		reason.SharePct = percentOf(reason.Denied, total)
		result = append(result, *reason)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Denied.Equal(result[j].Denied) {
			return result[i].Denied.GreaterThan(result[j].Denied)
		}
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].Description < result[j].Description
	})
	return result
}

// CategoryBreakdown aggregates denial reasons into administrative
// categories, descending by denied value.
func CategoryBreakdown(items []models.ReconciledItem, period string) []DenialReason {
	byCategory := make(map[string]*DenialReason)
	total := decimal.Zero
	for _, reason := range DenialReasons(items, period) {
		agg, ok := byCategory[reason.Category]
		if !ok {
			agg = &DenialReason{Code: reason.Category, Category: reason.Category}
			byCategory[reason.Category] = agg
		}
		agg.ItemCount += reason.ItemCount
		agg.Denied = agg.Denied.Add(reason.Denied)
		total = total.Add(reason.Denied)
	}

	result := make([]DenialReason, 0, len(byCategory))
	for _, agg := range byCategory {
		agg.SharePct = percentOf(agg.Denied, total)
		result = append(result, *agg)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Denied.Equal(result[j].Denied) {
			return result[i].Denied.GreaterThan(result[j].Denied)
		}
		return result[i].Category < result[j].Category
	})
	return result
}

// Outlier flags one reconciled item whose presented value falls outside the
// Tukey fences of its procedure group.
type Outlier struct {
	Item       models.ReconciledItem `json:"item"`
	Presented  decimal.Decimal       `json:"presented_value"`
	LowerFence decimal.Decimal       `json:"lower_fence"`
	UpperFence decimal.Decimal       `json:"upper_fence"`
}

// Outliers applies the Tukey rule to presented values within each procedure
// group: an item is an outlier when its
// presented value is strictly below Q1 - k*IQR or strictly above Q3 + k*IQR.
// An item sitting exactly on a fence is not flagged. Groups with fewer than
// four items are skipped; sample quartiles say nothing there. k defaults to
// 1.5 when not positive.
func Outliers(items []models.ReconciledItem, k decimal.Decimal) []Outlier {
	if !k.IsPositive() {
		k = decimal.NewFromFloat(1.5)
	}

	groups := make(map[groupKey][]int)
	for i := range items {
		st := &items[i].Statement
		key := groupKey{code: st.NormalizedProcedureCode, description: st.ProcedureDescription}
		groups[key] = append(groups[key], i)
	}

	var outliers []Outlier
	for _, indexes := range groups {
		if len(indexes) < 4 {
			continue
		}

		sorted := make([]decimal.Decimal, 0, len(indexes))
		for _, i := range indexes {
			sorted = append(sorted, items[i].Statement.PresentedValue)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

		q1 := quantile(sorted, decimal.NewFromFloat(0.25))
		q3 := quantile(sorted, decimal.NewFromFloat(0.75))
		spread := k.Mul(q3.Sub(q1))
		lower := q1.Sub(spread)
		upper := q3.Add(spread)

		for _, i := range indexes {
			presented := items[i].Statement.PresentedValue
			if presented.LessThan(lower) || presented.GreaterThan(upper) {
				outliers = append(outliers, Outlier{
					Item:       items[i],
					Presented:  presented,
					LowerFence: lower,
					UpperFence: upper,
				})
			}
		}
	}
	sort.Slice(outliers, func(i, j int) bool {
		return outliers[i].Presented.GreaterThan(outliers[j].Presented)
	})
	return outliers
}

// quantile returns the q-th quantile of a sorted sample using linear
// interpolation between the two nearest ranks.
func quantile(sorted []decimal.Decimal, q decimal.Decimal) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return sorted[0]
	}

	pos := q.Mul(decimal.NewFromInt(int64(n - 1)))
	lower := pos.IntPart()
	frac := pos.Sub(decimal.NewFromInt(lower))
	if int(lower) >= n-1 {
		return sorted[n-1]
	}
	lo := sorted[lower]
	hi := sorted[lower+1]
	return lo.Add(frac.Mul(hi.Sub(lo)))
}

// SimulatedItem is one reconciled item under a recovery scenario.
type SimulatedItem struct {
	Item            models.ReconciledItem `json:"item"`
	Factor          decimal.Decimal       `json:"factor"`
	SimulatedDenied decimal.Decimal       `json:"simulated_denied"`
	SimulatedPaid   decimal.Decimal       `json:"simulated_paid"`
}

// SimulationSummary aggregates a recovery scenario.
type SimulationSummary struct {
	Presented       decimal.Decimal `json:"presented_value"`
	CurrentDenied   decimal.Decimal `json:"current_denied"`
	CurrentPaid     decimal.Decimal `json:"current_paid"`
	SimulatedDenied decimal.Decimal `json:"simulated_denied"`
	SimulatedPaid   decimal.Decimal `json:"simulated_paid"`
	Recovered       decimal.Decimal `json:"recovered_value"`
}

// Simulate applies per-reason-code reduction factors to denied values. A
// factor of 1 keeps the denial, 0 recovers it entirely. Codes absent from
// factors keep factor 1. Simulated denied is clamped at zero and the
// simulated paid value is presented minus simulated denied, also clamped
// at zero.
func Simulate(items []models.ReconciledItem, factors map[string]decimal.Decimal) []SimulatedItem {
	one := decimal.NewFromInt(1)
	result := make([]SimulatedItem, 0, len(items))
	for i := range items {
		st := &items[i].Statement
		factor := one
		if f, ok := factors[st.DenialReasonCode]; ok {
			factor = f
		}

		simDenied := st.DeniedValue.Mul(factor)
		if simDenied.IsNegative() {
			simDenied = decimal.Zero
		}
		simPaid := st.PresentedValue.Sub(simDenied)
		if simPaid.IsNegative() {
			simPaid = decimal.Zero
		}

		result = append(result, SimulatedItem{
			Item:            items[i],
			Factor:          factor,
			SimulatedDenied: simDenied,
			SimulatedPaid:   simPaid,
		})
	}
	return result
}

// SummarizeSimulation totals a simulated scenario against the current
// state.
func SummarizeSimulation(simulated []SimulatedItem) SimulationSummary {
	var s SimulationSummary
	for i := range simulated {
		st := &simulated[i].Item.Statement
		s.Presented = s.Presented.Add(st.PresentedValue)
		s.CurrentDenied = s.CurrentDenied.Add(st.DeniedValue)
		s.CurrentPaid = s.CurrentPaid.Add(st.PaidValue)
		s.SimulatedDenied = s.SimulatedDenied.Add(simulated[i].SimulatedDenied)
		s.SimulatedPaid = s.SimulatedPaid.Add(simulated[i].SimulatedPaid)
	}
	s.Recovered = s.CurrentDenied.Sub(s.SimulatedDenied)
	return s
}

// PhysicianStanding aggregates denial totals for one executing physician.
type PhysicianStanding struct {
	PhysicianName string          `json:"physician_name"`
	ItemCount     int             `json:"item_count"`
	Presented     decimal.Decimal `json:"presented_value"`
	Denied        decimal.Decimal `json:"denied_value"`
	DeniedPct     decimal.Decimal `json:"denied_pct"`
}

// PhysicianRanking groups reconciled items by the executing physician on
// the billing side, descending by denied value. Items without a physician
// name fall into the empty-name bucket.
func PhysicianRanking(items []models.ReconciledItem, topN int) []PhysicianStanding {
	groups := make(map[string]*PhysicianStanding)
	for i := range items {
		name := strings.TrimSpace(items[i].Billing.PhysicianName)
		agg, ok := groups[name]
		if !ok {
			agg = &PhysicianStanding{PhysicianName: name}
			groups[name] = agg
		}
		st := &items[i].Statement
		agg.ItemCount++
		agg.Presented = agg.Presented.Add(st.PresentedValue)
		agg.Denied = agg.Denied.Add(st.DeniedValue)
	}

	result := make([]PhysicianStanding, 0, len(groups))
	for _, agg := range groups {
		agg.DeniedPct = percentOf(agg.Denied, agg.Presented)
		result = append(result, *agg)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Denied.Equal(result[j].Denied) {
			return result[i].Denied.GreaterThan(result[j].Denied)
		}
		return result[i].PhysicianName < result[j].PhysicianName
	})
	if topN > 0 && len(result) > topN {
		result = result[:topN]
	}
	return result
}

// MatchOriginDistribution counts reconciled items per matching tier.
func MatchOriginDistribution(items []models.ReconciledItem) map[models.MatchOrigin]int {
	dist := make(map[models.MatchOrigin]int)
	for i := range items {
		dist[items[i].MatchedOn]++
	}
	return dist
}
