package matcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/models"
)

// descriptionKey addresses the fallback index. A struct key keeps guide and
// description apart even when the description itself contains the key
// separator used elsewhere.
type descriptionKey struct {
	guide       string
	description string
}

// StatementIndex holds payment-statement rows indexed for the matching
// tiers. Rows are never consumed: every billing item sees the full index,
// so one statement row may legitimately pair with several items.
type StatementIndex struct {
	byKey           map[string][]models.StatementRow
	byGuideAndDescr map[descriptionKey][]models.StatementRow
}

// NewStatementIndex builds the index for a batch of statement rows.
func NewStatementIndex(rows []models.StatementRow) *StatementIndex {
	idx := &StatementIndex{
		byKey:           make(map[string][]models.StatementRow),
		byGuideAndDescr: make(map[descriptionKey][]models.StatementRow),
	}
	for _, row := range rows {
		idx.byKey[row.Key()] = append(idx.byKey[row.Key()], row)

		dk := descriptionKey{
			guide:       strings.TrimSpace(row.ProviderGuideNumber),
			description: row.ProcedureDescription,
		}
		if dk.description != "" {
			idx.byGuideAndDescr[dk] = append(idx.byGuideAndDescr[dk], row)
		}
	}
	return idx
}

// Size reports the number of distinct reconciliation keys.
func (idx *StatementIndex) Size() int {
	return len(idx.byKey)
}

// LookupKey returns all statement rows sharing a reconciliation key.
func (idx *StatementIndex) LookupKey(key string) []models.StatementRow {
	return idx.byKey[key]
}

// LookupDescription returns the statement rows on the same guide with the
// identical description text whose presented value lies within tolerance of
// target, closest first. The comparison is exact; descriptions are trimmed
// at parse time but otherwise kept as the payer wrote them.
func (idx *StatementIndex) LookupDescription(guide, description string, target, tolerance decimal.Decimal) []models.StatementRow {
	dk := descriptionKey{
		guide:       strings.TrimSpace(guide),
		description: description,
	}
	if dk.description == "" {
		return nil
	}

	var within []models.StatementRow
	for _, row := range idx.byGuideAndDescr[dk] {
		if row.PresentedValue.Sub(target).Abs().LessThanOrEqual(tolerance) {
			within = append(within, row)
		}
	}
	if len(within) > 1 {
		sortByDistance(within, target)
	}
	return within
}

// sortByDistance orders rows by absolute distance of presented value from
// target. Insertion sort: candidate lists are tiny.
func sortByDistance(rows []models.StatementRow, target decimal.Decimal) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0; j-- {
			dj := rows[j].PresentedValue.Sub(target).Abs()
			dp := rows[j-1].PresentedValue.Sub(target).Abs()
			if dj.GreaterThanOrEqual(dp) {
				break
			}
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}
