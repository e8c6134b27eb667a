// Package normalize contains the value-cleaning utilities shared by the
// extraction, statement-loading, and reconciliation stages.
//
// Source data is a mix of TISS XML (dot decimal separator) and Brazilian
// payment statements (comma decimal separator, dotted thousands, assorted
// code punctuation). Everything here is lenient by policy: unparsable input
// cleans to a zero value instead of failing, so a badly formatted cell never
// costs the whole row.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	codeSeparators = regexp.MustCompile(`[.\-_/ \t]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// ParseDecimal parses a locale-formatted numeric string into a decimal.
// It accepts both "1234.56" and Brazilian "1.234,56" forms, with an optional
// "R$" prefix. The boolean reports whether the value was coerced to zero
// because the input was empty or unparsable; callers that want diagnostics
// can count coercions, everyone else ignores it.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, true
	}

	if strings.Contains(s, ",") {
		// Comma decimal separator; dots are thousands separators.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, true
	}
	return d, false
}

// Code normalizes a procedure or guide code so heterogeneous representations
// ("00.01.01", "000101") compare equal across sources. Separators are
// removed; leading zeros are stripped only when the policy flag is set.
// Idempotent.
func Code(s string, stripLeadingZeros bool) string {
	s = strings.TrimSpace(codeSeparators.ReplaceAllString(s, ""))
	if stripLeadingZeros {
		s = strings.TrimLeft(s, "0")
	}
	return s
}

// GuideNumber cleans a statement-side guide number: spreadsheet exports
// frequently render integer guides as "12345.0", and leading zeros differ
// between the billing and statement sides.
func GuideNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	return strings.TrimLeft(s, "0")
}

// FormatCurrency renders a decimal as a Brazilian currency string:
// "R$ 1.234,56", with a leading minus for negative values. Presentation
// only; callers must apply it exactly once on a finalized numeric column,
// re-applying would double-format.
func FormatCurrency(d decimal.Decimal) string {
	neg := d.IsNegative()
	abs := d.Abs()

	units := abs.Truncate(0)
	cents := abs.Sub(units).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if cents >= 100 {
		// Rounding carried into the unit place.
		units = units.Add(decimal.NewFromInt(1))
		cents -= 100
	}

	digits := units.String()
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	out := "R$ " + b.String() + "," + padCents(cents)
	if neg {
		return "-" + out
	}
	return out
}

func padCents(c int64) string {
	if c < 10 {
		return "0" + decimal.NewFromInt(c).String()
	}
	return decimal.NewFromInt(c).String()
}

// HeaderText normalizes a column header for heuristic detection: accents
// stripped, lowercased, whitespace collapsed.
func HeaderText(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(strings.TrimSpace(stripped))
	return whitespaceRun.ReplaceAllString(stripped, " ")
}

// flexDateFormats covers the date renderings seen in TISS exports and
// statement spreadsheets.
var flexDateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	"02-01-2006",
}

// FlexDate parses a date in any of the supported renderings. The boolean
// reports success.
func FlexDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, format := range flexDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
