// Package config translates CLI flags into the component configurations of
// the reconciliation pipeline.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/matcher"
	"tiss-reconciliation-service/internal/parsers"
	"tiss-reconciliation-service/internal/reconciler"
	"tiss-reconciliation-service/internal/reporter"
)

// PipelineFlags carries the matcher and reader flag values of one CLI
// invocation.
type PipelineFlags struct {
	Tolerance           float64
	DescriptionFallback bool
	StripLeadingZeros   bool
	MappingFile         string
	Delimiter           rune
}

// CreatePipelineConfig creates a pipeline configuration from CLI flags.
func CreatePipelineConfig(flags PipelineFlags) *reconciler.Config {
	config := reconciler.DefaultConfig()

	config.StripLeadingZeros = flags.StripLeadingZeros
	config.MappingFile = flags.MappingFile

	config.Reader = parsers.DefaultStatementReaderConfig()
	if flags.Delimiter != 0 {
		config.Reader.Delimiter = flags.Delimiter
	}

	config.Matcher = matcher.DefaultConfig()
	config.Matcher.Tolerance = decimal.NewFromFloat(flags.Tolerance)
	config.Matcher.DescriptionFallback = flags.DescriptionFallback

	return config
}

// CreateReportConfig creates a report configuration for the specified
// output format and analytics flags.
func CreateReportConfig(format string, topN int, minPresented float64, simulate []string) (*reporter.Config, error) {
	config := reporter.DefaultConfig()

	switch format {
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
	default:
		config.Format = reporter.FormatConsole
	}

	config.TopN = topN
	config.MinPresented = decimal.NewFromFloat(minPresented)

	factors, err := ParseSimulationFactors(simulate)
	if err != nil {
		return nil, err
	}
	config.SimulationFactors = factors

	return config, nil
}

// ParseSimulationFactors parses "code=factor" pairs into a factor map. A
// factor of 0 recovers the denial entirely, 1 keeps it unchanged.
func ParseSimulationFactors(pairs []string) (map[string]decimal.Decimal, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	factors := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		code, value, found := strings.Cut(pair, "=")
		code = strings.TrimSpace(code)
		if !found || code == "" {
			return nil, fmt.Errorf("invalid simulation entry %q: expected code=factor", pair)
		}

		factor, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid simulation factor in %q: %w", pair, err)
		}
		if factor.IsNegative() || factor.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("simulation factor in %q must be between 0 and 1", pair)
		}
		factors[code] = factor
	}
	return factors, nil
}
