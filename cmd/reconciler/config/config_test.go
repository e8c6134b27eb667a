package config

import (
	"testing"

	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/internal/reporter"
)

func TestParseSimulationFactors(t *testing.T) {
	factors, err := ParseSimulationFactors([]string{"1201=0.2", "1001=0", "1801=1"})
	if err != nil {
		t.Fatalf("ParseSimulationFactors failed: %v", err)
	}
	if len(factors) != 3 {
		t.Fatalf("expected 3 factors, got %d", len(factors))
	}
	if !factors["1201"].Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("factor for 1201 = %s, want 0.2", factors["1201"])
	}
	if !factors["1001"].IsZero() {
		t.Errorf("factor for 1001 = %s, want 0", factors["1001"])
	}
}

func TestParseSimulationFactorsEmpty(t *testing.T) {
	factors, err := ParseSimulationFactors(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if factors != nil {
		t.Errorf("expected nil map, got %v", factors)
	}
}

func TestParseSimulationFactorsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing separator", "1201"},
		{"empty code", "=0.5"},
		{"non-numeric factor", "1201=abc"},
		{"negative factor", "1201=-0.1"},
		{"factor above one", "1201=1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSimulationFactors([]string{tt.input}); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}

func TestCreatePipelineConfig(t *testing.T) {
	config := CreatePipelineConfig(PipelineFlags{
		Tolerance:           0.05,
		DescriptionFallback: true,
		StripLeadingZeros:   true,
		MappingFile:         "mappings.json",
		Delimiter:           ',',
	})

	if !config.Matcher.Tolerance.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("tolerance = %s, want 0.05", config.Matcher.Tolerance)
	}
	if !config.Matcher.DescriptionFallback {
		t.Error("description fallback not applied")
	}
	if !config.StripLeadingZeros {
		t.Error("strip-leading-zeros not applied")
	}
	if config.MappingFile != "mappings.json" {
		t.Errorf("mapping file = %q", config.MappingFile)
	}
	if config.Reader.Delimiter != ',' {
		t.Errorf("delimiter = %q, want ','", config.Reader.Delimiter)
	}
}

func TestCreateReportConfig(t *testing.T) {
	config, err := CreateReportConfig("json", 5, 250, []string{"1001=0.5"})
	if err != nil {
		t.Fatalf("CreateReportConfig failed: %v", err)
	}
	if config.Format != reporter.FormatJSON {
		t.Errorf("format = %q, want json", config.Format)
	}
	if config.TopN != 5 {
		t.Errorf("topN = %d, want 5", config.TopN)
	}
	if !config.MinPresented.Equal(decimal.NewFromInt(250)) {
		t.Errorf("minPresented = %s, want 250", config.MinPresented)
	}
	if len(config.SimulationFactors) != 1 {
		t.Errorf("factors = %v", config.SimulationFactors)
	}

	if _, err := CreateReportConfig("csv", 10, 0, []string{"bad"}); err == nil {
		t.Error("invalid factors must propagate")
	}
}
