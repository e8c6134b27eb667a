package matcher

import (
	"github.com/shopspring/decimal"

	"tiss-reconciliation-service/pkg/errors"
)

// Config controls the reconciliation engine.
type Config struct {
	// Tolerance is the absolute monetary distance accepted by the
	// description-and-value fallback tier. Two candidate rows tie-break in
	// favor of the smaller distance.
	Tolerance decimal.Decimal

	// DescriptionFallback enables the third matching tier. It is off by
	// default because description text varies across payer exports.
	DescriptionFallback bool
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() *Config {
	return &Config{
		Tolerance: decimal.NewFromFloat(0.02),
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Tolerance.IsNegative() {
		return errors.ConfigurationError("tolerance", c.Tolerance.String(), nil)
	}
	return nil
}
