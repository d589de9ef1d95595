package usecase

import "fmt"

// TemporalBoostConfig holds the score multipliers applied to recently
// published articles during morning letter retrieval.
type TemporalBoostConfig struct {
	// Boost6h multiplies scores of articles published within the last 6 hours.
	Boost6h float32

	// Boost12h multiplies scores of articles published 6 to 12 hours ago.
	Boost12h float32

	// Boost18h multiplies scores of articles published 12 to 18 hours ago.
	Boost18h float32
}

// DefaultTemporalBoostConfig returns the current production defaults.
func DefaultTemporalBoostConfig() TemporalBoostConfig {
	return TemporalBoostConfig{
		Boost6h:  1.3,
		Boost12h: 1.15,
		Boost18h: 1.05,
	}
}

// GetBoostFactor returns the multiplier for an article published hoursSince
// hours ago. Articles older than 18 hours are not boosted.
func (c TemporalBoostConfig) GetBoostFactor(hoursSince float64) float32 {
	switch {
	case hoursSince <= 6:
		return c.Boost6h
	case hoursSince <= 12:
		return c.Boost12h
	case hoursSince <= 18:
		return c.Boost18h
	default:
		return 1.0
	}
}

// Validate rejects multipliers below 1.0. Boosting must never penalize a
// recent article relative to an older one.
func (c TemporalBoostConfig) Validate() error {
	if c.Boost6h < 1.0 {
		return fmt.Errorf("boost6h must be >= 1.0, got %f", c.Boost6h)
	}
	if c.Boost12h < 1.0 {
		return fmt.Errorf("boost12h must be >= 1.0, got %f", c.Boost12h)
	}
	if c.Boost18h < 1.0 {
		return fmt.Errorf("boost18h must be >= 1.0, got %f", c.Boost18h)
	}
	return nil
}
