package tier

import (
	"time"

	"survivald/internal/model"
)

// Thresholds are the tier boundary readings for credit and treasury value.
// Invariant (checked at config validation): floor < low < high.
type Thresholds struct {
	CreditLow       float64
	CreditHigh      float64
	TreasuryFloor   float64
	TreasuryLow     float64
	TreasuryHigh    float64
	// UpgradeMargin is the hysteresis band: a tier upgrade requires the
	// readings to clear the entry thresholds by this fraction, so boundary
	// noise cannot flap between adjacent tiers every tick.
	UpgradeMargin float64
}

// DefaultParams returns the tier behavior table. Tick intervals are
// placeholders the caller overrides from configuration.
func DefaultParams() map[model.SurvivalTier]model.TierParams {
	return map[model.SurvivalTier]model.TierParams{
		model.TierNormal: {
			TickInterval:        time.Minute,
			ModelCostCeilingUSD: 1.00,
			MaxRiskLevel:        4,
			ShedBackground:      false,
			WorkUrgency:         "",
		},
		model.TierLowCompute: {
			TickInterval:        5 * time.Minute,
			ModelCostCeilingUSD: 0.10,
			MaxRiskLevel:        3,
			ShedBackground:      true,
			WorkUrgency:         model.UrgencyMedium,
		},
		model.TierCritical: {
			TickInterval:        10 * time.Minute,
			ModelCostCeilingUSD: 0.01,
			MaxRiskLevel:        2,
			ShedBackground:      true,
			WorkUrgency:         model.UrgencyHigh,
		},
		model.TierDead: {
			TickInterval:        30 * time.Minute,
			ModelCostCeilingUSD: 0,
			MaxRiskLevel:        0,
			ShedBackground:      true,
			WorkUrgency:         "",
		},
	}
}

// Classifier maps credit and treasury readings to a survival tier. It
// remembers the previous tier only for the hysteresis comparison; every
// classification is otherwise computed fresh from the raw readings.
type Classifier struct {
	th     Thresholds
	params map[model.SurvivalTier]model.TierParams
	prev   model.SurvivalTier
}

// NewClassifier creates a classifier over the given thresholds and tier
// parameter table.
func NewClassifier(th Thresholds, params map[model.SurvivalTier]model.TierParams) *Classifier {
	if params == nil {
		params = DefaultParams()
	}
	return &Classifier{th: th, params: params}
}

// Params returns the behavior row for a tier.
func (c *Classifier) Params(t model.SurvivalTier) model.TierParams {
	return c.params[t]
}

// Classify computes the current tier. Downgrades apply immediately; an
// upgrade from the previous tier must clear the thresholds by the upgrade
// margin. Readings never carry over, so an external funding event observed
// on a later balance read lifts even the dead tier.
func (c *Classifier) Classify(credit, treasuryUSD float64) model.SurvivalTier {
	raw := c.classify(credit, treasuryUSD, 1.0)

	if c.prev != "" && raw.Rank() < c.prev.Rank() {
		// Proposed upgrade: re-check against widened thresholds.
		confirmed := c.classify(credit, treasuryUSD, 1.0+c.th.UpgradeMargin)
		if confirmed.Rank() > raw.Rank() {
			raw = c.prev
		}
	}

	c.prev = raw
	return raw
}

// classify applies the raw threshold table, with thresholds scaled by the
// given factor. The worse of the two readings dominates; dead additionally
// requires credit to be exactly exhausted.
func (c *Classifier) classify(credit, treasuryUSD, scale float64) model.SurvivalTier {
	if credit == 0 && treasuryUSD < c.th.TreasuryFloor*scale {
		return model.TierDead
	}

	creditBand := band(credit, c.th.CreditLow*scale, c.th.CreditHigh*scale)
	treasuryBand := band(treasuryUSD, c.th.TreasuryLow*scale, c.th.TreasuryHigh*scale)

	worst := creditBand
	if treasuryBand > worst {
		worst = treasuryBand
	}

	switch worst {
	case bandHigh:
		return model.TierNormal
	case bandMid:
		return model.TierLowCompute
	default:
		return model.TierCritical
	}
}

type readingBand int

const (
	bandHigh readingBand = iota
	bandMid
	bandLow
)

func band(v, low, high float64) readingBand {
	switch {
	case v > high:
		return bandHigh
	case v > low:
		return bandMid
	default:
		return bandLow
	}
}
