package model

import "time"

// SurvivalTier is the discrete operational capacity level derived every
// tick from the external credit reading and treasury value.
type SurvivalTier string

const (
	TierNormal     SurvivalTier = "normal"
	TierLowCompute SurvivalTier = "low_compute"
	TierCritical   SurvivalTier = "critical"
	TierDead       SurvivalTier = "dead"
)

// Rank orders tiers from healthiest (0) to dead (3).
func (t SurvivalTier) Rank() int {
	switch t {
	case TierNormal:
		return 0
	case TierLowCompute:
		return 1
	case TierCritical:
		return 2
	default:
		return 3
	}
}

// WorseThan reports whether t is more degraded than other.
func (t SurvivalTier) WorseThan(other SurvivalTier) bool {
	return t.Rank() > other.Rank()
}

// TierParams is one row of the tier behavior table. Adding a tier or
// changing its effects is a data change, not a code change.
type TierParams struct {
	TickInterval        time.Duration
	ModelCostCeilingUSD float64
	MaxRiskLevel        int
	ShedBackground      bool
	// WorkUrgency is empty when the tier does not seek paid work on its own.
	WorkUrgency Urgency
}
