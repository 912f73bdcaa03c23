package model

import "time"

// Category classifies what kind of paid work an opportunity is.
type Category string

const (
	CategoryTrading Category = "trading"
	CategoryData    Category = "data"
	CategoryCompute Category = "compute"
	CategorySocial  Category = "social"
)

// Urgency controls how aggressively short-duration work is favored.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// WorkOpportunity is a discovered, time-bounded chance to earn value.
// Immutable once created; expires if not claimed within a discovery cycle.
type WorkOpportunity struct {
	ID                       string
	Category                 Category
	Description              string
	EstimatedPayoutUSD       float64
	EstimatedDurationMinutes float64
	RiskLevel                int // 1 (safest) .. 5
	ExpiresAt                time.Time
}

// Expired reports whether the opportunity outlived its discovery cycle.
func (o WorkOpportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// WorkResult is the terminal outcome of one executed opportunity. Created
// exactly once, never mutated afterwards.
type WorkResult struct {
	OpportunityID    string
	Category         Category
	Success          bool
	EarnedUSD        float64
	TimeSpentMinutes float64
	FailureReason    string
}
