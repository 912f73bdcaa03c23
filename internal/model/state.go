package model

import "time"

// TreasuryState is the persisted treasury snapshot. It must survive
// restarts so that a crash mid-distribution is recoverable rather than
// silently duplicated or lost.
type TreasuryState struct {
	LatestBalance        Balance         `json:"latest_balance"`
	Metrics              TradingMetrics  `json:"metrics"`
	TotalEarnedUSD       float64         `json:"total_earned_usd"`
	TotalDistributedUSD  float64         `json:"total_distributed_usd"`
	DistributionInFlight bool            `json:"distribution_in_flight"`
	PendingDistribution  *Distribution   `json:"pending_distribution,omitempty"`
	RecordedResults      map[string]bool `json:"recorded_results"`
	ReturnSamples        []float64       `json:"return_samples"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// HeartbeatState is the scheduler's own bookkeeping, mutated once per tick
// and reset on tier improvement.
type HeartbeatState struct {
	TickInterval        time.Duration `json:"tick_interval"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ConsecutiveLowTicks int           `json:"consecutive_low_ticks"`
	LastTick            time.Time     `json:"last_tick"`
	LastDistressAt      time.Time     `json:"last_distress_at"`
}
