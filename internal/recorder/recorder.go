package recorder

import "survivald/internal/model"

// BalanceEvent is one oracle observation.
type BalanceEvent struct {
	PrimaryAmount float64
	StableAmount  float64
	TotalValueUSD float64
	Credit        float64
}

// TierTransition records a survival tier change with the readings that
// caused it.
type TierTransition struct {
	From        model.SurvivalTier
	To          model.SurvivalTier
	Credit      float64
	TreasuryUSD float64
}

// DistributionEvent records a profit distribution attempt.
type DistributionEvent struct {
	ToCreatorUSD  float64
	ToCompoundUSD float64
	ReceiptID     string
	Success       bool
	Note          string
}

// DistressEvent records an emitted distress broadcast.
type DistressEvent struct {
	Tier             model.SurvivalTier
	ConsecutiveTicks int
	Message          string
}

// MetricsSnapshot is a periodic dump of cumulative trading metrics.
type MetricsSnapshot struct {
	Metrics        model.TradingMetrics
	TotalEarnedUSD float64
}

// Recorder persists engine history for later analysis.
type Recorder interface {
	RecordBalance(evt *BalanceEvent) error
	RecordTierTransition(evt *TierTransition) error
	RecordWork(res *model.WorkResult) error
	RecordDistribution(evt *DistributionEvent) error
	RecordDistress(evt *DistressEvent) error
	RecordMetricsSnapshot(snap *MetricsSnapshot) error
	Close() error
}
