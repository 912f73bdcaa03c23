package recorder

import "survivald/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is unavailable.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordBalance(_ *BalanceEvent) error               { return nil }
func (n *NoopRecorder) RecordTierTransition(_ *TierTransition) error      { return nil }
func (n *NoopRecorder) RecordWork(_ *model.WorkResult) error              { return nil }
func (n *NoopRecorder) RecordDistribution(_ *DistributionEvent) error     { return nil }
func (n *NoopRecorder) RecordDistress(_ *DistressEvent) error             { return nil }
func (n *NoopRecorder) RecordMetricsSnapshot(_ *MetricsSnapshot) error    { return nil }
func (n *NoopRecorder) Close() error                                      { return nil }
