package treasury

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"survivald/internal/model"
)

const maxReturnSamples = 64

// Options configure distribution eligibility.
type Options struct {
	ProfitShareThresholdUSD float64
	MinWinRate              float64
	MinOperatingReserveUSD  float64
	MinEmergencyReserveUSD  float64
}

// Manager owns allocation policy and cumulative trading metrics. All
// mutation goes through its methods under one mutex; state is written to
// disk on every change so a crash mid-distribution is recoverable.
type Manager struct {
	mu       sync.Mutex
	state    *model.TreasuryState
	policy   model.AllocationPolicy
	opts     Options
	filePath string
}

// NewManager creates a Manager, loading or initializing state from disk.
func NewManager(filePath string, policy model.AllocationPolicy, opts Options) (*Manager, error) {
	if math.Abs(policy.Sum()-1.0) > 1e-9 {
		return nil, fmt.Errorf("allocation fractions must sum to 1.0, got %.12f", policy.Sum())
	}
	state, err := LoadState(filePath)
	if err != nil {
		return nil, err
	}
	if state.RecordedResults == nil {
		state.RecordedResults = make(map[string]bool)
	}
	if state.DistributionInFlight {
		// A previous run crashed between submitting the transfer and
		// acknowledging it. The transfer may have settled, so the pending
		// split is retired as if it had: skipping a payout that never went
		// out is operator-recoverable, paying the same share twice is not.
		if d := state.PendingDistribution; d != nil {
			logrus.Warnf("recovering mid-distribution crash: settling pending split of $%.2f as distributed", d.Total())
			state.Metrics.NetProfitUSD -= d.Total()
			state.TotalDistributedUSD += d.ToCreatorUSD
		} else {
			logrus.Warn("treasury state loaded with distribution in flight and no pending split; releasing guard")
		}
		state.DistributionInFlight = false
		state.PendingDistribution = nil
	}

	m := &Manager{state: state, policy: policy, opts: opts, filePath: filePath}
	if err := m.save(); err != nil {
		return nil, err
	}
	return m, nil
}

// ComputeAllocation converts a balance snapshot into a reserve breakdown.
// Pure function: the four components sum to TotalValueUSD within rounding.
func ComputeAllocation(b model.Balance, p model.AllocationPolicy) model.ReserveSnapshot {
	return model.ReserveSnapshot{
		Operating:          b.TotalValueUSD * p.OperatingFraction,
		Trading:            b.TotalValueUSD * p.TradingFraction,
		Emergency:          b.TotalValueUSD * p.EmergencyFraction,
		ProfitShareAccrued: b.TotalValueUSD * p.ProfitShareFraction,
	}
}

// Allocation returns the reserve breakdown of the latest observed balance.
func (m *Manager) Allocation() model.ReserveSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ComputeAllocation(m.state.LatestBalance, m.policy)
}

// ObserveBalance stores the latest balance snapshot.
func (m *Manager) ObserveBalance(b model.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LatestBalance = b
	if err := m.save(); err != nil {
		logrus.Errorf("save treasury state after balance observation: %v", err)
	}
}

// RecordWorkResult folds a terminal work result into the cumulative
// metrics. Results are deduplicated by opportunity ID, so replaying the
// same result never double-counts earnings.
func (m *Manager) RecordWorkResult(r model.WorkResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.RecordedResults[r.OpportunityID] {
		logrus.WithField("opportunity", r.OpportunityID).Debug("duplicate work result ignored")
		return
	}
	m.state.RecordedResults[r.OpportunityID] = true

	m.state.Metrics.TotalTrades++
	if r.Success {
		m.state.Metrics.Wins++
		m.state.Metrics.NetProfitUSD += r.EarnedUSD
		m.state.TotalEarnedUSD += r.EarnedUSD
	} else {
		m.state.Metrics.Losses++
	}

	m.state.ReturnSamples = append(m.state.ReturnSamples, r.EarnedUSD)
	if len(m.state.ReturnSamples) > maxReturnSamples {
		m.state.ReturnSamples = m.state.ReturnSamples[len(m.state.ReturnSamples)-maxReturnSamples:]
	}
	m.state.Metrics.SharpeRatio = sharpe(m.state.ReturnSamples)

	if err := m.save(); err != nil {
		logrus.Errorf("save treasury state after work result: %v", err)
	}
}

// Metrics returns a copy of the cumulative trading metrics.
func (m *Manager) Metrics() model.TradingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Metrics
}

// State returns a copy of the persisted treasury state.
func (m *Manager) State() model.TreasuryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := *m.state
	st.RecordedResults = nil
	st.ReturnSamples = nil
	if st.PendingDistribution != nil {
		d := *st.PendingDistribution
		st.PendingDistribution = &d
	}
	return st
}

// ShouldDistributeProfits reports whether a profit distribution is
// currently eligible: accumulated net profit above the threshold, win rate
// at or above the minimum, no distribution already in flight, and the
// reserve floors still intact after the latest balance read.
func (m *Manager) ShouldDistributeProfits(b model.Balance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.DistributionInFlight {
		return false
	}
	if m.state.Metrics.NetProfitUSD <= m.opts.ProfitShareThresholdUSD {
		return false
	}
	if m.state.Metrics.WinRate() < m.opts.MinWinRate {
		return false
	}
	alloc := ComputeAllocation(b, m.policy)
	if alloc.Operating < m.opts.MinOperatingReserveUSD {
		return false
	}
	if alloc.Emergency < m.opts.MinEmergencyReserveUSD {
		return false
	}
	return true
}

// CalculateProfitDistribution previews the split of the accrued net profit
// between the creator share and the compounding remainder. Pure: mutates
// nothing and moves no funds. The transfer path gets its split from
// BeginDistribution, which persists it under the guard.
func (m *Manager) CalculateProfitDistribution() model.Distribution {
	m.mu.Lock()
	defer m.mu.Unlock()

	net := m.state.Metrics.NetProfitUSD
	toCreator := net * m.policy.ProfitShareFraction
	return model.Distribution{
		ToCreatorUSD:  toCreator,
		ToCompoundUSD: net - toCreator,
	}
}

// BeginDistribution acquires the in-flight guard and returns the split to
// transfer. At most one distribution may be pending acknowledgment at any
// time; a second concurrent caller gets false and must not transfer. The
// split is persisted under the guard so a crash before acknowledgment can
// be reconciled on restart instead of re-spending the same accrued share.
func (m *Manager) BeginDistribution() (model.Distribution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.DistributionInFlight {
		return model.Distribution{}, false
	}
	net := m.state.Metrics.NetProfitUSD
	toCreator := net * m.policy.ProfitShareFraction
	d := model.Distribution{
		ToCreatorUSD:  toCreator,
		ToCompoundUSD: net - toCreator,
	}
	m.state.DistributionInFlight = true
	m.state.PendingDistribution = &d
	if err := m.save(); err != nil {
		logrus.Errorf("save treasury state after guard acquire: %v", err)
	}
	return d, true
}

// MarkDistributed clears the guard after a confirmed transfer and retires
// the distributed net profit. Profit recorded while the transfer was in
// flight survives the subtraction.
func (m *Manager) MarkDistributed(d model.Distribution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DistributionInFlight = false
	m.state.PendingDistribution = nil
	m.state.Metrics.NetProfitUSD -= d.Total()
	m.state.TotalDistributedUSD += d.ToCreatorUSD
	if err := m.save(); err != nil {
		logrus.Errorf("save treasury state after distribution: %v", err)
	}
}

// ReleaseDistribution clears the guard after a failed transfer so the next
// tick re-evaluates eligibility with the metrics unchanged.
func (m *Manager) ReleaseDistribution() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DistributionInFlight = false
	m.state.PendingDistribution = nil
	if err := m.save(); err != nil {
		logrus.Errorf("save treasury state after guard release: %v", err)
	}
}

func (m *Manager) save() error {
	return SaveState(m.filePath, m.state)
}

// sharpe computes the ratio of mean to standard deviation of per-job
// returns. Needs at least two samples and non-zero variance.
func sharpe(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(samples) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
