package heartbeat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survivald/internal/model"
	"survivald/internal/recorder"
	"survivald/internal/tier"
	"survivald/internal/treasury"
)

type fakeObserver struct {
	balance model.Balance
	credit  float64
	err     error
}

func (f *fakeObserver) Observe(_ context.Context) (model.Balance, float64, error) {
	if f.err != nil {
		return model.Balance{}, 0, f.err
	}
	return f.balance, f.credit, nil
}

type fakeTransferer struct {
	mu               sync.Mutex
	calls            int
	err              error
	blockUntilCancel bool
}

func (f *fakeTransferer) Transfer(ctx context.Context, _ float64, _ string) (string, error) {
	f.mu.Lock()
	block := f.blockUntilCancel
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return "receipt-1", nil
}

func (f *fakeTransferer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWork struct {
	mu        sync.Mutex
	cycles    []model.Urgency
	ceiling   int
	shutdowns int
}

func (f *fakeWork) RunCycle(_ context.Context, u model.Urgency) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, u)
}

func (f *fakeWork) SetRiskCeiling(maxRisk int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ceiling = maxRisk
}

func (f *fakeWork) Stats() model.WorkStats { return model.WorkStats{} }

func (f *fakeWork) Shutdown(_ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeWork) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

func (f *fakeWork) Cycles() []model.Urgency {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Urgency, len(f.cycles))
	copy(out, f.cycles)
	return out
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeBroadcaster) SendWithRetry(_ context.Context, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeBroadcaster) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

var testThresholds = tier.Thresholds{
	CreditLow:     0.1,
	CreditHigh:    0.5,
	TreasuryFloor: 10,
	TreasuryLow:   25,
	TreasuryHigh:  100,
	UpgradeMargin: 0.10,
}

type fixture struct {
	sched       *Scheduler
	observer    *fakeObserver
	transferer  *fakeTransferer
	work        *fakeWork
	broadcaster *fakeBroadcaster
	treasury    *treasury.Manager
}

func newFixture(t *testing.T, opts treasury.Options) *fixture {
	t.Helper()

	tm, err := treasury.NewManager(filepath.Join(t.TempDir(), "state.json"), model.AllocationPolicy{
		OperatingFraction:   0.40,
		TradingFraction:     0.30,
		EmergencyFraction:   0.20,
		ProfitShareFraction: 0.10,
	}, opts)
	require.NoError(t, err)

	f := &fixture{
		observer:    &fakeObserver{},
		transferer:  &fakeTransferer{},
		work:        &fakeWork{},
		broadcaster: &fakeBroadcaster{},
		treasury:    tm,
	}
	f.sched = NewScheduler(Config{
		DistressAfterTicks: 2,
		DistressMinGap:     time.Hour,
		CreatorAddress:     "creator-wallet",
		WorkPriority:       model.UrgencyMedium,
		ShutdownGrace:      time.Second,
	}, f.observer, f.transferer, tm, f.work, tier.NewClassifier(testThresholds, nil),
		f.broadcaster, recorder.NewNoopRecorder())
	return f
}

// A credit of zero with the treasury under the floor is terminal: no work
// engine invocation, distress broadcast immediately.
func TestTick_DeadTierHaltsPaidCapability(t *testing.T) {
	f := newFixture(t, treasury.Options{})
	f.observer.balance = model.Balance{TotalValueUSD: 5}
	f.observer.credit = 0

	f.sched.runTick(context.Background())

	status := f.sched.Status()
	assert.Equal(t, model.TierDead, status.Tier)
	assert.Empty(t, f.work.Cycles(), "dead tier must not invoke the work engine")
	assert.Zero(t, f.transferer.Calls())

	msgs := f.broadcaster.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "DISTRESS")
	// the tick that entered dead is counted before the message is built
	assert.Contains(t, msgs[0], "dead for 1 consecutive ticks")
	assert.Equal(t, 1, status.Heartbeat.ConsecutiveLowTicks)
}

func TestTick_NormalTierUsesFastestCadence(t *testing.T) {
	f := newFixture(t, treasury.Options{})
	f.observer.balance = model.Balance{TotalValueUSD: 120}
	f.observer.credit = 1.0

	f.sched.runTick(context.Background())

	status := f.sched.Status()
	assert.Equal(t, model.TierNormal, status.Tier)

	params := tier.DefaultParams()
	assert.Equal(t, params[model.TierNormal].TickInterval, status.Heartbeat.TickInterval)
	assert.Empty(t, f.work.Cycles(), "normal tier seeks work only on request")
}

func TestTick_ScarcityInvokesWorkEngine(t *testing.T) {
	f := newFixture(t, treasury.Options{})
	f.observer.balance = model.Balance{TotalValueUSD: 15}
	f.observer.credit = 2.0

	f.sched.runTick(context.Background())

	status := f.sched.Status()
	assert.Equal(t, model.TierCritical, status.Tier)
	require.Len(t, f.work.Cycles(), 1)
	assert.Equal(t, model.UrgencyHigh, f.work.Cycles()[0])
	assert.Equal(t, 2, f.work.ceiling)
}

func TestTick_DistressAfterSustainedCritical(t *testing.T) {
	f := newFixture(t, treasury.Options{})
	f.observer.balance = model.Balance{TotalValueUSD: 15}
	f.observer.credit = 2.0

	f.sched.runTick(context.Background())
	assert.Empty(t, f.broadcaster.Messages(), "first critical tick is below the distress count")

	f.sched.runTick(context.Background())
	msgs := f.broadcaster.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "DISTRESS")

	// throttled by the minimum gap
	f.sched.runTick(context.Background())
	assert.Len(t, f.broadcaster.Messages(), 1)
}

func TestTick_ObserverFailureCountsAndRecovers(t *testing.T) {
	f := newFixture(t, treasury.Options{})
	f.observer.err = errors.New("ledger unreachable")

	f.sched.runTick(context.Background())
	f.sched.runTick(context.Background())
	assert.Equal(t, 2, f.sched.Status().Heartbeat.ConsecutiveFailures)

	f.observer.err = nil
	f.observer.balance = model.Balance{TotalValueUSD: 120}
	f.observer.credit = 1.0
	f.sched.runTick(context.Background())
	assert.Zero(t, f.sched.Status().Heartbeat.ConsecutiveFailures)
}

func TestTick_DistributesProfitsWhenEligible(t *testing.T) {
	f := newFixture(t, treasury.Options{ProfitShareThresholdUSD: 50, MinWinRate: 0.5})
	f.treasury.RecordWorkResult(model.WorkResult{OpportunityID: "win", Success: true, EarnedUSD: 80})
	f.observer.balance = model.Balance{TotalValueUSD: 500}
	f.observer.credit = 1.0

	f.sched.runTick(context.Background())

	assert.Equal(t, 1, f.transferer.Calls())
	assert.InDelta(t, 0, f.treasury.Metrics().NetProfitUSD, 1e-9)
	assert.False(t, f.treasury.State().DistributionInFlight)

	var sawNotice bool
	for _, m := range f.broadcaster.Messages() {
		if strings.Contains(m, "distribution") {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice)
}

// A failed transfer releases the guard; the next tick retries with the
// same metrics and succeeds.
func TestTick_FailedTransferRetriesNextTick(t *testing.T) {
	f := newFixture(t, treasury.Options{ProfitShareThresholdUSD: 50, MinWinRate: 0.5})
	f.treasury.RecordWorkResult(model.WorkResult{OpportunityID: "win", Success: true, EarnedUSD: 80})
	f.observer.balance = model.Balance{TotalValueUSD: 500}
	f.observer.credit = 1.0

	f.transferer.err = errors.New("ledger rejected transfer")
	f.sched.runTick(context.Background())

	assert.Zero(t, f.transferer.Calls())
	assert.False(t, f.treasury.State().DistributionInFlight, "guard must be released on failure")
	assert.True(t, f.treasury.ShouldDistributeProfits(f.observer.balance))
	assert.Equal(t, 1, f.sched.Status().Heartbeat.ConsecutiveFailures)

	f.transferer.err = nil
	f.sched.runTick(context.Background())
	assert.Equal(t, 1, f.transferer.Calls())
	assert.Zero(t, f.sched.Status().Heartbeat.ConsecutiveFailures)
}

func TestRequestWork_CoalescesAndRunsBetweenTicks(t *testing.T) {
	f := newFixture(t, treasury.Options{})
	f.observer.balance = model.Balance{TotalValueUSD: 120}
	f.observer.credit = 1.0

	ctx, cancel := context.WithCancel(context.Background())
	go f.sched.Run(ctx)

	f.sched.RequestWork()
	require.Eventually(t, func() bool {
		return len(f.work.Cycles()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, model.UrgencyMedium, f.work.Cycles()[0])

	cancel()
}

// Cancelling the loop while a distribution transfer is pending must drain
// the work engine within the grace period and never leave the guard held.
func TestShutdown_NeverLeavesDistributionGuardHeld(t *testing.T) {
	f := newFixture(t, treasury.Options{ProfitShareThresholdUSD: 50, MinWinRate: 0.5})
	f.treasury.RecordWorkResult(model.WorkResult{OpportunityID: "win", Success: true, EarnedUSD: 80})
	f.observer.balance = model.Balance{TotalValueUSD: 500}
	f.observer.credit = 1.0
	f.transferer.blockUntilCancel = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	// the first tick is mid-transfer, holding the guard
	require.Eventually(t, func() bool {
		return f.treasury.State().DistributionInFlight
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	assert.False(t, f.treasury.State().DistributionInFlight,
		"guard must be released before the loop exits")
	assert.Nil(t, f.treasury.State().PendingDistribution)
	assert.Equal(t, 1, f.work.Shutdowns())
}
