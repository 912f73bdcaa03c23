// Package heartbeat drives the survival engine: one periodic control loop
// whose tick interval depends on the current survival tier. The loop is the
// outermost failure boundary; component errors are logged, counted, and
// retried on the next tick, never allowed to stop the loop.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"survivald/internal/model"
	"survivald/internal/notifier"
	"survivald/internal/recorder"
	"survivald/internal/tier"
	"survivald/internal/treasury"
)

// Observer produces the per-tick balance and credit readings.
type Observer interface {
	Observe(ctx context.Context) (model.Balance, float64, error)
}

// Transferer submits the profit-distribution transfer.
type Transferer interface {
	Transfer(ctx context.Context, amountUSD float64, destination string) (string, error)
}

// WorkRunner is the scheduler's view of the work engine.
type WorkRunner interface {
	RunCycle(ctx context.Context, urgency model.Urgency)
	SetRiskCeiling(maxRisk int)
	Stats() model.WorkStats
	Shutdown(grace time.Duration)
}

// Broadcaster emits distress and status signals to external monitoring.
type Broadcaster interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Config holds the scheduler's own knobs.
type Config struct {
	DistressAfterTicks int
	DistressMinGap     time.Duration
	CreatorAddress     string
	WorkPriority       model.Urgency
	ShutdownGrace      time.Duration
	SnapshotCron       string
	DailyReportCron    string
}

// Status is the read-only view exposed to the decision loop.
type Status struct {
	Tier      model.SurvivalTier
	Balance   model.Balance
	Credit    float64
	Reserves  model.ReserveSnapshot
	Metrics   model.TradingMetrics
	WorkStats model.WorkStats
	Heartbeat model.HeartbeatState
}

// Scheduler owns the tick loop and wires the other components together.
type Scheduler struct {
	cfg        Config
	observer   Observer
	transferer Transferer
	treasury   *treasury.Manager
	work       WorkRunner
	classifier *tier.Classifier
	notifier   Broadcaster
	recorder   recorder.Recorder
	cron       *cron.Cron

	workReq chan struct{}

	mu      sync.Mutex
	state   model.HeartbeatState
	tierNow model.SurvivalTier
	balance model.Balance
	credit  float64
}

// NewScheduler creates the heartbeat scheduler.
func NewScheduler(cfg Config, obs Observer, tr Transferer, tm *treasury.Manager,
	wr WorkRunner, cl *tier.Classifier, br Broadcaster, rec recorder.Recorder) *Scheduler {

	s := &Scheduler{
		cfg:        cfg,
		observer:   obs,
		transferer: tr,
		treasury:   tm,
		work:       wr,
		classifier: cl,
		notifier:   br,
		recorder:   rec,
		cron:       cron.New(cron.WithSeconds()),
		workReq:    make(chan struct{}, 1),
		tierNow:    model.TierNormal,
	}
	s.state.TickInterval = cl.Params(model.TierNormal).TickInterval
	return s
}

// RegisterMaintenance registers fixed-cadence background jobs: the hourly
// metrics snapshot and the daily status report.
func (s *Scheduler) RegisterMaintenance() error {
	if _, err := s.cron.AddFunc(s.cfg.SnapshotCron, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.DailyReportCron, s.dailyReportTask); err != nil {
		return fmt.Errorf("register daily report task: %w", err)
	}
	return nil
}

// Run executes the control loop until the context is cancelled. Ticks never
// overlap: the next tick is scheduled only after the previous one finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	defer s.cron.Stop()
	logrus.Info("heartbeat started")

	for {
		s.runTick(ctx)

		timer := time.NewTimer(s.interval())
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				logrus.Info("heartbeat stopping")
				s.work.Shutdown(s.cfg.ShutdownGrace)
				return
			case <-timer.C:
				break wait
			case <-s.workReq:
				// Out-of-cycle invocation requested by the decision loop.
				// Runs inside the loop goroutine, so the concurrency bound
				// and the distribution guard still hold.
				if s.currentTier() != model.TierDead {
					s.work.RunCycle(ctx, s.cfg.WorkPriority)
				}
			}
		}
	}
}

// RequestWork asks for an immediate work pass between ticks. Non-blocking;
// coalesces with a pending request.
func (s *Scheduler) RequestWork() {
	select {
	case s.workReq <- struct{}{}:
	default:
	}
}

// Status returns a read-only snapshot for the decision loop.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Tier:      s.tierNow,
		Balance:   s.balance,
		Credit:    s.credit,
		Reserves:  s.treasury.Allocation(),
		Metrics:   s.treasury.Metrics(),
		WorkStats: s.work.Stats(),
		Heartbeat: s.state,
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TickInterval
}

func (s *Scheduler) currentTier() model.SurvivalTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tierNow
}

// runTick performs one full cycle: observe, classify, apply tier effects,
// seek work under scarcity, evaluate profit distribution, signal distress.
func (s *Scheduler) runTick(ctx context.Context) {
	failed := false

	balance, credit, err := s.observer.Observe(ctx)
	if err != nil {
		// Transient I/O failure: retried on the next tick, never escalated.
		logrus.Errorf("tick: observe balance: %v", err)
		s.finishTick(true)
		return
	}
	s.treasury.ObserveBalance(balance)
	if err := s.recorder.RecordBalance(&recorder.BalanceEvent{
		PrimaryAmount: balance.PrimaryAssetAmount,
		StableAmount:  balance.StableAssetAmount,
		TotalValueUSD: balance.TotalValueUSD,
		Credit:        credit,
	}); err != nil {
		logrus.Errorf("tick: record balance: %v", err)
	}

	prevTier := s.currentTier()
	newTier := s.classifier.Classify(credit, balance.TotalValueUSD)
	params := s.classifier.Params(newTier)

	s.mu.Lock()
	s.balance = balance
	s.credit = credit
	s.tierNow = newTier
	s.state.TickInterval = params.TickInterval
	if newTier.Rank() < prevTier.Rank() {
		// Tier improved: heartbeat bookkeeping starts fresh.
		s.state.ConsecutiveFailures = 0
		s.state.ConsecutiveLowTicks = 0
	}
	s.mu.Unlock()

	if newTier != prevTier {
		logrus.WithField("from", prevTier).WithField("to", newTier).
			Infof("tier transition (credit=%.4f treasury=$%.2f)", credit, balance.TotalValueUSD)
		if err := s.recorder.RecordTierTransition(&recorder.TierTransition{
			From: prevTier, To: newTier, Credit: credit, TreasuryUSD: balance.TotalValueUSD,
		}); err != nil {
			logrus.Errorf("tick: record tier transition: %v", err)
		}
	}

	s.work.SetRiskCeiling(params.MaxRiskLevel)

	if newTier == model.TierDead {
		// Terminal: no paid-capability use; keep polling balance so an
		// external funding event can lift the tier on a later read.
		lowTicks := s.bumpLowTicks()
		if newTier != prevTier {
			// Entering dead broadcasts immediately, bypassing the count.
			s.broadcastDistress(ctx, newTier, lowTicks, balance, credit)
		} else {
			s.maybeDistress(ctx, newTier, lowTicks, balance, credit)
		}
		s.finishTick(failed)
		return
	}

	if params.WorkUrgency != "" {
		s.work.RunCycle(ctx, params.WorkUrgency)
	}

	if !s.runDistribution(ctx, balance) {
		failed = true
	}

	s.noteLowTick(ctx, newTier, balance, credit)
	s.finishTick(failed)
}

// runDistribution evaluates eligibility and, when eligible, holds the
// in-flight guard across the external transfer. Returns false when a
// transfer attempt failed.
func (s *Scheduler) runDistribution(ctx context.Context, balance model.Balance) bool {
	if !s.treasury.ShouldDistributeProfits(balance) {
		return true
	}
	d, ok := s.treasury.BeginDistribution()
	if !ok {
		// Raced with another distribution path; at most one may be in flight.
		return true
	}

	receiptID, err := s.transferer.Transfer(ctx, d.ToCreatorUSD, s.cfg.CreatorAddress)
	if err != nil {
		// Guard released so the next tick re-evaluates with the same metrics.
		logrus.Errorf("profit distribution transfer failed: %v", err)
		s.treasury.ReleaseDistribution()
		if recErr := s.recorder.RecordDistribution(&recorder.DistributionEvent{
			ToCreatorUSD: d.ToCreatorUSD, ToCompoundUSD: d.ToCompoundUSD,
			Success: false, Note: err.Error(),
		}); recErr != nil {
			logrus.Errorf("record failed distribution: %v", recErr)
		}
		return false
	}

	s.treasury.MarkDistributed(d)
	logrus.Infof("distributed $%.2f to creator (receipt %s), $%.2f compounded", d.ToCreatorUSD, receiptID, d.ToCompoundUSD)
	if err := s.recorder.RecordDistribution(&recorder.DistributionEvent{
		ToCreatorUSD: d.ToCreatorUSD, ToCompoundUSD: d.ToCompoundUSD,
		ReceiptID: receiptID, Success: true,
	}); err != nil {
		logrus.Errorf("record distribution: %v", err)
	}
	s.trySend(ctx, notifier.FormatDistribution(d, receiptID))
	return true
}

// noteLowTick tracks consecutive ticks at critical or worse and emits the
// distress broadcast once the configured count is exceeded, throttled by
// the minimum gap.
func (s *Scheduler) noteLowTick(ctx context.Context, t model.SurvivalTier, balance model.Balance, credit float64) {
	if t.Rank() < model.TierCritical.Rank() {
		s.mu.Lock()
		s.state.ConsecutiveLowTicks = 0
		s.mu.Unlock()
		return
	}
	s.maybeDistress(ctx, t, s.bumpLowTicks(), balance, credit)
}

func (s *Scheduler) bumpLowTicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ConsecutiveLowTicks++
	return s.state.ConsecutiveLowTicks
}

func (s *Scheduler) maybeDistress(ctx context.Context, t model.SurvivalTier, lowTicks int, balance model.Balance, credit float64) {
	s.mu.Lock()
	lastDistress := s.state.LastDistressAt
	s.mu.Unlock()

	if lowTicks < s.cfg.DistressAfterTicks {
		return
	}
	if !lastDistress.IsZero() && time.Since(lastDistress) < s.cfg.DistressMinGap {
		return
	}
	s.broadcastDistress(ctx, t, lowTicks, balance, credit)
}

func (s *Scheduler) broadcastDistress(ctx context.Context, t model.SurvivalTier, lowTicks int, balance model.Balance, credit float64) {
	s.mu.Lock()
	s.state.LastDistressAt = time.Now()
	s.mu.Unlock()

	msg := notifier.FormatDistress(t, lowTicks, balance, credit)
	s.trySend(ctx, msg)
	if err := s.recorder.RecordDistress(&recorder.DistressEvent{
		Tier: t, ConsecutiveTicks: lowTicks, Message: msg,
	}); err != nil {
		logrus.Errorf("record distress: %v", err)
	}
}

func (s *Scheduler) finishTick(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastTick = time.Now()
	if failed {
		s.state.ConsecutiveFailures++
	} else {
		s.state.ConsecutiveFailures = 0
	}
}

func (s *Scheduler) snapshotTask() {
	metrics := s.treasury.Metrics()
	st := s.treasury.State()
	if err := s.recorder.RecordMetricsSnapshot(&recorder.MetricsSnapshot{
		Metrics:        metrics,
		TotalEarnedUSD: st.TotalEarnedUSD,
	}); err != nil {
		logrus.Errorf("record metrics snapshot: %v", err)
	}
}

func (s *Scheduler) dailyReportTask() {
	if s.classifier.Params(s.currentTier()).ShedBackground {
		logrus.Debug("daily report skipped: background tasks shed in degraded tier")
		return
	}
	status := s.Status()
	report := notifier.FormatStatus(status.Tier, status.Balance, status.Credit,
		status.Reserves, status.Metrics, status.WorkStats)
	s.trySend(context.Background(), report)
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if err := s.notifier.SendWithRetry(ctx, text, 3); err != nil {
		logrus.Errorf("send broadcast: %v", err)
	}
}
