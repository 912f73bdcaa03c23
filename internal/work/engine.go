package work

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"survivald/internal/model"
)

// ResultSink consumes terminal work results. The treasury manager is the
// production sink.
type ResultSink interface {
	RecordWorkResult(model.WorkResult)
}

// EngineConfig bounds the engine's behavior.
type EngineConfig struct {
	Enabled       bool
	MaxConcurrent int
	MinPayoutUSD  float64
	JobTimeout    time.Duration
}

// Engine discovers candidate paid work, orders it by expected value, and
// executes a bounded number of jobs concurrently. It never lets a job
// failure or panic escape to the caller: every executed opportunity
// resolves to exactly one terminal WorkResult.
type Engine struct {
	cfg     EngineConfig
	sources []Source
	sink    ResultSink

	sem     chan struct{}
	running atomic.Int32
	wg      sync.WaitGroup

	// risk ceiling is tier-dependent and updated by the scheduler each tick
	riskCeiling atomic.Int32

	mu      sync.Mutex
	results []model.WorkResult
}

// NewEngine creates a work engine over the given sources.
func NewEngine(cfg EngineConfig, sources []Source, sink ResultSink) *Engine {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	e := &Engine{
		cfg:     cfg,
		sources: sources,
		sink:    sink,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
	e.riskCeiling.Store(int32(5))
	return e
}

// SetRiskCeiling applies the current tier's permitted risk level.
func (e *Engine) SetRiskCeiling(maxRisk int) {
	e.riskCeiling.Store(int32(maxRisk))
}

// DiscoverOpportunities queries every source for a fresh, finite batch of
// candidates. Opportunities are time-sensitive: each cycle requires a new
// discovery, and a source failure just contributes nothing this cycle.
func (e *Engine) DiscoverOpportunities(ctx context.Context) []model.WorkOpportunity {
	var opps []model.WorkOpportunity
	for _, src := range e.sources {
		found, err := src.Discover(ctx)
		if err != nil {
			logrus.WithField("source", src.Name()).Warnf("discovery failed: %v", err)
			continue
		}
		opps = append(opps, found...)
	}
	return opps
}

// PrioritizeOpportunities orders candidates by a weighted throughput score:
// payout per minute, discounted by risk, with urgency shifting weight
// toward short-duration work. Ties break on lower risk, then on ID so the
// ordering is deterministic.
func (e *Engine) PrioritizeOpportunities(opps []model.WorkOpportunity, urgency model.Urgency) []model.WorkOpportunity {
	out := make([]model.WorkOpportunity, len(opps))
	copy(out, opps)

	scores := make(map[string]float64, len(out))
	for _, o := range out {
		scores[o.ID] = score(o, urgency)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scores[out[i].ID], scores[out[j].ID]
		if si != sj {
			return si > sj
		}
		if out[i].RiskLevel != out[j].RiskLevel {
			return out[i].RiskLevel < out[j].RiskLevel
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// score favors throughput (payout per minute) and penalizes risk. Higher
// urgency raises the exponent on duration, so short jobs dominate when the
// agent is starving.
func score(o model.WorkOpportunity, urgency model.Urgency) float64 {
	duration := math.Max(o.EstimatedDurationMinutes, 0.1)
	risk := math.Max(float64(o.RiskLevel), 1)

	var shortBias float64
	switch urgency {
	case model.UrgencyHigh:
		shortBias = 1.0
	case model.UrgencyMedium:
		shortBias = 0.5
	default:
		shortBias = 0
	}
	return o.EstimatedPayoutUSD / math.Pow(duration, 1+shortBias) / risk
}

// CanPerformWork checks admission for one opportunity.
func (e *Engine) CanPerformWork(opp model.WorkOpportunity) (bool, string) {
	if !e.cfg.Enabled {
		return false, "work engine disabled"
	}
	if int(e.running.Load()) >= e.cfg.MaxConcurrent {
		return false, fmt.Sprintf("at capacity (%d running)", e.cfg.MaxConcurrent)
	}
	if opp.RiskLevel > int(e.riskCeiling.Load()) {
		return false, fmt.Sprintf("risk %d above tier ceiling %d", opp.RiskLevel, e.riskCeiling.Load())
	}
	if opp.EstimatedPayoutUSD < e.cfg.MinPayoutUSD {
		return false, fmt.Sprintf("payout $%.2f below minimum $%.2f", opp.EstimatedPayoutUSD, e.cfg.MinPayoutUSD)
	}
	if opp.Expired(time.Now()) {
		return false, "opportunity expired"
	}
	return true, ""
}

// ExecuteWork runs one opportunity to a terminal result. Underlying
// failures, timeouts and panics all become success=false results; nothing
// propagates to the scheduler.
func (e *Engine) ExecuteWork(ctx context.Context, opp model.WorkOpportunity) model.WorkResult {
	e.running.Add(1)
	defer e.running.Add(-1)

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()

	earned, err := e.runJob(jobCtx, opp)

	result := model.WorkResult{
		OpportunityID:    opp.ID,
		Category:         opp.Category,
		TimeSpentMinutes: time.Since(start).Minutes(),
	}
	switch {
	case err == nil:
		result.Success = true
		result.EarnedUSD = earned
	case jobCtx.Err() == context.DeadlineExceeded:
		result.FailureReason = "timeout"
	default:
		result.FailureReason = err.Error()
	}

	e.record(result)
	return result
}

func (e *Engine) runJob(ctx context.Context, opp model.WorkOpportunity) (earned float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	src := e.sourceFor(opp.Category)
	if src == nil {
		return 0, fmt.Errorf("no source for category %s", opp.Category)
	}
	return src.Execute(ctx, opp)
}

func (e *Engine) sourceFor(cat model.Category) Source {
	for _, src := range e.sources {
		if src.Category() == cat {
			return src
		}
	}
	return nil
}

// RunCycle performs one full discover/prioritize/execute pass. Admission
// is re-checked per job; ready jobs beyond the concurrency bound queue for
// a free slot. The call returns when every admitted job has resolved, each
// bounded by the per-job timeout.
func (e *Engine) RunCycle(ctx context.Context, urgency model.Urgency) {
	if !e.cfg.Enabled {
		return
	}

	opps := e.DiscoverOpportunities(ctx)
	if len(opps) == 0 {
		logrus.Debug("no opportunities discovered this cycle")
		return
	}
	opps = e.PrioritizeOpportunities(opps, urgency)
	logrus.WithField("urgency", urgency).Infof("discovered %d opportunities", len(opps))

	var cycle sync.WaitGroup
	for _, opp := range opps {
		if ok, reason := e.admissible(opp); !ok {
			logrus.WithField("opportunity", opp.ID).Debugf("skipped: %s", reason)
			continue
		}

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		opp := opp
		cycle.Add(1)
		e.wg.Add(1)
		go func() {
			defer func() {
				<-e.sem
				cycle.Done()
				e.wg.Done()
			}()
			res := e.ExecuteWork(ctx, opp)
			if res.Success {
				logrus.Infof("job %s earned $%.2f", opp.ID, res.EarnedUSD)
			} else {
				logrus.Warnf("job %s failed: %s", opp.ID, res.FailureReason)
			}
		}()
	}
	cycle.Wait()
}

// admissible is CanPerformWork without the capacity check; capacity is
// enforced by the semaphore, which queues instead of rejecting.
func (e *Engine) admissible(opp model.WorkOpportunity) (bool, string) {
	if opp.RiskLevel > int(e.riskCeiling.Load()) {
		return false, fmt.Sprintf("risk %d above tier ceiling %d", opp.RiskLevel, e.riskCeiling.Load())
	}
	if opp.EstimatedPayoutUSD < e.cfg.MinPayoutUSD {
		return false, fmt.Sprintf("payout $%.2f below minimum $%.2f", opp.EstimatedPayoutUSD, e.cfg.MinPayoutUSD)
	}
	if opp.Expired(time.Now()) {
		return false, "opportunity expired"
	}
	return true, ""
}

func (e *Engine) record(r model.WorkResult) {
	e.mu.Lock()
	e.results = append(e.results, r)
	e.mu.Unlock()
	if e.sink != nil {
		e.sink.RecordWorkResult(r)
	}
}

// Stats aggregates all recorded results.
func (e *Engine) Stats() model.WorkStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := model.WorkStats{TotalJobs: len(e.results)}
	if stats.TotalJobs == 0 {
		return stats
	}
	var successes int
	for _, r := range e.results {
		if r.Success {
			successes++
			stats.TotalEarnedUSD += r.EarnedUSD
		}
		stats.TotalTimeSpentMinutes += r.TimeSpentMinutes
	}
	stats.SuccessRate = float64(successes) / float64(stats.TotalJobs)
	stats.AverageEarningsUSD = stats.TotalEarnedUSD / float64(stats.TotalJobs)
	return stats
}

// Running reports how many jobs are executing right now.
func (e *Engine) Running() int {
	return int(e.running.Load())
}

// Shutdown waits for in-flight jobs up to the grace period; jobs that
// outlive it are already doomed to timeout results via their job contexts.
func (e *Engine) Shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logrus.Warnf("work engine shutdown grace period (%s) elapsed with jobs still in flight", grace)
	}
}
