package work

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survivald/internal/model"
)

type captureSink struct {
	mu      sync.Mutex
	results []model.WorkResult
}

func (c *captureSink) RecordWorkResult(r model.WorkResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func opp(id string, payout, durationMin float64, risk int) model.WorkOpportunity {
	return model.WorkOpportunity{
		ID:                       id,
		Category:                 model.CategoryCompute,
		EstimatedPayoutUSD:       payout,
		EstimatedDurationMinutes: durationMin,
		RiskLevel:                risk,
		ExpiresAt:                time.Now().Add(time.Minute),
	}
}

// Under high urgency the short, low-risk opportunities come first.
func TestPrioritize_HighUrgencyFavorsShortLowRisk(t *testing.T) {
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 3}, nil, nil)

	opps := []model.WorkOpportunity{
		opp("long-whale", 100, 60, 5),
		opp("mid", 5, 10, 2),
		opp("quick-a", 1, 1, 1),
		opp("slow", 20, 30, 3),
		opp("quick-b", 1, 2, 1),
	}

	ordered := e.PrioritizeOpportunities(opps, model.UrgencyHigh)
	require.Len(t, ordered, 5)
	assert.Equal(t, "quick-a", ordered[0].ID)
	assert.Equal(t, "quick-b", ordered[1].ID)
}

func TestPrioritize_LowUrgencyFavorsThroughput(t *testing.T) {
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 3}, nil, nil)

	opps := []model.WorkOpportunity{
		opp("steady", 10, 10, 1), // $1/min
		opp("burst", 30, 10, 1),  // $3/min
	}
	ordered := e.PrioritizeOpportunities(opps, model.UrgencyLow)
	assert.Equal(t, "burst", ordered[0].ID)
}

func TestPrioritize_TieBreaksAreDeterministic(t *testing.T) {
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 3}, nil, nil)

	// identical throughput; risk then ID decide
	opps := []model.WorkOpportunity{
		opp("bbb", 10, 5, 2),
		opp("aaa", 10, 5, 2),
		opp("ccc", 20, 10, 1),
	}
	for i := 0; i < 5; i++ {
		ordered := e.PrioritizeOpportunities(opps, model.UrgencyLow)
		assert.Equal(t, []string{"ccc", "aaa", "bbb"},
			[]string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
	}
}

func TestCanPerformWork_Rejections(t *testing.T) {
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 2, MinPayoutUSD: 1}, nil, nil)
	e.SetRiskCeiling(2)

	t.Run("risk above ceiling", func(t *testing.T) {
		ok, reason := e.CanPerformWork(opp("risky", 10, 5, 4))
		assert.False(t, ok)
		assert.Contains(t, reason, "risk")
	})

	t.Run("payout below minimum", func(t *testing.T) {
		ok, reason := e.CanPerformWork(opp("dust", 0.10, 5, 1))
		assert.False(t, ok)
		assert.Contains(t, reason, "payout")
	})

	t.Run("expired", func(t *testing.T) {
		o := opp("stale", 10, 5, 1)
		o.ExpiresAt = time.Now().Add(-time.Second)
		ok, reason := e.CanPerformWork(o)
		assert.False(t, ok)
		assert.Equal(t, "opportunity expired", reason)
	})

	t.Run("ok", func(t *testing.T) {
		ok, reason := e.CanPerformWork(opp("good", 10, 5, 1))
		assert.True(t, ok)
		assert.Empty(t, reason)
	})
}

// Issuing far more opportunities than the bound must never exceed
// maxConcurrent simultaneous executions.
func TestRunCycle_HonorsConcurrencyBound(t *testing.T) {
	const bound = 3
	var current, peak atomic.Int32

	candidates := make([]model.WorkOpportunity, 12)
	for i := range candidates {
		candidates[i] = opp(fmt.Sprintf("job-%02d", i), 5, 1, 1)
	}
	src := &StaticSource{
		Cat:        model.CategoryCompute,
		Candidates: candidates,
		EarnFn: func(_ context.Context, o model.WorkOpportunity) (float64, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return o.EstimatedPayoutUSD, nil
		},
	}

	sink := &captureSink{}
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: bound, JobTimeout: time.Second}, []Source{src}, sink)
	e.RunCycle(context.Background(), model.UrgencyHigh)

	assert.LessOrEqual(t, peak.Load(), int32(bound))
	assert.Len(t, sink.results, 12)
	stats := e.Stats()
	assert.Equal(t, 12, stats.TotalJobs)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 60, stats.TotalEarnedUSD, 1e-9)
}

func TestExecuteWork_TimeoutBecomesFailedResult(t *testing.T) {
	src := &StaticSource{
		Cat: model.CategoryCompute,
		EarnFn: func(ctx context.Context, _ model.WorkOpportunity) (float64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	sink := &captureSink{}
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 1, JobTimeout: 30 * time.Millisecond}, []Source{src}, sink)

	res := e.ExecuteWork(context.Background(), opp("slowpoke", 10, 5, 1))
	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.FailureReason)
	require.Len(t, sink.results, 1)
}

func TestExecuteWork_PanicBecomesFailedResult(t *testing.T) {
	src := &StaticSource{
		Cat: model.CategoryCompute,
		EarnFn: func(_ context.Context, _ model.WorkOpportunity) (float64, error) {
			panic("provider sent garbage")
		},
	}
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 1, JobTimeout: time.Second}, []Source{src}, &captureSink{})

	res := e.ExecuteWork(context.Background(), opp("boom", 10, 5, 1))
	assert.False(t, res.Success)
	assert.Contains(t, res.FailureReason, "panicked")
}

func TestRunCycle_SkipsRiskAboveTierCeiling(t *testing.T) {
	src := &StaticSource{
		Cat: model.CategoryCompute,
		Candidates: []model.WorkOpportunity{
			opp("safe", 5, 1, 1),
			opp("reckless", 50, 1, 5),
		},
	}
	sink := &captureSink{}
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 2, JobTimeout: time.Second}, []Source{src}, sink)
	e.SetRiskCeiling(2)

	e.RunCycle(context.Background(), model.UrgencyMedium)

	require.Len(t, sink.results, 1)
	assert.Equal(t, "safe", sink.results[0].OpportunityID)
}

func TestRunCycle_DisabledEngineDoesNothing(t *testing.T) {
	src := &StaticSource{Cat: model.CategoryCompute, Candidates: []model.WorkOpportunity{opp("x", 5, 1, 1)}}
	sink := &captureSink{}
	e := NewEngine(EngineConfig{Enabled: false, MaxConcurrent: 2}, []Source{src}, sink)

	e.RunCycle(context.Background(), model.UrgencyHigh)
	assert.Empty(t, sink.results)
}

func TestStats_Empty(t *testing.T) {
	e := NewEngine(EngineConfig{Enabled: true, MaxConcurrent: 1}, nil, nil)
	stats := e.Stats()
	assert.Zero(t, stats.TotalJobs)
	assert.Zero(t, stats.SuccessRate)
}
