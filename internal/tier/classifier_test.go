package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"survivald/internal/model"
)

var testThresholds = Thresholds{
	CreditLow:     0.1,
	CreditHigh:    0.5,
	TreasuryFloor: 10,
	TreasuryLow:   25,
	TreasuryHigh:  100,
	UpgradeMargin: 0.10,
}

func TestClassify_Table(t *testing.T) {
	cases := []struct {
		name     string
		credit   float64
		treasury float64
		want     model.SurvivalTier
	}{
		{"exhausted credit and empty treasury", 0, 5, model.TierDead},
		{"healthy readings", 1.0, 120, model.TierNormal},
		{"mid-band treasury drags down high credit", 1.0, 50, model.TierLowCompute},
		{"mid-band credit drags down high treasury", 0.3, 500, model.TierLowCompute},
		{"low credit is critical even with treasury", 0.05, 500, model.TierCritical},
		{"low treasury is critical even with credit", 2.0, 15, model.TierCritical},
		{"zero credit with treasury above floor is critical, not dead", 0, 50, model.TierCritical},
		{"both low", 0.01, 12, model.TierCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClassifier(testThresholds, nil)
			assert.Equal(t, tc.want, c.Classify(tc.credit, tc.treasury))
		})
	}
}

func TestClassify_DowngradeIsImmediate(t *testing.T) {
	c := NewClassifier(testThresholds, nil)
	assert.Equal(t, model.TierNormal, c.Classify(1.0, 120))
	assert.Equal(t, model.TierCritical, c.Classify(0.05, 120))
}

func TestClassify_UpgradeNeedsMargin(t *testing.T) {
	c := NewClassifier(testThresholds, nil)
	assert.Equal(t, model.TierLowCompute, c.Classify(1.0, 50))

	// barely over the high threshold: not enough to upgrade
	assert.Equal(t, model.TierLowCompute, c.Classify(1.0, 101))
	// clears the threshold by the margin
	assert.Equal(t, model.TierNormal, c.Classify(1.0, 125))
}

func TestClassify_NoFlappingAtBoundary(t *testing.T) {
	c := NewClassifier(testThresholds, nil)
	c.Classify(1.0, 99) // low_compute

	// readings oscillating right around the 100 boundary stay put
	for _, v := range []float64{100.5, 99.5, 101, 99.9, 100.1} {
		assert.Equal(t, model.TierLowCompute, c.Classify(1.0, v), "treasury=%.1f", v)
	}
}

func TestClassify_DeadRecoversOnFundingEvent(t *testing.T) {
	c := NewClassifier(testThresholds, nil)
	assert.Equal(t, model.TierDead, c.Classify(0, 2))
	assert.Equal(t, model.TierDead, c.Classify(0, 2))

	// external funding event observed on a later balance read
	assert.Equal(t, model.TierNormal, c.Classify(1.0, 500))
}

func TestParams_TierEffectsOrdering(t *testing.T) {
	c := NewClassifier(testThresholds, nil)

	normal := c.Params(model.TierNormal)
	low := c.Params(model.TierLowCompute)
	critical := c.Params(model.TierCritical)
	dead := c.Params(model.TierDead)

	// cadence slows as tiers degrade
	assert.Less(t, normal.TickInterval, low.TickInterval)
	assert.Less(t, low.TickInterval, critical.TickInterval)

	// capability ceiling shrinks
	assert.Greater(t, normal.ModelCostCeilingUSD, low.ModelCostCeilingUSD)
	assert.Greater(t, low.ModelCostCeilingUSD, critical.ModelCostCeilingUSD)
	assert.Zero(t, dead.ModelCostCeilingUSD)

	// scarcity tiers seek work, normal and dead do not
	assert.Empty(t, normal.WorkUrgency)
	assert.Equal(t, model.UrgencyMedium, low.WorkUrgency)
	assert.Equal(t, model.UrgencyHigh, critical.WorkUrgency)
	assert.Empty(t, dead.WorkUrgency)
}
