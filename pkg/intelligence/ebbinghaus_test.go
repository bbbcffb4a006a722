package intelligence_test

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
	"github.com/oceanbase/conceptgraph-go/pkg/intelligence"
)

func TestEbbinghausManager(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(0.1, 0.3)
	assert.NotNil(t, manager)
	assert.Equal(t, 1.0, manager.InitialStrength())
	assert.Equal(t, 0.3, manager.PruneThreshold())
}

func TestCalculateRetention(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(0.1, 0.3)

	assert.Equal(t, 1.0, manager.CalculateRetention(0))
	assert.InDelta(t, math.Exp(-0.1), manager.CalculateRetention(24*time.Hour), 1e-12)

	testCases := []time.Duration{time.Hour, 24 * time.Hour, 168 * time.Hour}
	for _, elapsed := range testCases {
		retention := manager.CalculateRetention(elapsed)
		assert.Less(t, retention, 1.0, "strength should decrease after %v", elapsed)
		assert.Greater(t, retention, 0.0, "strength should always be greater than 0")
	}
}

func TestReinforce(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(0.1, 0.3)

	assert.InDelta(t, 0.65, manager.Reinforce(0.5), 1e-12)
	assert.Equal(t, 1.0, manager.Reinforce(1.0))

	// Weak concepts gain more than strong ones.
	assert.Greater(t, manager.Reinforce(0.2)-0.2, manager.Reinforce(0.8)-0.8)
}

func TestDecayComposes(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(0.15, 0.3)

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	properties.Property("decay over a+b equals decay over a then b", prop.ForAll(
		func(start float64, a, b int64) bool {
			da, db := time.Duration(a)*time.Minute, time.Duration(b)*time.Minute
			once := manager.Decay(start, da+db)
			twice := manager.Decay(manager.Decay(start, da), db)
			return math.Abs(once-twice) < 1e-9 && once >= 0 && once <= start
		},
		gen.Float64Range(0, 1),
		gen.Int64Range(0, 60*24*30),
		gen.Int64Range(0, 60*24*30),
	))
	properties.TestingRun(t)
}

func TestClassifyStrength(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(0.1, 0.3)
	assert.Equal(t, intelligence.TierLongTerm, manager.ClassifyStrength(0.9))
	assert.Equal(t, intelligence.TierShortTerm, manager.ClassifyStrength(0.7))
	assert.Equal(t, intelligence.TierWorking, manager.ClassifyStrength(0.1))

	assert.Equal(t, 0.2, manager.DecayRateForTier(intelligence.TierWorking))
	assert.InDelta(t, 0.15, manager.DecayRateForTier(intelligence.TierShortTerm), 1e-12)
	assert.Equal(t, 0.1, manager.DecayRateForTier(intelligence.TierLongTerm))
}

func TestShouldForget(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(1.0, 0.3)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fresh := &graph.Concept{Strength: 1.0, LastAccessedAt: now}
	assert.False(t, manager.ShouldForget(fresh, now))

	stale := &graph.Concept{Strength: 1.0, LastAccessedAt: now.Add(-72 * time.Hour)}
	assert.True(t, manager.ShouldForget(stale, now))
}

func TestCalculateNextReview(t *testing.T) {
	manager := intelligence.NewEbbinghausManager(0.1, 0.3)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(24*time.Hour), manager.CalculateNextReview(0, from))
	assert.Equal(t, from.Add(264*time.Hour), manager.CalculateNextReview(1, from))
}
