// Package intelligence provides the learning heuristics of the concept graph:
// the Ebbinghaus strength policy and the association extractor.
package intelligence

import (
	"math"
	"time"

	"github.com/oceanbase/conceptgraph-go/pkg/graph"
)

// Strength tiers reported by ClassifyStrength.
const (
	TierWorking   = "working"
	TierShortTerm = "short_term"
	TierLongTerm  = "long_term"
)

var _ graph.StrengthPolicy = (*EbbinghausManager)(nil)

// EbbinghausManager manages concept strength using the Ebbinghaus forgetting
// curve. It is the graph.StrengthPolicy used by the concept store.
//
// The manager implements:
//   - Retention calculation based on time elapsed since last access
//   - Reinforcement when a concept is learned again
//   - Tier classification (working, short-term, long-term)
//   - The prune threshold used by maintenance
//
// Example usage:
//
//	manager := NewEbbinghausManager(0.1, 0.3)
//	store := graph.NewConceptStore(manager, graph.DefaultStoreOptions())
type EbbinghausManager struct {
	// decayRate is the rate at which strength decays over time.
	// Higher values mean faster decay. Typical range: 0.05-0.2
	decayRate float64

	// reinforcementFactor determines how much a concept is strengthened on re-learning.
	// Higher values mean stronger reinforcement. Typical range: 0.2-0.5
	reinforcementFactor float64

	// workingThreshold separates working concepts from short-term ones.
	// Concepts below it are candidates for pruning.
	workingThreshold float64

	// shortTermThreshold is the lower bound of the short-term tier.
	shortTermThreshold float64

	// longTermThreshold is the lower bound of the long-term tier.
	longTermThreshold float64

	// initialStrength is the strength of newly created concepts.
	initialStrength float64
}

// NewEbbinghausManager creates a new Ebbinghaus strength manager.
//
// Parameters:
//   - decayRate: Rate at which strength decays (0.05-0.2 recommended)
//   - reinforcementFactor: How much concepts strengthen on re-learning (0.2-0.5 recommended)
//
// Returns a new EbbinghausManager with default thresholds:
//   - workingThreshold: 0.3
//   - shortTermThreshold: 0.6
//   - longTermThreshold: 0.8
//   - initialStrength: 1.0
func NewEbbinghausManager(decayRate, reinforcementFactor float64) *EbbinghausManager {
	return &EbbinghausManager{
		decayRate:           decayRate,
		reinforcementFactor: reinforcementFactor,
		workingThreshold:    0.3,
		shortTermThreshold:  0.6,
		longTermThreshold:   0.8,
		initialStrength:     1.0,
	}
}

// NewEbbinghausManagerWithConfig creates a new Ebbinghaus manager with custom configuration.
//
// Parameters:
//   - decayRate: Rate at which strength decays
//   - reinforcementFactor: How much concepts strengthen on re-learning
//   - workingThreshold: Threshold for the working tier (default: 0.3)
//   - shortTermThreshold: Threshold for the short-term tier (default: 0.6)
//   - longTermThreshold: Threshold for the long-term tier (default: 0.8)
//   - initialStrength: Initial strength (default: 1.0)
func NewEbbinghausManagerWithConfig(
	decayRate, reinforcementFactor float64,
	workingThreshold, shortTermThreshold, longTermThreshold, initialStrength float64,
) *EbbinghausManager {
	return &EbbinghausManager{
		decayRate:           decayRate,
		reinforcementFactor: reinforcementFactor,
		workingThreshold:    workingThreshold,
		shortTermThreshold:  shortTermThreshold,
		longTermThreshold:   longTermThreshold,
		initialStrength:     initialStrength,
	}
}

// InitialStrength returns the strength of a newly created concept.
func (m *EbbinghausManager) InitialStrength() float64 {
	return m.initialStrength
}

// CalculateRetention calculates the retention factor after elapsed time
// without access.
//
// The formula used is: R = e^(-decay_rate * hours_elapsed / 24)
//
// Returns retention between 0.0 and 1.0, where:
//   - 1.0 = perfect retention (just accessed)
//   - 0.0 = completely forgotten
func (m *EbbinghausManager) CalculateRetention(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1.0
	}

	// Apply Ebbinghaus formula: R = e^(-decay_rate * hours_elapsed / 24)
	retention := math.Exp(-m.decayRate * elapsed.Hours() / 24.0)

	if retention > 1.0 {
		return 1.0
	}
	if retention < 0.0 {
		return 0.0
	}

	return retention
}

// Decay returns current scaled by the retention for elapsed. Applying Decay
// twice over two intervals equals applying it once over their sum.
func (m *EbbinghausManager) Decay(current float64, elapsed time.Duration) float64 {
	return current * m.CalculateRetention(elapsed)
}

// Reinforce strengthens a concept when it is learned again.
//
// The reinforcement formula is:
//
//	new_strength = min(1.0, current_strength + reinforcement_factor * (1 - current_strength))
//
// This means:
//   - Weak concepts get more reinforcement
//   - Strong concepts get less reinforcement
//   - Strength is capped at 1.0
func (m *EbbinghausManager) Reinforce(currentStrength float64) float64 {
	newStrength := currentStrength + m.reinforcementFactor*(1.0-currentStrength)
	if newStrength > 1.0 {
		return 1.0
	}
	return newStrength
}

// ClassifyStrength classifies a concept by its strength.
//
// Tiers:
//   - "long_term": strength >= longTermThreshold (0.8)
//   - "short_term": shortTermThreshold <= strength < longTermThreshold
//   - "working": below shortTermThreshold
func (m *EbbinghausManager) ClassifyStrength(strength float64) string {
	if strength >= m.longTermThreshold {
		return TierLongTerm
	} else if strength >= m.shortTermThreshold {
		return TierShortTerm
	}
	return TierWorking
}

// PruneThreshold is the strength below which an unreferenced concept may be
// removed by maintenance.
func (m *EbbinghausManager) PruneThreshold() float64 {
	return m.workingThreshold
}

// ShouldForget reports whether c is weak enough to be pruned at now, taking
// the decay since its last access into account.
func (m *EbbinghausManager) ShouldForget(c *graph.Concept, now time.Time) bool {
	return m.Decay(c.Strength, now.Sub(c.LastAccessedAt)) < m.workingThreshold
}

// CalculateNextReview calculates when a concept should be revisited.
//
//	hours_until_review = 24 * (1 + strength * 10)
//
// Strong concepts (1.0) are revisited after about 11 days, weak ones (0.0)
// after a day.
func (m *EbbinghausManager) CalculateNextReview(strength float64, from time.Time) time.Time {
	hoursUntilReview := 24.0 * (1.0 + strength*10.0)
	return from.Add(time.Duration(hoursUntilReview * float64(time.Hour)))
}

// DecayRateForTier returns the decay rate for a strength tier.
//
//   - working: 2x base decay rate (faster decay)
//   - short_term: 1.5x base decay rate
//   - long_term: 1x base decay rate
func (m *EbbinghausManager) DecayRateForTier(tier string) float64 {
	switch tier {
	case TierWorking:
		return m.decayRate * 2.0
	case TierShortTerm:
		return m.decayRate * 1.5
	default:
		return m.decayRate
	}
}
