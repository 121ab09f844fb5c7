// Package candidates instantiates Pattern Store archetypes for one request
// and filters out the infeasible ones.
package candidates

import (
	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/patterns"
)

// Feasibility floor applied when a performance or security constraint is high.
const highConstraintFloor = 0.8

// CostMultiplier steps the pattern base cost by user count.
func CostMultiplier(scale models.Scale) float64 {
	if scale.Users == nil {
		return 1
	}
	switch u := *scale.Users; {
	case u > 10000:
		return 3
	case u > 1000:
		return 2
	default:
		return 1
	}
}

// PerformanceScore maps a nominal throughput tier to a score.
func PerformanceScore(throughputRPS int) float64 {
	switch {
	case throughputRPS >= 10000:
		return 0.9
	case throughputRPS >= 1000:
		return 0.7
	default:
		return 0.5
	}
}

// SecurityScore maps a nominal security level (1..5) to a score.
func SecurityScore(level int) float64 {
	switch {
	case level >= 4:
		return 0.9
	case level == 3:
		return 0.7
	default:
		return 0.5
	}
}

// Instantiate builds the candidate for one pattern under the given scale.
func Instantiate(p patterns.Pattern, scale models.Scale) models.CandidateSolution {
	return models.CandidateSolution{
		Name:             p.Name,
		Description:      p.Description,
		Components:       append([]string(nil), p.Components...),
		CostEstimate:     p.BaseCost * CostMultiplier(scale),
		PerformanceScore: PerformanceScore(p.ThroughputRPS),
		SecurityScore:    SecurityScore(p.SecurityLevel),
		Complexity:       p.Complexity,
		PatternID:        p.ID,
	}
}

// Feasible reports whether c satisfies the hard constraints.
func Feasible(c models.CandidateSolution, constraints models.Constraints) bool {
	if constraints.Budget != nil && c.CostEstimate > *constraints.Budget {
		return false
	}
	if constraints.Performance == models.LevelHigh && c.PerformanceScore < highConstraintFloor {
		return false
	}
	if constraints.Security == models.LevelHigh && c.SecurityScore < highConstraintFloor {
		return false
	}
	return true
}

// Generate instantiates every pattern in src and keeps the feasible ones in
// catalog order. An empty result is a valid outcome, not an error.
func Generate(src patterns.Source, constraints models.Constraints, scale models.Scale) []models.CandidateSolution {
	out := []models.CandidateSolution{}
	for _, p := range src.Patterns() {
		c := Instantiate(p, scale)
		if Feasible(c, constraints) {
			out = append(out, c)
		}
	}
	return out
}
