// Package evaluator scores candidates across the cost, performance,
// security and complexity dimensions.
package evaluator

import (
	"fmt"
	"math"
	"strings"

	"github.com/infrasage/infrasage/internal/models"
)

// Score tiers and thresholds.
const (
	neutralCostScore = 0.5

	highRequirement   = 0.8
	mediumRequirement = 0.6
	mediumBoostFloor  = 0.8

	highCostThreshold  = 200.0
	budgetTightRatio   = 0.8
	weakScoreThreshold = 0.6
)

var complexityScores = map[models.Complexity]float64{
	models.ComplexityLow:    1.0,
	models.ComplexityMedium: 0.7,
	models.ComplexityHigh:   0.4,
}

// CostScore steps cost_estimate/budget into a score; 0.5 without a budget.
func CostScore(cost float64, budget *float64) float64 {
	if budget == nil {
		return neutralCostScore
	}
	if *budget <= 0 {
		if cost <= 0 {
			return 1.0
		}
		return 0.2
	}
	ratio := cost / *budget
	switch {
	case ratio <= 0.5:
		return 1.0
	case ratio <= 0.8:
		return 0.8
	case ratio <= 1.0:
		return 0.6
	default:
		return 0.2
	}
}

// ConstraintScore boosts a nominal score that already satisfies the
// requested level: high goes to 1.0, medium to at least 0.8. Scores that
// miss the level, and low constraints, pass through. A boost never lowers
// the score.
func ConstraintScore(score float64, level models.Level) float64 {
	switch level {
	case models.LevelHigh:
		if score >= highRequirement {
			return 1.0
		}
	case models.LevelMedium:
		if score >= mediumRequirement {
			return math.Max(score, mediumBoostFloor)
		}
	}
	return models.Clamp01(score)
}

// ComplexityScore maps a complexity tier to a score. Unknown tiers score as medium.
func ComplexityScore(c models.Complexity) float64 {
	if s, ok := complexityScores[c]; ok {
		return s
	}
	return complexityScores[models.ComplexityMedium]
}

// Weights resolves the effective dimension weights. Every dimension starts
// at 1.0; a rule overrides the dimensions it names with finite positive
// values.
func Weights(rule *models.AdaptationRule) map[string]float64 {
	w := make(map[string]float64, len(models.Dimensions))
	for _, d := range models.Dimensions {
		w[d] = 1.0
	}
	if rule == nil {
		return w
	}
	for d, v := range rule.Weights {
		if _, known := w[d]; !known {
			continue
		}
		if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
			w[d] = v
		}
	}
	return w
}

// OverallScore is the weighted mean of the dimensions present in scores.
// Missing weights count as 1.0.
func OverallScore(scores, weights map[string]float64) float64 {
	var sum, total float64
	for _, d := range models.Dimensions {
		s, ok := scores[d]
		if !ok {
			continue
		}
		w := 1.0
		if v, ok := weights[d]; ok {
			w = v
		}
		sum += w * s
		total += w
	}
	if total == 0 {
		return 0
	}
	return models.Clamp01(sum / total)
}

// Evaluate scores every candidate. The optional rule reweights dimensions
// for the request's pattern key. Output order matches input order.
func Evaluate(cands []models.CandidateSolution, constraints models.Constraints, rule *models.AdaptationRule) []models.EvaluatedCandidate {
	weights := Weights(rule)
	out := make([]models.EvaluatedCandidate, 0, len(cands))
	for _, c := range cands {
		scores := map[string]float64{
			models.DimensionCost:        CostScore(c.CostEstimate, constraints.Budget),
			models.DimensionPerformance: ConstraintScore(c.PerformanceScore, constraints.Performance),
			models.DimensionSecurity:    ConstraintScore(c.SecurityScore, constraints.Security),
			models.DimensionComplexity:  ComplexityScore(c.Complexity),
		}
		w := make(map[string]float64, len(weights))
		for k, v := range weights {
			w[k] = v
		}
		overall := OverallScore(scores, w)
		out = append(out, models.EvaluatedCandidate{
			Solution:         c,
			OverallScore:     overall,
			ConstraintScores: scores,
			Weights:          w,
			Tradeoffs:        Tradeoffs(c, constraints),
			Reasoning:        reasoning(c, scores, overall, rule),
		})
	}
	return out
}

// Tradeoffs lists the fixed-threshold tradeoffs of a candidate.
func Tradeoffs(c models.CandidateSolution, constraints models.Constraints) []string {
	out := []string{}
	if c.CostEstimate > highCostThreshold {
		out = append(out, "Higher cost for better performance/security")
	}
	if b := constraints.Budget; b != nil && *b > 0 {
		if ratio := c.CostEstimate / *b; ratio > budgetTightRatio {
			out = append(out, "Uses most of the available budget")
		}
	}
	if c.Complexity == models.ComplexityHigh {
		out = append(out, "Higher operational complexity requires experienced operators")
	}
	if c.PerformanceScore < weakScoreThreshold {
		out = append(out, "Limited performance headroom under peak load")
	}
	if c.SecurityScore < weakScoreThreshold {
		out = append(out, "Baseline security; additional hardening may be required")
	}
	return out
}

func reasoning(c models.CandidateSolution, scores map[string]float64, overall float64, rule *models.AdaptationRule) string {
	parts := make([]string, 0, len(models.Dimensions))
	for _, d := range models.Dimensions {
		parts = append(parts, fmt.Sprintf("%s %.2f", d, scores[d]))
	}
	s := fmt.Sprintf("%s scores %s (overall %.2f)", c.Name, strings.Join(parts, ", "), overall)
	if rule != nil {
		s += fmt.Sprintf("; weighting adapted for %s", rule.PatternKey)
	}
	return s
}
