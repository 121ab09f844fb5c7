package explain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/reasoning/decomposer"
)

func sampleDecision() models.Decision {
	return models.Decision{
		Solution: models.EvaluatedCandidate{
			Solution: models.CandidateSolution{
				Name:             "Containerized Web Service",
				Components:       []string{"load_balancer", "container_service", "managed_database", "monitoring"},
				CostEstimate:     120,
				PerformanceScore: 0.7,
				SecurityScore:    0.7,
				Complexity:       models.ComplexityMedium,
			},
			OverallScore: 0.8,
			ConstraintScores: map[string]float64{
				models.DimensionCost:        0.8,
				models.DimensionPerformance: 0.8,
				models.DimensionSecurity:    0.9,
				models.DimensionComplexity:  0.7,
			},
			Tradeoffs: []string{"Uses most of the available budget"},
		},
		Alternatives: []models.EvaluatedCandidate{
			{Solution: models.CandidateSolution{Name: "Managed Platform-as-a-Service"}, OverallScore: 0.7},
		},
		Confidence: 0.856,
	}
}

func TestRenderSections(t *testing.T) {
	subs := decomposer.Decompose(models.ParsedRequest{Objective: models.ObjectiveWebApplication})
	text := Render(sampleDecision(), subs)

	sections := []string{
		"Recommended solution: Containerized Web Service",
		"Why this solution:",
		"Requirement coverage:",
		"Tradeoffs:",
		"Implementation considerations:",
		"Confidence: 86%",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(text, s)
		assert.Greater(t, idx, last, "section %q missing or out of order", s)
		last = idx
	}
	assert.Contains(t, text, "strongest on security (0.90)")
	assert.Contains(t, text, "Alternatives considered: Managed Platform-as-a-Service")
	assert.Contains(t, text, "load_balancer / traffic_distribution: provided by load_balancer")
	assert.Contains(t, text, "database / data_persistence: provided by managed_database")
	assert.Contains(t, text, "web_server / http_serving: provided by the overall solution")
	assert.Contains(t, text, "Cost: estimated $120.00/month")
}

func TestBuildCoverageLinePerRequirement(t *testing.T) {
	subs := decomposer.Decompose(models.ParsedRequest{Objective: models.ObjectiveDatabase})
	want := 0
	for _, s := range subs {
		want += len(s.Requirements)
	}
	e := Build(sampleDecision(), subs)
	assert.Len(t, e.RequirementCoverage, want)
	assert.Len(t, e.ImplementationConsiderations, 4)
	assert.Equal(t, 86, e.ConfidencePercent)
}

func TestRenderOmitsEmptyTradeoffs(t *testing.T) {
	d := sampleDecision()
	d.Solution.Tradeoffs = nil
	text := Render(d, nil)
	assert.NotContains(t, text, "Tradeoffs:")
	assert.Contains(t, text, "no explicit requirements")
}

func TestRenderZeroDecisionDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		text := Render(models.Decision{}, nil)
		assert.Contains(t, text, "(unnamed solution)")
		assert.Contains(t, text, "Confidence: 0%")
	})
}
