package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/patterns"
	"github.com/infrasage/infrasage/internal/reasoning/candidates"
)

func fp(v float64) *float64 { return &v }

func TestCostScore(t *testing.T) {
	tests := []struct {
		name   string
		cost   float64
		budget *float64
		want   float64
	}{
		{"no budget", 500, nil, 0.5},
		{"half", 50, fp(100), 1.0},
		{"0.8", 80, fp(100), 0.8},
		{"0.6 boundary", 60, fp(100), 0.8},
		{"full", 100, fp(100), 0.6},
		{"over", 150, fp(100), 0.2},
		{"zero budget free", 0, fp(0), 1.0},
		{"zero budget paid", 10, fp(0), 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CostScore(tt.cost, tt.budget))
		})
	}
}

func TestConstraintScore(t *testing.T) {
	tests := []struct {
		score float64
		level models.Level
		want  float64
	}{
		{0.9, models.LevelHigh, 1.0},
		{0.7, models.LevelHigh, 0.7},
		{0.7, models.LevelMedium, 0.8},
		{0.9, models.LevelMedium, 0.9},
		{0.5, models.LevelMedium, 0.5},
		{0.9, models.LevelLow, 0.9},
		{0.5, models.LevelLow, 0.5},
		{0.5, models.Level(""), 0.5},
	}
	for _, tt := range tests {
		got := ConstraintScore(tt.score, tt.level)
		assert.Equal(t, tt.want, got, "score=%v level=%q", tt.score, tt.level)
		assert.GreaterOrEqual(t, got, tt.score, "boost must never lower a score")
	}
}

func TestComplexityScore(t *testing.T) {
	assert.Equal(t, 1.0, ComplexityScore(models.ComplexityLow))
	assert.Equal(t, 0.7, ComplexityScore(models.ComplexityMedium))
	assert.Equal(t, 0.4, ComplexityScore(models.ComplexityHigh))
	assert.Equal(t, 0.7, ComplexityScore("unknown"))
}

func TestWeights(t *testing.T) {
	w := Weights(nil)
	assert.Len(t, w, 4)
	for _, d := range models.Dimensions {
		assert.Equal(t, 1.0, w[d])
	}

	rule := &models.AdaptationRule{Weights: map[string]float64{
		models.DimensionCost:        1.5,
		models.DimensionPerformance: -2,
		"latency":                   3,
	}}
	w = Weights(rule)
	assert.Equal(t, 1.5, w[models.DimensionCost])
	assert.Equal(t, 1.0, w[models.DimensionPerformance], "invalid weight ignored")
	assert.NotContains(t, w, "latency")
}

func TestEvaluateOverallScoreRoundTrip(t *testing.T) {
	cands := candidates.Generate(patterns.Static(patterns.DefaultCatalog().Patterns),
		models.Constraints{Budget: fp(400), Performance: models.LevelMedium, Security: models.LevelHigh}, models.Scale{})
	require.NotEmpty(t, cands)

	rules := []*models.AdaptationRule{
		nil,
		{PatternKey: "api_service:large", Weights: map[string]float64{models.DimensionCost: 1.5, models.DimensionPerformance: 1.25}},
	}
	for _, rule := range rules {
		evaluated := Evaluate(cands, models.Constraints{Budget: fp(400), Security: models.LevelHigh}, rule)
		require.Len(t, evaluated, len(cands))
		for i, ec := range evaluated {
			assert.Equal(t, cands[i].Name, ec.Solution.Name, "order preserved")
			assert.Len(t, ec.ConstraintScores, 4)

			var sum, total float64
			for d, s := range ec.ConstraintScores {
				assert.GreaterOrEqual(t, s, 0.0)
				assert.LessOrEqual(t, s, 1.0)
				sum += ec.Weights[d] * s
				total += ec.Weights[d]
			}
			assert.InDelta(t, sum/total, ec.OverallScore, 1e-9)
		}
	}
}

func TestEvaluateEqualWeightsIsArithmeticMean(t *testing.T) {
	c := models.CandidateSolution{Name: "x", CostEstimate: 40, PerformanceScore: 0.7, SecurityScore: 0.5, Complexity: models.ComplexityLow}
	got := Evaluate([]models.CandidateSolution{c}, models.Constraints{Budget: fp(100), Performance: models.LevelMedium, Security: models.LevelLow}, nil)
	require.Len(t, got, 1)
	// cost 1.0, performance 0.8 (boosted), security 0.5, complexity 1.0
	assert.InDelta(t, (1.0+0.8+0.5+1.0)/4, got[0].OverallScore, 1e-9)
	assert.Contains(t, got[0].Tradeoffs, "Baseline security; additional hardening may be required")
	assert.Contains(t, got[0].Reasoning, "(overall 0.8")
}

func TestEvaluateWeightsMapsAreIndependent(t *testing.T) {
	cands := []models.CandidateSolution{{Name: "a"}, {Name: "b"}}
	got := Evaluate(cands, models.Constraints{}, nil)
	got[0].Weights[models.DimensionCost] = 9
	assert.Equal(t, 1.0, got[1].Weights[models.DimensionCost])
}

func TestTradeoffs(t *testing.T) {
	c := models.CandidateSolution{CostEstimate: 300, PerformanceScore: 0.9, SecurityScore: 0.9, Complexity: models.ComplexityHigh}
	got := Tradeoffs(c, models.Constraints{Budget: fp(320)})
	assert.Equal(t, []string{
		"Higher cost for better performance/security",
		"Uses most of the available budget",
		"Higher operational complexity requires experienced operators",
	}, got)

	assert.Empty(t, Tradeoffs(models.CandidateSolution{CostEstimate: 10, PerformanceScore: 0.7, SecurityScore: 0.7}, models.Constraints{}))
}

func TestEvaluateEmpty(t *testing.T) {
	assert.Empty(t, Evaluate(nil, models.Constraints{}, nil))
}
