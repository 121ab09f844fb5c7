package candidates

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/patterns"
)

func users(n int) models.Scale { return models.Scale{Users: &n} }

func budget(v float64) models.Constraints {
	return models.Constraints{Budget: &v, Performance: models.LevelMedium, Security: models.LevelMedium}
}

func TestCostMultiplier(t *testing.T) {
	tests := []struct {
		name  string
		scale models.Scale
		want  float64
	}{
		{"no users", models.Scale{}, 1},
		{"500", users(500), 1},
		{"1000 boundary", users(1000), 1},
		{"1001", users(1001), 2},
		{"10000 boundary", users(10000), 2},
		{"10001", users(10001), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CostMultiplier(tt.scale))
		})
	}
}

func TestTierScores(t *testing.T) {
	assert.Equal(t, 0.9, PerformanceScore(10000))
	assert.Equal(t, 0.7, PerformanceScore(9999))
	assert.Equal(t, 0.7, PerformanceScore(1000))
	assert.Equal(t, 0.5, PerformanceScore(999))

	assert.Equal(t, 0.9, SecurityScore(5))
	assert.Equal(t, 0.9, SecurityScore(4))
	assert.Equal(t, 0.7, SecurityScore(3))
	assert.Equal(t, 0.5, SecurityScore(2))
}

func TestGenerateBudgetFilter(t *testing.T) {
	got := Generate(patterns.Static(patterns.DefaultCatalog().Patterns), budget(150), users(500))
	assert.NotEmpty(t, got)
	for _, c := range got {
		assert.LessOrEqual(t, c.CostEstimate, 150.0, c.Name)
	}
}

func TestGenerateScalesCost(t *testing.T) {
	src := patterns.Static{{ID: "p", Name: "P", Components: []string{"x"}, BaseCost: 100, ThroughputRPS: 100, SecurityLevel: 2, Complexity: models.ComplexityLow}}
	got := Generate(src, models.Constraints{}, users(50000))
	assert.Len(t, got, 1)
	assert.Equal(t, 300.0, got[0].CostEstimate)
	assert.Equal(t, "p", got[0].PatternID)
}

func TestGenerateHighConstraintsFilter(t *testing.T) {
	src := patterns.Static(patterns.DefaultCatalog().Patterns)

	sec := Generate(src, models.Constraints{Security: models.LevelHigh, Performance: models.LevelMedium}, users(50000))
	assert.NotEmpty(t, sec)
	for _, c := range sec {
		assert.GreaterOrEqual(t, c.SecurityScore, 0.8, c.Name)
	}

	perf := Generate(src, models.Constraints{Performance: models.LevelHigh, Security: models.LevelMedium}, models.Scale{})
	assert.NotEmpty(t, perf)
	for _, c := range perf {
		assert.GreaterOrEqual(t, c.PerformanceScore, 0.8, c.Name)
	}
}

func TestGenerateEmpty(t *testing.T) {
	assert.Equal(t, []models.CandidateSolution{}, Generate(patterns.Static(nil), models.Constraints{}, models.Scale{}))

	// Nothing in the default catalog fits a $1 budget.
	got := Generate(patterns.Static(patterns.DefaultCatalog().Patterns), budget(1), users(10))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestInstantiateDoesNotAliasPattern(t *testing.T) {
	p := patterns.Pattern{ID: "p", Name: "P", Components: []string{"a", "b"}, SecurityLevel: 3, Complexity: models.ComplexityHigh}
	c := Instantiate(p, models.Scale{})
	c.Components[0] = "mutated"
	assert.Equal(t, "a", p.Components[0])
	assert.Equal(t, models.ComplexityHigh, c.Complexity)
	assert.Equal(t, 0.7, c.SecurityScore)
}
