package selector

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrasage/infrasage/internal/models"
)

func ec(name string, score float64) models.EvaluatedCandidate {
	return models.EvaluatedCandidate{Solution: models.CandidateSolution{Name: name}, OverallScore: score}
}

func TestSelectEmptyIsNoCandidates(t *testing.T) {
	for _, in := range [][]models.EvaluatedCandidate{nil, {}} {
		_, err := Select(in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoCandidates))

		var nce *NoCandidatesError
		assert.True(t, errors.As(err, &nce))
		assert.Contains(t, err.Error(), "no feasible solution under current constraints")
	}
}

func TestNoCandidatesErrorWrapped(t *testing.T) {
	err := fmt.Errorf("reason: %w", &NoCandidatesError{Objective: models.ObjectiveAPIService})
	assert.True(t, errors.Is(err, ErrNoCandidates))
	assert.Contains(t, err.Error(), "api_service")
}

func TestSelectRanksAndKeepsTwoAlternatives(t *testing.T) {
	d, err := Select([]models.EvaluatedCandidate{ec("a", 0.5), ec("b", 0.9), ec("c", 0.7), ec("d", 0.6)})
	require.NoError(t, err)

	assert.Equal(t, "b", d.Solution.Solution.Name)
	require.Len(t, d.Alternatives, 2)
	assert.Equal(t, "c", d.Alternatives[0].Solution.Name)
	assert.Equal(t, "d", d.Alternatives[1].Solution.Name)
	assert.InDelta(t, 0.9+(0.9-0.7)/2, d.Confidence, 1e-9)
	assert.Contains(t, d.Reasoning, "over c")
}

func TestSelectStableTieBreak(t *testing.T) {
	d, err := Select([]models.EvaluatedCandidate{ec("first", 0.8), ec("second", 0.8), ec("third", 0.8)})
	require.NoError(t, err)
	assert.Equal(t, "first", d.Solution.Solution.Name)
	assert.Equal(t, "second", d.Alternatives[0].Solution.Name)
	assert.Equal(t, "third", d.Alternatives[1].Solution.Name)
	assert.Equal(t, 0.8, d.Confidence, "no gap, no boost")
}

func TestSelectSingleCandidate(t *testing.T) {
	d, err := Select([]models.EvaluatedCandidate{ec("only", 0.62)})
	require.NoError(t, err)
	assert.Empty(t, d.Alternatives)
	assert.NotNil(t, d.Alternatives)
	assert.Equal(t, 0.62, d.Confidence)
	assert.Contains(t, d.Reasoning, "only feasible option")
}

func TestConfidenceBounds(t *testing.T) {
	scores := []float64{0, 0.1, 0.33, 0.5, 0.75, 0.95, 1}
	for _, w := range scores {
		for _, r := range scores {
			if r > w {
				continue
			}
			winner, runner := ec("w", w), ec("r", r)
			c := Confidence(winner, &runner)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			assert.GreaterOrEqual(t, c, w, "confidence never below the winning score")
		}
	}
	assert.Equal(t, 1.0, Confidence(ec("w", 1), &models.EvaluatedCandidate{OverallScore: 0}))
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	in := []models.EvaluatedCandidate{ec("a", 0.1), ec("b", 0.9)}
	_, err := Select(in)
	require.NoError(t, err)
	assert.Equal(t, "a", in[0].Solution.Name)
}
