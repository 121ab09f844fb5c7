// Package selector picks the winning candidate and derives the decision
// confidence.
package selector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/infrasage/infrasage/internal/models"
)

// MaxAlternatives is the number of runner-ups kept on a Decision.
const MaxAlternatives = 2

// ErrNoCandidates is the sentinel matched by NoCandidatesError.
var ErrNoCandidates = errors.New("no feasible solution under current constraints")

// NoCandidatesError is returned when no candidate survived generation and
// evaluation. It is the only hard failure of the decision pipeline.
type NoCandidatesError struct {
	Objective   models.Objective
	PatternKey  string
	Constraints models.Constraints
}

func (e *NoCandidatesError) Error() string {
	if e.Objective == "" {
		return ErrNoCandidates.Error()
	}
	return fmt.Sprintf("%s (objective %s)", ErrNoCandidates.Error(), e.Objective)
}

// Is lets errors.Is(err, ErrNoCandidates) match.
func (e *NoCandidatesError) Is(target error) bool { return target == ErrNoCandidates }

// Select ranks evaluated candidates by overall score, descending, keeping
// input order among equal scores.
func Select(evaluated []models.EvaluatedCandidate) (models.Decision, error) {
	if len(evaluated) == 0 {
		return models.Decision{}, &NoCandidatesError{}
	}

	ranked := append([]models.EvaluatedCandidate(nil), evaluated...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].OverallScore > ranked[j].OverallScore
	})

	winner := ranked[0]
	end := 1 + MaxAlternatives
	if end > len(ranked) {
		end = len(ranked)
	}
	alternatives := append([]models.EvaluatedCandidate{}, ranked[1:end]...)

	var runnerUp *models.EvaluatedCandidate
	if len(alternatives) > 0 {
		runnerUp = &alternatives[0]
	}

	return models.Decision{
		Solution:     winner,
		Reasoning:    decisionReasoning(winner, runnerUp),
		Alternatives: alternatives,
		Confidence:   Confidence(winner, runnerUp),
	}, nil
}

// Confidence is the winner's overall score boosted by half its gap to the
// runner-up, capped at 1.
func Confidence(winner models.EvaluatedCandidate, runnerUp *models.EvaluatedCandidate) float64 {
	c := winner.OverallScore
	if runnerUp != nil {
		c += (winner.OverallScore - runnerUp.OverallScore) / 2
	}
	return models.Clamp01(c)
}

func decisionReasoning(winner models.EvaluatedCandidate, runnerUp *models.EvaluatedCandidate) string {
	if runnerUp == nil {
		return fmt.Sprintf("Selected %s as the only feasible option (score %.2f).",
			winner.Solution.Name, winner.OverallScore)
	}
	return fmt.Sprintf("Selected %s with score %.2f over %s (%.2f).",
		winner.Solution.Name, winner.OverallScore, runnerUp.Solution.Name, runnerUp.OverallScore)
}
