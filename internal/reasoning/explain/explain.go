// Package explain renders a Decision into a fixed-section, human-readable
// rationale. Rendering is pure and never fails.
package explain

import (
	"fmt"
	"strings"

	"github.com/infrasage/infrasage/internal/models"
)

// Explanation is the structured rationale for one Decision.
type Explanation struct {
	Solution                     string   `json:"solution"`
	Summary                      string   `json:"summary"`
	RequirementCoverage          []string `json:"requirement_coverage"`
	Tradeoffs                    []string `json:"tradeoffs,omitempty"`
	ImplementationConsiderations []string `json:"implementation_considerations"`
	ConfidencePercent            int      `json:"confidence_percent"`
}

// Build assembles the explanation for d. subs supplies the requirement
// coverage lines; it may be empty.
func Build(d models.Decision, subs []models.SubProblem) Explanation {
	sol := d.Solution.Solution
	e := Explanation{
		Solution:                     sol.Name,
		Summary:                      summary(d),
		RequirementCoverage:          coverage(sol, subs),
		Tradeoffs:                    append([]string(nil), d.Solution.Tradeoffs...),
		ImplementationConsiderations: considerations(d.Solution),
		ConfidencePercent:            int(models.Clamp01(d.Confidence)*100 + 0.5),
	}
	return e
}

// Render returns the text form of Build(d, subs).
func Render(d models.Decision, subs []models.SubProblem) string {
	return Build(d, subs).String()
}

func (e Explanation) String() string {
	var b strings.Builder
	name := e.Solution
	if name == "" {
		name = "(unnamed solution)"
	}
	fmt.Fprintf(&b, "Recommended solution: %s\n\n", name)

	b.WriteString("Why this solution:\n")
	fmt.Fprintf(&b, "  %s\n\n", e.Summary)

	b.WriteString("Requirement coverage:\n")
	if len(e.RequirementCoverage) == 0 {
		b.WriteString("  - no explicit requirements\n")
	}
	for _, line := range e.RequirementCoverage {
		fmt.Fprintf(&b, "  - %s\n", line)
	}

	if len(e.Tradeoffs) > 0 {
		b.WriteString("\nTradeoffs:\n")
		for _, t := range e.Tradeoffs {
			fmt.Fprintf(&b, "  - %s\n", t)
		}
	}

	b.WriteString("\nImplementation considerations:\n")
	for _, line := range e.ImplementationConsiderations {
		fmt.Fprintf(&b, "  - %s\n", line)
	}

	fmt.Fprintf(&b, "\nConfidence: %d%%\n", e.ConfidencePercent)
	return b.String()
}

func summary(d models.Decision) string {
	ec := d.Solution
	s := fmt.Sprintf("%s ranked highest with an overall score of %.2f", ec.Solution.Name, ec.OverallScore)
	if best, score, ok := strongestDimension(ec.ConstraintScores); ok {
		s += fmt.Sprintf(", strongest on %s (%.2f)", best, score)
	}
	s += "."
	if len(d.Alternatives) > 0 {
		names := make([]string, len(d.Alternatives))
		for i, a := range d.Alternatives {
			names[i] = a.Solution.Name
		}
		s += " Alternatives considered: " + strings.Join(names, ", ") + "."
	}
	return s
}

// strongestDimension returns the first dimension (in reporting order) with
// the highest score.
func strongestDimension(scores map[string]float64) (string, float64, bool) {
	best, bestScore, found := "", -1.0, false
	for _, d := range models.Dimensions {
		if s, ok := scores[d]; ok && s > bestScore {
			best, bestScore, found = d, s, true
		}
	}
	return best, bestScore, found
}

func coverage(sol models.CandidateSolution, subs []models.SubProblem) []string {
	out := []string{}
	for _, sp := range subs {
		via := matchComponent(sol.Components, sp.Component)
		for _, req := range sp.Requirements {
			out = append(out, fmt.Sprintf("%s / %s: provided by %s", sp.Component, req, via))
		}
	}
	return out
}

// matchComponent finds the solution component serving a sub-problem
// component, falling back to the solution as a whole.
func matchComponent(components []string, want string) string {
	for _, c := range components {
		if c == want || strings.Contains(c, want) || strings.Contains(want, c) {
			return c
		}
	}
	return "the overall solution"
}

func considerations(ec models.EvaluatedCandidate) []string {
	sol := ec.Solution
	return []string{
		fmt.Sprintf("Cost: estimated $%.2f/month (score %.2f)", sol.CostEstimate, ec.ConstraintScores[models.DimensionCost]),
		fmt.Sprintf("Performance: nominal %.2f, evaluated %.2f", sol.PerformanceScore, ec.ConstraintScores[models.DimensionPerformance]),
		fmt.Sprintf("Security: nominal %.2f, evaluated %.2f", sol.SecurityScore, ec.ConstraintScores[models.DimensionSecurity]),
		fmt.Sprintf("Complexity: %s (score %.2f)", complexityLabel(sol.Complexity), ec.ConstraintScores[models.DimensionComplexity]),
	}
}

func complexityLabel(c models.Complexity) string {
	if c == "" {
		return "unspecified"
	}
	return string(c)
}
