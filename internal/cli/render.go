package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/reasoning/engine"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func heading(w io.Writer, s string) {
	fmt.Fprintln(w, headingStyle.Render(s))
}

func renderDecision(w io.Writer, res *engine.ReasoningResult) {
	sol := res.Decision.Solution.Solution
	heading(w, sol.Name)
	fmt.Fprintf(w, "confidence %.0f%%  score %.2f  cost $%.2f/month\n",
		res.Confidence*100, res.Decision.Solution.OverallScore, sol.CostEstimate)
	fmt.Fprintln(w, mutedStyle.Render("operation "+res.OperationID))
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimRight(res.ExplanationText, "\n"))

	if res.Anomaly.Anomalous {
		fmt.Fprintln(w)
		fmt.Fprintln(w, warnStyle.Render("Unusual request: "+strings.Join(res.Anomaly.Reasons, "; ")))
	}
}

func renderHistory(w io.Writer, entries []models.OperationLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no operations recorded"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tTYPE\tPATTERN\tSOLUTION\tOK\tMS")
	for _, e := range entries {
		ok := "yes"
		if !e.Success {
			ok = "no"
			if e.ErrorType != "" {
				ok = "no (" + e.ErrorType + ")"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%.1f\n",
			e.Seq, e.Timestamp.Local().Format(time.DateTime), e.OperationType,
			dash(e.PatternKey), dash(e.Output.SolutionName), ok, e.ExecutionTimeMs)
	}
	_ = tw.Flush()
}

func renderSummary(w io.Writer, s *models.OperationSummary) {
	heading(w, "Operations")
	fmt.Fprintf(w, "total         %d\n", s.Total)
	fmt.Fprintf(w, "success rate  %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(w, "avg time      %.1f ms\n", s.AvgExecutionTimeMs)
	renderCounts(w, "By type", s.ByOperationType)
	renderCounts(w, "By error", s.ByErrorType)
}

func renderCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w)
	heading(w, title)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
	}
	_ = tw.Flush()
}

func renderPass(w io.Writer, res intelligence.PassResult, patterns []models.LearningPattern) {
	status := "complete"
	if !res.Completed {
		status = "partial"
	}
	fmt.Fprintf(w, "learning pass %s: %d entries, %d patterns touched, watermark %d (%s)\n",
		status, res.Entries, res.Patterns, res.Watermark, res.Duration.Round(time.Millisecond))
	if len(patterns) == 0 {
		return
	}
	fmt.Fprintln(w)
	heading(w, "Learning patterns")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATTERN\tFREQ\tSUCCESS\tCONFIDENCE\tAVG COST")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.2f\t%.2f\n",
			p.PatternKey, p.Frequency, p.SuccessRate*100, p.Confidence, p.AvgCostImpact)
	}
	_ = tw.Flush()
}

func renderInsights(w io.Writer, ins intelligence.Advisories) {
	if len(ins.Suggestions) == 0 && len(ins.Rules) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no insights yet; run `infrasage learn` after recording decisions"))
		return
	}
	if len(ins.Suggestions) > 0 {
		heading(w, "Suggestions")
		for _, s := range ins.Suggestions {
			fmt.Fprintf(w, "[%s] %s: %s %s\n", s.Priority, s.PatternKey, s.Description,
				mutedStyle.Render(fmt.Sprintf("(%s, confidence %.2f)", s.Type, s.Confidence)))
		}
	}
	if len(ins.Rules) > 0 {
		if len(ins.Suggestions) > 0 {
			fmt.Fprintln(w)
		}
		heading(w, "Adaptation rules")
		for _, r := range ins.Rules {
			fmt.Fprintf(w, "%s: %s %s\n", r.PatternKey, r.Reason, mutedStyle.Render(formatWeights(r.Weights)))
		}
	}
}

func renderCleanup(w io.Writer, res cleanupResult, patterns bool) {
	fmt.Fprintf(w, "deleted %d operations before %s\n", res.Operations, res.Before.Local().Format(time.DateTime))
	if patterns {
		fmt.Fprintf(w, "deleted %d learning patterns\n", res.LearningPatterns)
	}
}

func formatWeights(weights map[string]float64) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.2f", k, weights[k])
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
