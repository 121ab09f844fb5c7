package models

import "time"

// OperationReason is the operation type recorded for ReasonThroughProblem.
const OperationReason = "reason_through_problem"

// Error types recorded on failed operations.
const (
	ErrorTypeNoCandidates = "no_candidates"
	ErrorTypeInternal     = "internal"
)

// DecisionSummary is the compact decision snapshot kept in the operation log.
type DecisionSummary struct {
	SolutionName string   `json:"solution_name,omitempty"`
	PatternID    string   `json:"pattern_id,omitempty"`
	OverallScore float64  `json:"overall_score"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
	Components   []string `json:"components,omitempty"`
}

// SummarizeDecision builds the log snapshot of a decision.
func SummarizeDecision(d Decision) DecisionSummary {
	s := DecisionSummary{
		SolutionName: d.Solution.Solution.Name,
		PatternID:    d.Solution.Solution.PatternID,
		OverallScore: d.Solution.OverallScore,
		Confidence:   d.Confidence,
		Components:   append([]string(nil), d.Solution.Solution.Components...),
	}
	for _, alt := range d.Alternatives {
		s.Alternatives = append(s.Alternatives, alt.Solution.Name)
	}
	return s
}

// OperationInput is the input-feature snapshot of a logged operation.
type OperationInput struct {
	Request  ParsedRequest `json:"request"`
	Features Features      `json:"features"`
}

// OperationLogEntry is one append-only telemetry record. Seq is assigned by
// the store and orders entries for the learning watermark.
type OperationLogEntry struct {
	ID              string          `json:"id"`
	Seq             int64           `json:"seq"`
	Timestamp       time.Time       `json:"timestamp"`
	OperationType   string          `json:"operation_type"`
	PatternKey      string          `json:"pattern_key"`
	Input           OperationInput  `json:"input"`
	Output          DecisionSummary `json:"output"`
	Success         bool            `json:"success"`
	ExecutionTimeMs float64         `json:"execution_time_ms"`
	CostImpact      float64         `json:"cost_impact"`
	ResourceChanges int             `json:"resource_changes"`
	ErrorType       string          `json:"error_type,omitempty"`
}

// OperationSummary is the aggregate view of a time range.
type OperationSummary struct {
	From               time.Time      `json:"from"`
	To                 time.Time      `json:"to"`
	Total              int            `json:"total"`
	SuccessRate        float64        `json:"success_rate"`
	AvgExecutionTimeMs float64        `json:"avg_execution_time_ms"`
	ByOperationType    map[string]int `json:"by_operation_type"`
	ByErrorType        map[string]int `json:"by_error_type"`
}
