package engine

// Package engine is the reasoning orchestrator: the single entry point that
// turns a free-text request into a Decision.
//
// Pipeline:
//
//   1. parse                 free text + context → ParsedRequest
//   2. decompose             ParsedRequest → ordered SubProblems
//   3. analyze_constraints   feature vector, anomaly flags, adaptation rule
//   4. find_solutions        pattern catalog → feasible CandidateSolutions
//   5. evaluate              four-dimension scoring, tradeoffs
//   6. decide                ranking, confidence, alternatives
//   7. explain               fixed-section rationale
//
// After the decision the operation is appended to the telemetry log and the
// learning scheduler is nudged. Learning itself never runs on this path.
//
// Concurrency:
//   - ReasonThroughProblem is reentrant; every call builds its own values
//   - The only shared reads are the pattern snapshot and the adaptation
//     rule snapshot, both copy-on-read

import (
	"context"
	"time"

	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/reasoning/explain"
)

// Reasoning steps, in pipeline order.
const (
	StepParse              = "parse"
	StepDecompose          = "decompose"
	StepAnalyzeConstraints = "analyze_constraints"
	StepFindSolutions      = "find_solutions"
	StepEvaluate           = "evaluate"
	StepDecide             = "decide"
	StepExplain            = "explain"
)

// Steps lists every reasoning step of a successful request.
var Steps = []string{
	StepParse, StepDecompose, StepAnalyzeConstraints, StepFindSolutions,
	StepEvaluate, StepDecide, StepExplain,
}

// Predictions are the learned estimates attached to every result.
type Predictions struct {
	CostMonthly     float64 `json:"cost_monthly"`
	ExecutionTimeMs float64 `json:"execution_time_ms"`
}

// ReasoningResult is the outcome of one ReasonThroughProblem call.
type ReasoningResult struct {
	OperationID     string                     `json:"operation_id"`
	Request         models.ParsedRequest       `json:"request"`
	SubProblems     []models.SubProblem        `json:"sub_problems"`
	Decision        models.Decision            `json:"decision"`
	Explanation     explain.Explanation        `json:"explanation"`
	ExplanationText string                     `json:"explanation_text"`
	ReasoningSteps  []string                   `json:"reasoning_steps"`
	Confidence      float64                    `json:"confidence"`
	Anomaly         intelligence.AnomalyReport `json:"anomaly"`
	Predictions     Predictions                `json:"predictions"`
	Duration        time.Duration              `json:"duration"`

	// LogError is set when the decision stands but the telemetry log write
	// failed, so the operation is missing from the audit history.
	LogError error `json:"-"`
}

// OperationRecorder appends operations to the telemetry log.
type OperationRecorder interface {
	Record(ctx context.Context, entry models.OperationLogEntry) (models.OperationLogEntry, error)
}

// Advisor supplies the learned state read on the request path.
type Advisor interface {
	RuleFor(patternKey string) *models.AdaptationRule
	PredictCost(f models.Features) float64
	PredictPerformance(f models.Features) float64
}

// Trigger nudges the learning scheduler without blocking.
type Trigger interface {
	Trigger()
}
