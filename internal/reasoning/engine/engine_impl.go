package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/audit"
	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/metrics"
	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/patterns"
	"github.com/infrasage/infrasage/internal/reasoning/candidates"
	"github.com/infrasage/infrasage/internal/reasoning/decomposer"
	"github.com/infrasage/infrasage/internal/reasoning/evaluator"
	"github.com/infrasage/infrasage/internal/reasoning/explain"
	"github.com/infrasage/infrasage/internal/reasoning/interpreter"
	"github.com/infrasage/infrasage/internal/reasoning/selector"
	"github.com/infrasage/infrasage/internal/tracing"
)

// Deps are the collaborators of the reasoning engine. Patterns is required;
// the rest may be nil.
type Deps struct {
	Patterns patterns.Source
	Recorder OperationRecorder
	Advisor  Advisor
	Trigger  Trigger
	Audit    audit.Logger
	Logger   *zap.Logger
}

// Engine runs the decision pipeline.
type Engine struct {
	patterns patterns.Source
	recorder OperationRecorder
	advisor  Advisor
	trigger  Trigger
	auditLog audit.Logger
	logger   *zap.Logger
}

// New creates a reasoning engine.
func New(deps Deps) *Engine {
	e := &Engine{
		patterns: deps.Patterns,
		recorder: deps.Recorder,
		advisor:  deps.Advisor,
		trigger:  deps.Trigger,
		auditLog: deps.Audit,
		logger:   deps.Logger,
	}
	if e.patterns == nil {
		e.patterns = patterns.Static(nil)
	}
	if e.auditLog == nil {
		e.auditLog = audit.NewNop()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// stage runs fn inside a child span and appends name to steps.
func stage(ctx context.Context, steps *[]string, name string, fn func(ctx context.Context)) {
	ctx, span := tracing.StartSpan(ctx, "reason."+name)
	defer span.End()
	fn(ctx)
	*steps = append(*steps, name)
}

// ReasonThroughProblem turns a free-text request and optional context into a
// Decision with its explanation. The only error is a NoCandidatesError when
// nothing feasible exists. A failed telemetry write does not fail the call;
// it is reported in ReasoningResult.LogError.
func (e *Engine) ReasonThroughProblem(ctx context.Context, request string, reqContext map[string]any) (*ReasoningResult, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "reason_through_problem")
	defer span.End()

	res := &ReasoningResult{
		OperationID:    uuid.New().String(),
		ReasoningSteps: make([]string, 0, len(Steps)),
	}
	steps := &res.ReasoningSteps

	stage(ctx, steps, StepParse, func(context.Context) {
		res.Request = interpreter.Parse(request, reqContext)
	})
	req := res.Request
	patternKey := models.PatternKey(req)
	span.SetAttributes(
		attribute.String("infrasage.objective", string(req.Objective)),
		attribute.String("infrasage.pattern_key", patternKey),
	)

	stage(ctx, steps, StepDecompose, func(context.Context) {
		res.SubProblems = decomposer.Decompose(req)
	})

	var (
		features models.Features
		rule     *models.AdaptationRule
	)
	stage(ctx, steps, StepAnalyzeConstraints, func(context.Context) {
		features = models.FeaturesFromRequest(req)
		res.Anomaly = intelligence.DetectAnomaly(features)
		for _, reason := range res.Anomaly.Reasons {
			metrics.AnomaliesTotal.WithLabelValues(reason).Inc()
		}
		if e.advisor != nil {
			rule = e.advisor.RuleFor(patternKey)
			res.Predictions = Predictions{
				CostMonthly:     e.advisor.PredictCost(features),
				ExecutionTimeMs: e.advisor.PredictPerformance(features),
			}
		}
	})

	var cands []models.CandidateSolution
	stage(ctx, steps, StepFindSolutions, func(context.Context) {
		cands = candidates.Generate(e.patterns, req.Constraints, req.Scale)
		metrics.CandidatesSurviving.Observe(float64(len(cands)))
	})

	var evaluated []models.EvaluatedCandidate
	stage(ctx, steps, StepEvaluate, func(context.Context) {
		evaluated = evaluator.Evaluate(cands, req.Constraints, rule)
	})

	var selErr error
	stage(ctx, steps, StepDecide, func(context.Context) {
		res.Decision, selErr = selector.Select(evaluated)
	})
	if selErr != nil {
		return nil, e.fail(ctx, res, features, patternKey, start, selErr)
	}

	stage(ctx, steps, StepExplain, func(context.Context) {
		res.Explanation = explain.Build(res.Decision, res.SubProblems)
		res.ExplanationText = res.Explanation.String()
	})

	res.Confidence = res.Decision.Confidence
	res.Duration = time.Since(start)
	sol := res.Decision.Solution.Solution

	_, err := e.record(ctx, models.OperationLogEntry{
		ID:              res.OperationID,
		OperationType:   models.OperationReason,
		PatternKey:      patternKey,
		Input:           models.OperationInput{Request: req, Features: features},
		Output:          models.SummarizeDecision(res.Decision),
		Success:         true,
		ExecutionTimeMs: float64(res.Duration.Microseconds()) / 1000,
		CostImpact:      sol.CostEstimate,
		ResourceChanges: len(sol.Components),
	})
	res.LogError = err

	metrics.DecisionsTotal.WithLabelValues(string(req.Objective), "decided").Inc()
	metrics.DecisionDuration.Observe(res.Duration.Seconds())
	metrics.DecisionConfidence.Observe(res.Confidence)
	span.SetAttributes(
		attribute.String("infrasage.solution", sol.PatternID),
		attribute.Float64("infrasage.confidence", res.Confidence),
	)
	if aerr := e.auditLog.LogDecisionMade(ctx, string(req.Objective), patternKey, sol.Name, res.Confidence, res.Duration); aerr != nil {
		e.logger.Warn("Failed to audit decision", zap.Error(aerr))
	}
	e.logger.Debug("Decision made",
		zap.String("operation_id", res.OperationID),
		zap.String("pattern_key", patternKey),
		zap.String("solution", sol.PatternID),
		zap.Float64("confidence", res.Confidence),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// fail records an unsuccessful operation and returns the error to surface.
func (e *Engine) fail(ctx context.Context, res *ReasoningResult, features models.Features, patternKey string, start time.Time, err error) error {
	req := res.Request
	errorType := models.ErrorTypeInternal
	outcome := "error"

	var nc *selector.NoCandidatesError
	if errors.As(err, &nc) {
		nc.Objective = req.Objective
		nc.PatternKey = patternKey
		nc.Constraints = req.Constraints
		errorType = models.ErrorTypeNoCandidates
		outcome = "no_candidates"
	}
	duration := time.Since(start)

	if _, lerr := e.record(ctx, models.OperationLogEntry{
		ID:              res.OperationID,
		OperationType:   models.OperationReason,
		PatternKey:      patternKey,
		Input:           models.OperationInput{Request: req, Features: features},
		Success:         false,
		ExecutionTimeMs: float64(duration.Microseconds()) / 1000,
		ErrorType:       errorType,
	}); lerr != nil {
		err = fmt.Errorf("%w (operation log write failed: %v)", err, lerr)
	}

	metrics.DecisionsTotal.WithLabelValues(string(req.Objective), outcome).Inc()
	metrics.DecisionDuration.Observe(duration.Seconds())

	var aerr error
	if errorType == models.ErrorTypeNoCandidates {
		aerr = e.auditLog.LogDecisionNoCandidates(ctx, string(req.Objective), patternKey, duration)
	} else {
		aerr = e.auditLog.LogDecisionFailed(ctx, string(req.Objective), patternKey, err)
	}
	if aerr != nil {
		e.logger.Warn("Failed to audit decision", zap.Error(aerr))
	}
	e.logger.Info("No decision",
		zap.String("operation_id", res.OperationID),
		zap.String("pattern_key", patternKey),
		zap.Error(err))
	return err
}

// record appends the operation and nudges the learning scheduler. It never
// blocks on learning.
func (e *Engine) record(ctx context.Context, entry models.OperationLogEntry) (models.OperationLogEntry, error) {
	if e.recorder == nil {
		return entry, nil
	}
	ctx, span := tracing.StartSpan(ctx, "reason.record")
	defer span.End()

	stored, err := e.recorder.Record(ctx, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation log write failed")
		e.logger.Warn("Operation not recorded",
			zap.String("operation_id", entry.ID),
			zap.Error(err))
		return stored, err
	}
	if e.trigger != nil {
		e.trigger.Trigger()
	}
	return stored, nil
}
