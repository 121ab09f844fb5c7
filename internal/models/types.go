// Package models defines the core data types shared by the decision pipeline
// and the telemetry/learning loop.
//
// Pipeline types (ParsedRequest → SubProblem → CandidateSolution →
// EvaluatedCandidate → Decision) are values: each stage builds new values and
// never mutates what it was handed. Learning types (LearningPattern,
// OptimizationSuggestion, AdaptationRule) are owned by the intelligence engine.
package models

import (
	"math"
	"time"
)

// Level is a coarse low/medium/high rating used by constraints and traffic.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Objective is the enum-like request objective.
type Objective string

const (
	ObjectiveWebApplication Objective = "web_application"
	ObjectiveAPIService     Objective = "api_service"
	ObjectiveDatabase       Objective = "database"
	ObjectiveMonitoring     Objective = "monitoring"
	ObjectiveGeneral        Objective = "general_infrastructure"
)

// Complexity tiers of a solution archetype.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Evaluation dimensions.
const (
	DimensionCost        = "cost"
	DimensionPerformance = "performance"
	DimensionSecurity    = "security"
	DimensionComplexity  = "complexity"
)

// Dimensions lists the evaluation dimensions in reporting order.
var Dimensions = []string{DimensionCost, DimensionPerformance, DimensionSecurity, DimensionComplexity}

// ─── Request ──────────────────────────────────────────────────────────────────

// Constraints holds the request constraints. Budget is nil when absent.
type Constraints struct {
	Budget             *float64 `json:"budget,omitempty"`
	Performance        Level    `json:"performance"`
	Security           Level    `json:"security"`
	Availability       Level    `json:"availability"`
	AvailabilityTarget *float64 `json:"availability_target,omitempty"`
}

// HasBudget reports whether a budget constraint is present.
func (c Constraints) HasBudget() bool { return c.Budget != nil }

// Scale describes expected load. Users is nil when not stated.
type Scale struct {
	Users        *int    `json:"users,omitempty"`
	Traffic      Level   `json:"traffic"`
	DataVolumeGB float64 `json:"data_volume_gb"`
}

// ParsedRequest is the structured form of a free-text request.
type ParsedRequest struct {
	Raw                   string      `json:"raw"`
	Objective             Objective   `json:"objective"`
	Entities              []string    `json:"entities"`
	Constraints           Constraints `json:"constraints"`
	Scale                 Scale       `json:"scale"`
	TechnologyPreferences []string    `json:"technology_preferences"`
}

// UserCount returns the stated user count or 0.
func (p ParsedRequest) UserCount() int {
	if p.Scale.Users == nil {
		return 0
	}
	return *p.Scale.Users
}

// SubProblem is one architectural component of a request.
type SubProblem struct {
	Component    string      `json:"component"`
	Requirements []string    `json:"requirements"`
	Constraints  Constraints `json:"constraints"`
	Priority     int         `json:"priority"`
}

// ─── Candidates ───────────────────────────────────────────────────────────────

// CandidateSolution is a pattern instantiated for one request.
type CandidateSolution struct {
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Components       []string   `json:"components"`
	CostEstimate     float64    `json:"cost_estimate"`
	PerformanceScore float64    `json:"performance_score"`
	SecurityScore    float64    `json:"security_score"`
	Complexity       Complexity `json:"complexity"`
	PatternID        string     `json:"pattern_id"`
}

// EvaluatedCandidate wraps a candidate with its scores.
type EvaluatedCandidate struct {
	Solution         CandidateSolution  `json:"solution"`
	OverallScore     float64            `json:"overall_score"`
	ConstraintScores map[string]float64 `json:"constraint_scores"`
	Weights          map[string]float64 `json:"weights,omitempty"`
	Tradeoffs        []string           `json:"tradeoffs"`
	Reasoning        string             `json:"reasoning"`
}

// Decision is the single outcome of one request.
type Decision struct {
	Solution     EvaluatedCandidate   `json:"solution"`
	Reasoning    string               `json:"reasoning"`
	Alternatives []EvaluatedCandidate `json:"alternatives"`
	Confidence   float64              `json:"confidence"`
}

// ─── Learning ─────────────────────────────────────────────────────────────────

// Features is the numeric feature vector used by prediction and anomaly logic.
type Features struct {
	Users                   float64 `json:"users"`
	DataVolume              float64 `json:"data_volume"`
	AvailabilityRequirement float64 `json:"availability_requirement"`
}

// FeaturesFromRequest derives the feature vector of a parsed request.
func FeaturesFromRequest(p ParsedRequest) Features {
	f := Features{
		Users:      float64(p.UserCount()),
		DataVolume: p.Scale.DataVolumeGB,
	}
	switch {
	case p.Constraints.AvailabilityTarget != nil:
		f.AvailabilityRequirement = *p.Constraints.AvailabilityTarget
	case p.Constraints.Availability == LevelHigh:
		f.AvailabilityRequirement = 99.9
	case p.Constraints.Availability == LevelMedium:
		f.AvailabilityRequirement = 99.5
	default:
		f.AvailabilityRequirement = 99.0
	}
	return f
}

// ScaleBucket maps a request to small/medium/large using the same user
// breakpoints as the cost multiplier. Without a user count the traffic level
// decides.
func ScaleBucket(p ParsedRequest) string {
	if p.Scale.Users != nil {
		switch u := *p.Scale.Users; {
		case u > 10000:
			return "large"
		case u > 1000:
			return "medium"
		default:
			return "small"
		}
	}
	switch p.Scale.Traffic {
	case LevelHigh:
		return "large"
	case LevelLow:
		return "small"
	default:
		return "medium"
	}
}

// PatternKey is the learning-pattern key for a request.
func PatternKey(p ParsedRequest) string {
	return string(p.Objective) + ":" + ScaleBucket(p)
}

// LearningPattern aggregates the history of one request shape.
type LearningPattern struct {
	PatternKey     string    `json:"pattern_key"`
	Frequency      int       `json:"frequency"`
	SuccessRate    float64   `json:"success_rate"`
	Confidence     float64   `json:"confidence"`
	AvgCostImpact  float64   `json:"avg_cost_impact"`
	AvgExecutionMs float64   `json:"avg_execution_ms"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// PatternConfidence is min(1, frequency/10) * successRate.
func PatternConfidence(frequency int, successRate float64) float64 {
	return Clamp01(math.Min(1, float64(frequency)/10) * successRate)
}

// SuggestionType classifies an optimization suggestion.
type SuggestionType string

const (
	SuggestionReliability SuggestionType = "reliability"
	SuggestionCost        SuggestionType = "cost"
)

// OptimizationSuggestion is a disposable advisory produced by a learning pass.
type OptimizationSuggestion struct {
	PatternKey  string         `json:"pattern_key"`
	Type        SuggestionType `json:"type"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	Confidence  float64        `json:"confidence"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// AdaptationRule biases evaluator weighting for one pattern key.
type AdaptationRule struct {
	PatternKey  string             `json:"pattern_key"`
	Weights     map[string]float64 `json:"weights"`
	Reason      string             `json:"reason"`
	Confidence  float64            `json:"confidence"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Clamp01 bounds v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
