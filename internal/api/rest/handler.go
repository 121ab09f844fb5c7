// Package rest exposes the decision engine, the operation log and the
// learning loop over JSON/HTTP.
//
// Endpoints (under /api/v1):
//
//	POST   /reason                 reason through a free-text request
//	GET    /operations             query the operation log
//	GET    /operations/summary     aggregate the operation log
//	DELETE /operations             retention cleanup of the operation log
//	GET    /patterns               current pattern catalog
//	GET    /learning/patterns      learned request shapes
//	DELETE /learning/patterns      retention cleanup of learned shapes
//	POST   /learning/run           run a learning pass now
//	GET    /insights               current suggestions and adaptation rules
//	POST   /predict                cost and execution-time predictions
//	POST   /anomaly                anomaly flags for a feature vector
//
// Handlers hold no request state and are safe for concurrent use.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/models"
	"github.com/infrasage/infrasage/internal/patterns"
	"github.com/infrasage/infrasage/internal/reasoning/engine"
	"github.com/infrasage/infrasage/internal/reasoning/selector"
	"github.com/infrasage/infrasage/internal/telemetry"
)

const (
	maxBodyBytes      = 1 << 20
	defaultQueryLimit = 100
	maxQueryLimit     = 1000

	// AuditIncompleteHeader is set when a decision was returned but its
	// operation log write failed.
	AuditIncompleteHeader = "X-Audit-Incomplete"
)

// Reasoner runs the decision pipeline.
type Reasoner interface {
	ReasonThroughProblem(ctx context.Context, request string, reqContext map[string]any) (*engine.ReasoningResult, error)
}

// OperationLog is the read and retention side of the telemetry log.
type OperationLog interface {
	Query(ctx context.Context, f telemetry.Filter) ([]models.OperationLogEntry, error)
	Aggregate(ctx context.Context, from, to time.Time) (*models.OperationSummary, error)
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// Learner is the intelligence engine surface used by the API.
type Learner interface {
	Patterns() []models.LearningPattern
	Insights() intelligence.Advisories
	RunLearningPass(ctx context.Context) (intelligence.PassResult, error)
	CleanupPatterns(ctx context.Context, lastSeenBefore time.Time) (int64, error)
	PredictCost(f models.Features) float64
	PredictPerformance(f models.Features) float64
}

// Pinger reports backend liveness for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the handler collaborators. Reasoner, Log and Learner are required.
type Deps struct {
	Reasoner Reasoner
	Log      OperationLog
	Learner  Learner
	Patterns patterns.Source
	Pinger   Pinger
	Logger   *zap.Logger

	// RetentionDays is the default cleanup age when a request names none.
	RetentionDays int
}

// Handler manages HTTP request handlers
type Handler struct {
	reasoner      Reasoner
	log           OperationLog
	learner       Learner
	patterns      patterns.Source
	pinger        Pinger
	logger        *zap.Logger
	retentionDays int
	validate      *validator.Validate
	now           func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	h := &Handler{
		reasoner:      deps.Reasoner,
		log:           deps.Log,
		learner:       deps.Learner,
		patterns:      deps.Patterns,
		pinger:        deps.Pinger,
		logger:        deps.Logger,
		retentionDays: deps.RetentionDays,
		validate:      v,
		now:           time.Now,
	}
	if h.patterns == nil {
		h.patterns = patterns.Static(nil)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// SetupRoutes configures API routes. reasonMW wraps the reasoning endpoint
// (rate limiting); nil means none.
func SetupRoutes(router *mux.Router, h *Handler, reasonMW mux.MiddlewareFunc) {
	var reason http.Handler = http.HandlerFunc(h.Reason)
	if reasonMW != nil {
		reason = reasonMW(reason)
	}
	router.Handle("/reason", reason).Methods(http.MethodPost)

	router.HandleFunc("/operations", h.ListOperations).Methods(http.MethodGet)
	router.HandleFunc("/operations/summary", h.OperationSummary).Methods(http.MethodGet)
	router.HandleFunc("/operations", h.CleanupOperations).Methods(http.MethodDelete)

	router.HandleFunc("/patterns", h.ListPatterns).Methods(http.MethodGet)

	router.HandleFunc("/learning/patterns", h.ListLearningPatterns).Methods(http.MethodGet)
	router.HandleFunc("/learning/patterns", h.CleanupLearningPatterns).Methods(http.MethodDelete)
	router.HandleFunc("/learning/run", h.RunLearningPass).Methods(http.MethodPost)
	router.HandleFunc("/insights", h.Insights).Methods(http.MethodGet)

	router.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)
	router.HandleFunc("/anomaly", h.Anomaly).Methods(http.MethodPost)
}

// ─── Reasoning ────────────────────────────────────────────────────────────────

// ReasonRequest is the body of POST /reason.
type ReasonRequest struct {
	Request string         `json:"request" validate:"required,max=4096"`
	Context map[string]any `json:"context,omitempty"`
}

// ReasonResponse wraps the reasoning result. LogError is set when the
// decision stands but was not recorded in the operation log.
type ReasonResponse struct {
	*engine.ReasoningResult
	LogError string `json:"log_error,omitempty"`
}

// Reason handles POST /reason
func (h *Handler) Reason(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reasoner.ReasonThroughProblem(r.Context(), req.Request, req.Context)
	if err != nil {
		var nc *selector.NoCandidatesError
		if errors.As(err, &nc) {
			respondStructuredError(w, r, http.StatusUnprocessableEntity, ErrCodeNoFeasible, selector.ErrNoCandidates.Error(),
				map[string]string{
					"objective":   string(nc.Objective),
					"pattern_key": nc.PatternKey,
				})
			return
		}
		h.logger.Error("Reasoning failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "reasoning failed")
		return
	}

	resp := ReasonResponse{ReasoningResult: res}
	if res.LogError != nil {
		resp.LogError = res.LogError.Error()
		w.Header().Set(AuditIncompleteHeader, "true")
	}
	respondJSON(w, http.StatusOK, resp)
}

// ─── Operation log ────────────────────────────────────────────────────────────

// ListOperations handles GET /operations
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := h.timeRange(w, r)
	if !ok {
		return
	}
	limit := defaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxQueryLimit)
	}

	opType := q.Get("type")
	if opType == "" {
		opType = q.Get("operation_type")
	}
	entries, err := h.log.Query(r.Context(), telemetry.Filter{
		OperationType: opType,
		PatternKey:    q.Get("pattern_key"),
		From:          from,
		To:            to,
		Limit:         limit,
	})
	if err != nil {
		h.internalError(w, r, "query operations", err)
		return
	}
	if entries == nil {
		entries = []models.OperationLogEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"operations": entries,
		"count":      len(entries),
	})
}

// OperationSummary handles GET /operations/summary
func (h *Handler) OperationSummary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.timeRange(w, r)
	if !ok {
		return
	}
	summary, err := h.log.Aggregate(r.Context(), from, to)
	if err != nil {
		h.internalError(w, r, "aggregate operations", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// CleanupOperations handles DELETE /operations
func (h *Handler) CleanupOperations(w http.ResponseWriter, r *http.Request) {
	before, ok := h.cutoff(w, r)
	if !ok {
		return
	}
	n, err := h.log.Cleanup(r.Context(), before)
	if err != nil {
		h.internalError(w, r, "cleanup operations", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": n, "before": before})
}

// ─── Patterns and learning ────────────────────────────────────────────────────

// ListPatterns handles GET /patterns
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"patterns": h.patterns.Patterns()}
	if v, ok := h.patterns.(interface{ Version() int }); ok {
		resp["version"] = v.Version()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListLearningPatterns handles GET /learning/patterns
func (h *Handler) ListLearningPatterns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"patterns": h.learner.Patterns()})
}

// CleanupLearningPatterns handles DELETE /learning/patterns
func (h *Handler) CleanupLearningPatterns(w http.ResponseWriter, r *http.Request) {
	before, ok := h.cutoff(w, r)
	if !ok {
		return
	}
	n, err := h.learner.CleanupPatterns(r.Context(), before)
	if err != nil {
		h.internalError(w, r, "cleanup learning patterns", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": n, "before": before})
}

// RunLearningPass handles POST /learning/run
func (h *Handler) RunLearningPass(w http.ResponseWriter, r *http.Request) {
	res, err := h.learner.RunLearningPass(r.Context())
	switch {
	case errors.Is(err, intelligence.ErrNoSource):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "learning pass cancelled")
	case err != nil:
		h.internalError(w, r, "learning pass", err)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

// Insights handles GET /insights
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.learner.Insights())
}

// ─── Predictions ──────────────────────────────────────────────────────────────

// FeaturesRequest is the body of POST /predict and POST /anomaly. An omitted
// availability requirement means the low-availability default (99.0).
type FeaturesRequest struct {
	Users                   float64  `json:"users" validate:"gte=0"`
	DataVolume              float64  `json:"data_volume" validate:"gte=0"`
	AvailabilityRequirement *float64 `json:"availability_requirement,omitempty" validate:"omitempty,gte=0,lte=100"`
}

func (f FeaturesRequest) features() models.Features {
	out := models.Features{Users: f.Users, DataVolume: f.DataVolume, AvailabilityRequirement: 99.0}
	if f.AvailabilityRequirement != nil {
		out.AvailabilityRequirement = *f.AvailabilityRequirement
	}
	return out
}

// Predict handles POST /predict
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if !h.decode(w, r, &req) {
		return
	}
	f := req.features()
	respondJSON(w, http.StatusOK, engine.Predictions{
		CostMonthly:     h.learner.PredictCost(f),
		ExecutionTimeMs: h.learner.PredictPerformance(f),
	})
}

// Anomaly handles POST /anomaly
func (h *Handler) Anomaly(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if !h.decode(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, intelligence.DetectAnomaly(req.features()))
}

// ─── Health ───────────────────────────────────────────────────────────────────

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "infrasage",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondValidationError(w, r, err)
		return false
	}
	return true
}

func (h *Handler) timeRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "from must be RFC3339")
			return from, to, false
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "to must be RFC3339")
			return from, to, false
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "to must not be before from")
		return from, to, false
	}
	return from, to, true
}

// cutoff resolves the retention cutoff from ?before=RFC3339 or
// ?older_than=<duration>, else the configured retention age.
func (h *Handler) cutoff(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	q := r.URL.Query()
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "before must be RFC3339")
			return time.Time{}, false
		}
		return t, true
	}
	if raw := q.Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "older_than must be a positive duration")
			return time.Time{}, false
		}
		return h.now().Add(-d), true
	}
	if h.retentionDays <= 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "retention is disabled; pass before or older_than")
		return time.Time{}, false
	}
	return h.now().AddDate(0, 0, -h.retentionDays), true
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, op+" failed")
}
