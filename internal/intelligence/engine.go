// Package intelligence is the learning loop of the decision engine: it mines
// the operation log into learning patterns, keeps online cost and
// execution-time models, flags anomalous requests and regenerates the
// advisory sets (optimization suggestions and adaptation rules) that bias
// future evaluation.
//
// Learning never sits on the request path. Reads used while serving a
// request (RuleFor, PredictCost, PredictPerformance) go through atomically
// swapped snapshots and never wait for a learning pass.
package intelligence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/audit"
	"github.com/infrasage/infrasage/internal/db"
	"github.com/infrasage/infrasage/internal/metrics"
	"github.com/infrasage/infrasage/internal/models"
)

// Learning state names persisted in the learning store.
const (
	stateWatermark          = "watermark"
	stateCostModel          = "cost_model"
	stateExecutionTimeModel = "execution_time_model"
)

// ErrNoSource is returned by RunLearningPass when the engine has no log to
// read from.
var ErrNoSource = errors.New("no operation log configured")

// EntrySource pages through the operation log in ascending seq order.
type EntrySource interface {
	Since(ctx context.Context, afterSeq int64, limit int) ([]models.OperationLogEntry, error)
}

// Config holds the insight thresholds and pass sizing.
type Config struct {
	AdaptationMinConfidence float64
	AdaptationMinFrequency  int
	SuggestionSuccessRate   float64
	SuggestionCostImpact    float64
	BatchSize               int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		AdaptationMinConfidence: 0.8,
		AdaptationMinFrequency:  10,
		SuggestionSuccessRate:   0.8,
		SuggestionCostImpact:    100,
		BatchSize:               500,
	}
}

// Advisories is one complete advisory set. A set is replaced wholesale by
// each finished learning pass and never patched.
type Advisories struct {
	Suggestions []models.OptimizationSuggestion `json:"suggestions"`
	Rules       []models.AdaptationRule         `json:"adaptation_rules"`
	GeneratedAt time.Time                       `json:"generated_at"`
}

func (a *Advisories) clone() Advisories {
	out := Advisories{
		Suggestions: append([]models.OptimizationSuggestion{}, a.Suggestions...),
		Rules:       make([]models.AdaptationRule, len(a.Rules)),
		GeneratedAt: a.GeneratedAt,
	}
	for i, r := range a.Rules {
		out.Rules[i] = cloneRule(r)
	}
	return out
}

func cloneRule(r models.AdaptationRule) models.AdaptationRule {
	w := make(map[string]float64, len(r.Weights))
	for k, v := range r.Weights {
		w[k] = v
	}
	r.Weights = w
	return r
}

// PassResult describes one learning pass.
type PassResult struct {
	Entries   int           `json:"entries"`
	Patterns  int           `json:"patterns"`
	Watermark int64         `json:"watermark"`
	Completed bool          `json:"completed"`
	Duration  time.Duration `json:"duration"`
}

// Engine owns the learning patterns, predictive models and advisory sets.
type Engine struct {
	store  db.LearningStore
	source EntrySource
	audit  audit.Logger
	logger *zap.Logger
	now    func() time.Time

	cfg atomic.Pointer[Config]

	// pass admits one learning pass at a time.
	pass chan struct{}

	// mu guards the learning state below and serializes persistence.
	mu        sync.Mutex
	patterns  map[string]*models.LearningPattern
	cost      *RegressionModel
	execTime  *RegressionModel
	watermark int64

	costSnap     atomic.Pointer[RegressionModel]
	execTimeSnap atomic.Pointer[RegressionModel]
	advisories   atomic.Pointer[Advisories]

	// insightsMu serializes advisory generations. Never acquired under mu.
	insightsMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]chan Advisories
	nextID int
}

// NewEngine creates an intelligence engine. store may be nil for a purely
// in-memory engine; source may be nil when only LearnFromOperation is used.
func NewEngine(store db.LearningStore, source EntrySource, cfg Config, logger *zap.Logger, auditLogger audit.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewNop()
	}
	e := &Engine{
		store:    store,
		source:   source,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
		pass:     make(chan struct{}, 1),
		patterns: make(map[string]*models.LearningPattern),
		cost:     NewCostModel(),
		execTime: NewExecutionTimeModel(),
		subs:     make(map[int]chan Advisories),
	}
	e.SetConfig(cfg)
	e.publishModelsLocked()
	e.advisories.Store(&Advisories{
		Suggestions: []models.OptimizationSuggestion{},
		Rules:       []models.AdaptationRule{},
	})
	return e
}

// SetConfig replaces the insight thresholds. Zero fields keep their defaults.
func (e *Engine) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.AdaptationMinConfidence <= 0 {
		cfg.AdaptationMinConfidence = def.AdaptationMinConfidence
	}
	if cfg.AdaptationMinFrequency <= 0 {
		cfg.AdaptationMinFrequency = def.AdaptationMinFrequency
	}
	if cfg.SuggestionSuccessRate <= 0 {
		cfg.SuggestionSuccessRate = def.SuggestionSuccessRate
	}
	if cfg.SuggestionCostImpact <= 0 {
		cfg.SuggestionCostImpact = def.SuggestionCostImpact
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	e.cfg.Store(&cfg)
}

// Config returns the current thresholds.
func (e *Engine) Config() Config { return *e.cfg.Load() }

// ─── State loading and persistence ────────────────────────────────────────────

// Load restores patterns, models and the watermark from the store and
// regenerates the advisory sets from them.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	err := e.reloadLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = e.GenerateInsights(ctx)
	return err
}

func (e *Engine) reloadLocked(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	recs, err := e.store.ListLearningPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load learning patterns: %w", err)
	}
	patterns := make(map[string]*models.LearningPattern, len(recs))
	for _, r := range recs {
		p := fromPatternRecord(r)
		patterns[p.PatternKey] = &p
	}

	var watermark int64
	if v, ok, err := e.store.GetLearningState(ctx, stateWatermark); err != nil {
		return fmt.Errorf("load learning watermark: %w", err)
	} else if ok {
		watermark, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse learning watermark %q: %w", v, err)
		}
	}

	cost := NewCostModel()
	execTime := NewExecutionTimeModel()
	for name, m := range map[string]*RegressionModel{stateCostModel: cost, stateExecutionTimeModel: execTime} {
		v, ok, err := e.store.GetLearningState(ctx, name)
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(v), m); err != nil {
			// A corrupt model restarts from the fallback formula.
			e.logger.Warn("Discarding unreadable model state", zap.String("model", name), zap.Error(err))
			*m = *newModelLike(m)
		}
	}

	e.patterns, e.cost, e.execTime, e.watermark = patterns, cost, execTime, watermark
	e.publishModelsLocked()
	metrics.LearningPatterns.Set(float64(len(patterns)))
	return nil
}

func newModelLike(m *RegressionModel) *RegressionModel {
	if m.name == "cost" {
		return NewCostModel()
	}
	return NewExecutionTimeModel()
}

// saveLocked persists the given patterns, both models and, when watermark is
// non-nil, the new watermark in one transaction.
func (e *Engine) saveLocked(ctx context.Context, keys []string, watermark *int64) error {
	if e.store == nil {
		return nil
	}
	recs := make([]*db.LearningPatternRecord, 0, len(keys))
	for _, k := range keys {
		if p, ok := e.patterns[k]; ok {
			recs = append(recs, toPatternRecord(*p))
		}
	}
	state := make(map[string]string, 3)
	for name, m := range map[string]*RegressionModel{stateCostModel: e.cost, stateExecutionTimeModel: e.execTime} {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		state[name] = string(b)
	}
	if watermark != nil {
		state[stateWatermark] = strconv.FormatInt(*watermark, 10)
	}
	return e.store.SaveLearningProgress(ctx, recs, state)
}

func (e *Engine) publishModelsLocked() {
	e.costSnap.Store(e.cost.Clone())
	e.execTimeSnap.Store(e.execTime.Clone())
}

// ─── Learning ─────────────────────────────────────────────────────────────────

// LearnFromOperation folds one log entry into its learning pattern and the
// predictive models, then persists the result. It is never deduplicated:
// learning the same entry twice counts it twice. Failures are logged and
// never returned.
func (e *Engine) LearnFromOperation(ctx context.Context, entry models.OperationLogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key, ok := e.learnLocked(entry)
	if !ok {
		return
	}
	e.publishModelsLocked()
	metrics.LearningEntriesTotal.Inc()
	metrics.LearningPatterns.Set(float64(len(e.patterns)))

	if err := e.saveLocked(context.WithoutCancel(ctx), []string{key}, nil); err != nil {
		e.logger.Warn("Failed to persist learning pattern",
			zap.String("pattern_key", key),
			zap.Error(err))
	}
}

// learnLocked applies one entry. The pattern and the models are updated on
// copies and committed together, so a panic inside the update leaves the
// learning state untouched; it is logged and reported as ok=false so one bad
// entry cannot stop the caller.
func (e *Engine) learnLocked(entry models.OperationLogEntry) (key string, ok bool) {
	key = entry.PatternKey
	if key == "" {
		key = models.PatternKey(entry.Input.Request)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Learning update panicked",
				zap.String("pattern_key", key),
				zap.Any("panic", r))
			ok = false
		}
	}()

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	ts = ts.UTC()

	var p models.LearningPattern
	if cur, exists := e.patterns[key]; exists {
		p = *cur
	} else {
		p = models.LearningPattern{PatternKey: key, FirstSeen: ts, LastSeen: ts}
	}
	p.Frequency++
	n := float64(p.Frequency)
	outcome := 0.0
	if entry.Success {
		outcome = 1
	}
	p.SuccessRate = models.Clamp01(p.SuccessRate + (outcome-p.SuccessRate)/n)
	p.AvgCostImpact += (nonNegative(entry.CostImpact) - p.AvgCostImpact) / n
	p.AvgExecutionMs += (nonNegative(entry.ExecutionTimeMs) - p.AvgExecutionMs) / n
	p.Confidence = models.PatternConfidence(p.Frequency, p.SuccessRate)
	if ts.After(p.LastSeen) {
		p.LastSeen = ts
	}

	cost, execTime := e.cost.Clone(), e.execTime.Clone()
	e.updateModels(cost, execTime, entry)

	e.cost, e.execTime = cost, execTime
	if cur, exists := e.patterns[key]; exists {
		*cur = p
	} else {
		e.patterns[key] = &p
	}
	return key, true
}

// updateModels feeds the predictive models. Cost is learned from successful
// decisions only; failed ones carry no cost.
func (e *Engine) updateModels(cost, execTime *RegressionModel, entry models.OperationLogEntry) {
	f := entry.Input.Features
	if entry.Success {
		if err := cost.Update(f, entry.CostImpact); err != nil {
			e.modelUpdateFailed(cost, entry, err)
		}
	}
	if err := execTime.Update(f, entry.ExecutionTimeMs); err != nil {
		e.modelUpdateFailed(execTime, entry, err)
	}
}

func (e *Engine) modelUpdateFailed(m *RegressionModel, entry models.OperationLogEntry, err error) {
	metrics.ModelUpdateFailuresTotal.WithLabelValues(m.Name()).Inc()
	e.logger.Warn("Skipping model update",
		zap.String("model", m.Name()),
		zap.String("operation_id", entry.ID),
		zap.Error(err))
}

// RunLearningPass learns every log entry after the persisted watermark,
// committing patterns, models and the watermark together after each batch,
// and then regenerates the advisory sets. Re-running over an already learned
// range is a no-op.
//
// Cancellation is honored between entries: the finished prefix of the
// current batch is committed and the advisory sets are left untouched.
func (e *Engine) RunLearningPass(ctx context.Context) (PassResult, error) {
	start := time.Now()
	var res PassResult
	if e.source == nil {
		return res, ErrNoSource
	}

	select {
	case e.pass <- struct{}{}:
		defer func() { <-e.pass }()
	case <-ctx.Done():
		return res, ctx.Err()
	}

	touched := make(map[string]struct{})
	cancelled, err := e.learnBatches(ctx, &res, touched)
	res.Patterns = len(touched)
	res.Duration = time.Since(start)
	auditCtx := context.WithoutCancel(ctx)

	switch {
	case cancelled:
		e.finishPass(auditCtx, res, audit.ResultCancelled, "cancelled", ctx.Err())
		return res, ctx.Err()
	case err != nil:
		e.finishPass(auditCtx, res, audit.ResultFailure, "error", err)
		return res, err
	}

	if _, err := e.GenerateInsights(ctx); err != nil {
		res.Duration = time.Since(start)
		if ctx.Err() != nil {
			e.finishPass(auditCtx, res, audit.ResultCancelled, "cancelled", err)
		} else {
			e.finishPass(auditCtx, res, audit.ResultFailure, "error", err)
		}
		return res, err
	}

	res.Completed = true
	res.Duration = time.Since(start)
	e.finishPass(auditCtx, res, audit.ResultSuccess, "completed", nil)
	return res, nil
}

func (e *Engine) learnBatches(ctx context.Context, res *PassResult, touched map[string]struct{}) (cancelled bool, err error) {
	batch := e.Config().BatchSize

	e.mu.Lock()
	res.Watermark = e.watermark
	e.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return true, nil
		}
		entries, err := e.source.Since(ctx, res.Watermark, batch)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return false, fmt.Errorf("read operation log: %w", err)
		}
		if len(entries) == 0 {
			return false, nil
		}

		stop, err := e.learnBatch(ctx, entries, res, touched)
		if err != nil || stop {
			return stop, err
		}
		if len(entries) < batch {
			return false, nil
		}
	}
}

// learnBatch learns entries until done or cancelled and commits the prefix
// it finished. A failed commit reloads the in-memory state from the store so
// memory never runs ahead of the persisted watermark.
func (e *Engine) learnBatch(ctx context.Context, entries []models.OperationLogEntry, res *PassResult, touched map[string]struct{}) (cancelled bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	watermark := e.watermark
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	learned := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if entry.Seq <= watermark {
			continue
		}
		if key, ok := e.learnLocked(entry); ok {
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
		watermark = entry.Seq
		learned++
	}
	if learned == 0 {
		return cancelled, nil
	}

	if err := e.saveLocked(context.WithoutCancel(ctx), keys, &watermark); err != nil {
		if rerr := e.reloadLocked(context.WithoutCancel(ctx)); rerr != nil {
			e.logger.Error("Failed to restore learning state after failed commit", zap.Error(rerr))
		}
		return false, fmt.Errorf("commit learning batch: %w", err)
	}

	e.watermark = watermark
	e.publishModelsLocked()
	for _, k := range keys {
		touched[k] = struct{}{}
	}
	res.Entries += learned
	res.Watermark = watermark
	metrics.LearningEntriesTotal.Add(float64(learned))
	metrics.LearningPatterns.Set(float64(len(e.patterns)))
	return cancelled, nil
}

func (e *Engine) finishPass(ctx context.Context, res PassResult, result audit.Result, status string, err error) {
	metrics.LearningPassesTotal.WithLabelValues(status).Inc()
	fields := []zap.Field{
		zap.Int("entries", res.Entries),
		zap.Int("patterns", res.Patterns),
		zap.Int64("watermark", res.Watermark),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		e.logger.Warn("Learning pass "+status, append(fields, zap.Error(err))...)
	} else {
		e.logger.Info("Learning pass completed", fields...)
	}
	if aerr := e.audit.LogLearningPass(ctx, result, res.Entries, res.Patterns, res.Duration, err); aerr != nil {
		e.logger.Warn("Failed to audit learning pass", zap.Error(aerr))
	}
}

// CleanupPatterns removes learning patterns last seen before the cutoff and
// regenerates the advisory sets without them.
func (e *Engine) CleanupPatterns(ctx context.Context, lastSeenBefore time.Time) (int64, error) {
	e.mu.Lock()
	var n int64
	if e.store != nil {
		var err error
		n, err = e.store.DeleteLearningPatternsBefore(ctx, lastSeenBefore)
		if err != nil {
			e.mu.Unlock()
			return 0, fmt.Errorf("cleanup learning patterns: %w", err)
		}
	}
	var removed int64
	for k, p := range e.patterns {
		if p.LastSeen.Before(lastSeenBefore) {
			delete(e.patterns, k)
			removed++
		}
	}
	metrics.LearningPatterns.Set(float64(len(e.patterns)))
	e.mu.Unlock()

	if e.store == nil {
		n = removed
	}
	if err := e.audit.LogRetentionCleanup(ctx, "learning_patterns", lastSeenBefore, n); err != nil {
		e.logger.Warn("Failed to audit pattern cleanup", zap.Error(err))
	}
	if _, err := e.GenerateInsights(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// ─── Predictions ──────────────────────────────────────────────────────────────

// PredictCost estimates the monthly cost for a feature vector.
func (e *Engine) PredictCost(f models.Features) float64 {
	return e.costSnap.Load().Predict(f)
}

// PredictPerformance estimates the execution time in milliseconds.
func (e *Engine) PredictPerformance(f models.Features) float64 {
	return e.execTimeSnap.Load().Predict(f)
}

// ─── Insights ─────────────────────────────────────────────────────────────────

// GenerateInsights rebuilds the advisory sets from the current learning
// patterns and swaps them in. If ctx is cancelled midway the previous sets
// stay in place.
func (e *Engine) GenerateInsights(ctx context.Context) (Advisories, error) {
	// Held from snapshot to swap so an older snapshot never replaces a newer
	// generation.
	e.insightsMu.Lock()
	defer e.insightsMu.Unlock()

	patterns := e.Patterns()
	cfg := e.Config()
	now := e.now().UTC()

	next := &Advisories{
		Suggestions: []models.OptimizationSuggestion{},
		Rules:       []models.AdaptationRule{},
		GeneratedAt: now,
	}
	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return Advisories{}, err
		}
		next.Suggestions = append(next.Suggestions, suggestionsFor(p, cfg, now)...)
		if rule, ok := ruleFor(p, cfg, now); ok {
			next.Rules = append(next.Rules, rule)
		}
	}

	e.advisories.Store(next)
	metrics.Advisories.WithLabelValues("suggestion").Set(float64(len(next.Suggestions)))
	metrics.Advisories.WithLabelValues("adaptation_rule").Set(float64(len(next.Rules)))
	e.publish(next)
	return next.clone(), nil
}

func suggestionsFor(p models.LearningPattern, cfg Config, now time.Time) []models.OptimizationSuggestion {
	var out []models.OptimizationSuggestion
	if p.SuccessRate < cfg.SuggestionSuccessRate {
		priority := "medium"
		if p.SuccessRate < 0.5 {
			priority = "high"
		}
		desc := fmt.Sprintf("Requests shaped %s succeed %.0f%% of the time; relax constraints or extend the pattern catalog",
			p.PatternKey, p.SuccessRate*100)
		out = append(out, models.OptimizationSuggestion{
			PatternKey:  p.PatternKey,
			Type:        models.SuggestionReliability,
			Description: desc,
			Priority:    priority,
			Confidence:  p.Confidence,
			GeneratedAt: now,
		})
	}
	if p.AvgCostImpact > cfg.SuggestionCostImpact {
		desc := fmt.Sprintf("Requests shaped %s average $%.2f/month; consider lower-cost patterns",
			p.PatternKey, p.AvgCostImpact)
		out = append(out, models.OptimizationSuggestion{
			PatternKey:  p.PatternKey,
			Type:        models.SuggestionCost,
			Description: desc,
			Priority:    "medium",
			Confidence:  p.Confidence,
			GeneratedAt: now,
		})
	}
	return out
}

// ruleFor derives the adaptation rule of a well-established pattern.
func ruleFor(p models.LearningPattern, cfg Config, now time.Time) (models.AdaptationRule, bool) {
	if p.Confidence <= cfg.AdaptationMinConfidence || p.Frequency <= cfg.AdaptationMinFrequency {
		return models.AdaptationRule{}, false
	}
	weights := map[string]float64{
		models.DimensionCost:        1,
		models.DimensionPerformance: 1,
		models.DimensionSecurity:    1,
		models.DimensionComplexity:  1,
	}
	var reasons []string
	if p.AvgCostImpact > cfg.SuggestionCostImpact {
		weights[models.DimensionCost] = 1.5
		reasons = append(reasons, "cost-heavy history")
	}
	switch scaleOf(p.PatternKey) {
	case "large":
		weights[models.DimensionPerformance] = 1.25
		reasons = append(reasons, "large scale favors performance")
	case "small":
		weights[models.DimensionComplexity] = 1.25
		reasons = append(reasons, "small scale favors simplicity")
	}
	reason := "established pattern"
	if len(reasons) > 0 {
		reason = reasons[0]
		for _, r := range reasons[1:] {
			reason += "; " + r
		}
	}
	return models.AdaptationRule{
		PatternKey:  p.PatternKey,
		Weights:     weights,
		Reason:      reason,
		Confidence:  p.Confidence,
		GeneratedAt: now,
	}, true
}

func scaleOf(patternKey string) string {
	for i := len(patternKey) - 1; i >= 0; i-- {
		if patternKey[i] == ':' {
			return patternKey[i+1:]
		}
	}
	return ""
}

// Insights returns a copy of the current advisory sets.
func (e *Engine) Insights() Advisories {
	return e.advisories.Load().clone()
}

// Weights returns a copy of the current adaptation rules keyed by pattern key.
func (e *Engine) Weights() map[string]models.AdaptationRule {
	a := e.advisories.Load()
	out := make(map[string]models.AdaptationRule, len(a.Rules))
	for _, r := range a.Rules {
		out[r.PatternKey] = cloneRule(r)
	}
	return out
}

// RuleFor returns a copy of the adaptation rule for a pattern key, or nil.
func (e *Engine) RuleFor(patternKey string) *models.AdaptationRule {
	for _, r := range e.advisories.Load().Rules {
		if r.PatternKey == patternKey {
			c := cloneRule(r)
			return &c
		}
	}
	return nil
}

// Patterns returns a copy of every learning pattern ordered by key.
func (e *Engine) Patterns() []models.LearningPattern {
	e.mu.Lock()
	out := make([]models.LearningPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, *p)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PatternKey < out[j].PatternKey })
	return out
}

// Pattern returns one learning pattern.
func (e *Engine) Pattern(key string) (models.LearningPattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[key]
	if !ok {
		return models.LearningPattern{}, false
	}
	return *p, true
}

// Watermark returns the seq of the last log entry learned by a pass.
func (e *Engine) Watermark() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermark
}

// ─── Subscriptions ────────────────────────────────────────────────────────────

// Subscribe returns a channel that receives every new advisory set. Slow
// subscribers only see the latest set. Call cancel to unsubscribe.
func (e *Engine) Subscribe() (<-chan Advisories, func()) {
	ch := make(chan Advisories, 1)
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) publish(a *Advisories) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		// Drop the stale set if the subscriber has not read it yet.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- a.clone():
		default:
		}
	}
}

// ─── Record conversion ────────────────────────────────────────────────────────

func toPatternRecord(p models.LearningPattern) *db.LearningPatternRecord {
	return &db.LearningPatternRecord{
		PatternKey:     p.PatternKey,
		Frequency:      p.Frequency,
		SuccessRate:    p.SuccessRate,
		Confidence:     p.Confidence,
		AvgCostImpact:  p.AvgCostImpact,
		AvgExecutionMs: p.AvgExecutionMs,
		FirstSeenNs:    p.FirstSeen.UnixNano(),
		LastSeenNs:     p.LastSeen.UnixNano(),
	}
}

func fromPatternRecord(r *db.LearningPatternRecord) models.LearningPattern {
	return models.LearningPattern{
		PatternKey:     r.PatternKey,
		Frequency:      r.Frequency,
		SuccessRate:    r.SuccessRate,
		Confidence:     r.Confidence,
		AvgCostImpact:  r.AvgCostImpact,
		AvgExecutionMs: r.AvgExecutionMs,
		FirstSeen:      time.Unix(0, r.FirstSeenNs).UTC(),
		LastSeen:       time.Unix(0, r.LastSeenNs).UTC(),
	}
}
