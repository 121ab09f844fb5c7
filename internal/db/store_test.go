package db

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func opRecord(id string, ts time.Time, success bool, errType string) *OperationRecord {
	return &OperationRecord{
		ID:              id,
		OperationType:   "reason_through_problem",
		PatternKey:      "web_application:small",
		Input:           `{"features":{"users":100}}`,
		Output:          `{"solution_name":"Serverless Web Stack"}`,
		Success:         success,
		ExecutionTimeMs: 12.5,
		CostImpact:      40,
		ResourceChanges: 4,
		ErrorType:       errType,
		RecordedAtNs:    ts.UnixNano(),
	}
}

// ─── Operations ───────────────────────────────────────────────────────────────

func TestAppendOperationAssignsIncreasingSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	var last int64
	for i := 0; i < 3; i++ {
		seq, err := s.AppendOperation(ctx, opRecord(fmt.Sprintf("op-%d", i), base.Add(time.Duration(i)*time.Second), true, ""))
		if err != nil {
			t.Fatalf("AppendOperation: %v", err)
		}
		if seq <= last {
			t.Errorf("seq %d not greater than previous %d", seq, last)
		}
		last = seq
	}

	if _, err := s.AppendOperation(ctx, opRecord("op-0", base, true, "")); err == nil {
		t.Error("expected duplicate id to fail")
	}
}

func TestQueryOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		rec := opRecord(fmt.Sprintf("op-%d", i), base.Add(time.Duration(i)*time.Minute), i%2 == 0, "")
		if i == 4 {
			rec.OperationType = "learning_pass"
		}
		if i == 3 {
			rec.PatternKey = "api_service:large"
		}
		if _, err := s.AppendOperation(ctx, rec); err != nil {
			t.Fatalf("AppendOperation: %v", err)
		}
	}

	all, err := s.QueryOperations(ctx, OperationQuery{})
	if err != nil {
		t.Fatalf("QueryOperations: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
	if all[0].ID != "op-4" {
		t.Errorf("expected most recent first, got %s", all[0].ID)
	}
	if !all[0].Success || all[1].Success {
		t.Errorf("success flags not round-tripped: %v %v", all[0].Success, all[1].Success)
	}
	if all[0].RecordedAt().Unix() != base.Add(4*time.Minute).Unix() {
		t.Errorf("unexpected timestamp %v", all[0].RecordedAt())
	}

	byType, err := s.QueryOperations(ctx, OperationQuery{OperationType: "reason_through_problem"})
	if err != nil {
		t.Fatalf("QueryOperations by type: %v", err)
	}
	if len(byType) != 4 {
		t.Errorf("expected 4 records by type, got %d", len(byType))
	}

	byKey, err := s.QueryOperations(ctx, OperationQuery{OperationType: "reason_through_problem", PatternKey: "api_service:large"})
	if err != nil {
		t.Fatalf("QueryOperations by pattern key: %v", err)
	}
	if len(byKey) != 1 || byKey[0].ID != "op-3" {
		t.Errorf("expected only op-3 for pattern key, got %+v", byKey)
	}

	ranged, err := s.QueryOperations(ctx, OperationQuery{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("QueryOperations by range: %v", err)
	}
	if len(ranged) != 3 {
		t.Errorf("expected 3 records in range, got %d", len(ranged))
	}

	after, err := s.QueryOperations(ctx, OperationQuery{AfterSeq: all[2].Seq, Ascending: true, Limit: 1})
	if err != nil {
		t.Fatalf("QueryOperations after seq: %v", err)
	}
	if len(after) != 1 || after[0].Seq != all[1].Seq {
		t.Errorf("expected single record with seq %d, got %+v", all[1].Seq, after)
	}
}

func TestAggregateOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.AggregateOperations(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("AggregateOperations on empty log: %v", err)
	}
	if empty.Total != 0 || empty.AvgExecutionTimeMs != 0 {
		t.Errorf("expected zero aggregate, got %+v", empty)
	}

	base := time.Now()
	_, _ = s.AppendOperation(ctx, opRecord("a", base, true, ""))
	_, _ = s.AppendOperation(ctx, opRecord("b", base.Add(time.Second), false, "no_candidates"))
	_, _ = s.AppendOperation(ctx, opRecord("c", base.Add(2*time.Second), false, "no_candidates"))

	agg, err := s.AggregateOperations(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("AggregateOperations: %v", err)
	}
	if agg.Total != 3 || agg.Successes != 1 {
		t.Errorf("expected 3 total / 1 success, got %d / %d", agg.Total, agg.Successes)
	}
	if agg.AvgExecutionTimeMs != 12.5 {
		t.Errorf("expected avg 12.5, got %f", agg.AvgExecutionTimeMs)
	}
	if agg.ByErrorType["no_candidates"] != 2 {
		t.Errorf("expected 2 no_candidates, got %v", agg.ByErrorType)
	}
	if _, ok := agg.ByErrorType[""]; ok {
		t.Error("successful operations must not appear in ByErrorType")
	}
	if agg.ByOperationType["reason_through_problem"] != 3 {
		t.Errorf("unexpected ByOperationType %v", agg.ByOperationType)
	}
}

func TestLatestOperationTimeAndRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestOperationTime(ctx)
	if err != nil {
		t.Fatalf("LatestOperationTime: %v", err)
	}
	if !latest.IsZero() {
		t.Errorf("expected zero time on empty log, got %v", latest)
	}

	old := time.Now().Add(-40 * 24 * time.Hour)
	recent := time.Now()
	_, _ = s.AppendOperation(ctx, opRecord("old", old, true, ""))
	_, _ = s.AppendOperation(ctx, opRecord("new", recent, true, ""))

	latest, _ = s.LatestOperationTime(ctx)
	if latest.UnixNano() != recent.UnixNano() {
		t.Errorf("expected latest %v, got %v", recent, latest)
	}

	n, err := s.DeleteOperationsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOperationsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	rest, _ := s.QueryOperations(ctx, OperationQuery{})
	if len(rest) != 1 || rest[0].ID != "new" {
		t.Errorf("unexpected remaining records: %+v", rest)
	}
}

// ─── Learning registry ────────────────────────────────────────────────────────

func TestLearningPatternUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UnixNano()

	rec := &LearningPatternRecord{
		PatternKey: "api_service:medium", Frequency: 1, SuccessRate: 1,
		Confidence: 0.1, AvgCostImpact: 150, FirstSeenNs: now, LastSeenNs: now,
	}
	if err := s.UpsertLearningPattern(ctx, rec); err != nil {
		t.Fatalf("UpsertLearningPattern: %v", err)
	}
	rec.Frequency = 2
	rec.Confidence = 0.2
	if err := s.UpsertLearningPattern(ctx, rec); err != nil {
		t.Fatalf("UpsertLearningPattern update: %v", err)
	}

	list, err := s.ListLearningPatterns(ctx)
	if err != nil {
		t.Fatalf("ListLearningPatterns: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(list))
	}
	if list[0].Frequency != 2 || list[0].Confidence != 0.2 {
		t.Errorf("upsert did not replace values: %+v", list[0])
	}

	n, err := s.DeleteLearningPatternsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteLearningPatternsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
}

func TestSaveLearningProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetLearningState(ctx, "watermark"); err != nil || ok {
		t.Fatalf("expected missing state, got ok=%v err=%v", ok, err)
	}

	now := time.Now().UnixNano()
	patterns := []*LearningPatternRecord{
		{PatternKey: "database:large", Frequency: 3, SuccessRate: 1, Confidence: 0.3, FirstSeenNs: now, LastSeenNs: now},
		{PatternKey: "monitoring:small", Frequency: 1, SuccessRate: 0, Confidence: 0.1, FirstSeenNs: now, LastSeenNs: now},
	}
	err := s.SaveLearningProgress(ctx, patterns, map[string]string{"watermark": "42", "model.cost": `{"n":3}`})
	if err != nil {
		t.Fatalf("SaveLearningProgress: %v", err)
	}

	wm, ok, err := s.GetLearningState(ctx, "watermark")
	if err != nil || !ok || wm != "42" {
		t.Errorf("expected watermark 42, got %q ok=%v err=%v", wm, ok, err)
	}
	list, _ := s.ListLearningPatterns(ctx)
	if len(list) != 2 || list[0].PatternKey != "database:large" {
		t.Errorf("unexpected patterns: %+v", list)
	}

	if err := s.SaveLearningProgress(ctx, nil, map[string]string{"watermark": "50"}); err != nil {
		t.Fatalf("SaveLearningProgress overwrite: %v", err)
	}
	wm, _, _ = s.GetLearningState(ctx, "watermark")
	if wm != "50" {
		t.Errorf("expected watermark 50, got %q", wm)
	}
}

// ─── Pattern catalog ──────────────────────────────────────────────────────────

func TestCatalogVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LatestCatalog(ctx)
	if err != nil {
		t.Fatalf("LatestCatalog: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil catalog, got %+v", got)
	}

	if err := s.SaveCatalog(ctx, &CatalogRecord{Version: 1, Document: "version: 1"}); err != nil {
		t.Fatalf("SaveCatalog v1: %v", err)
	}
	if err := s.SaveCatalog(ctx, &CatalogRecord{Version: 2, Document: "version: 2"}); err != nil {
		t.Fatalf("SaveCatalog v2: %v", err)
	}
	// Existing versions are immutable.
	if err := s.SaveCatalog(ctx, &CatalogRecord{Version: 2, Document: "changed"}); err != nil {
		t.Fatalf("SaveCatalog duplicate: %v", err)
	}

	got, err = s.LatestCatalog(ctx)
	if err != nil {
		t.Fatalf("LatestCatalog: %v", err)
	}
	if got.Version != 2 || got.Document != "version: 2" {
		t.Errorf("unexpected latest catalog %+v", got)
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("mysql", "x"); err == nil {
		t.Error("expected error for unsupported database type")
	}
	s, err := NewStore("", ":memory:")
	if err != nil {
		t.Fatalf("NewStore default: %v", err)
	}
	defer s.Close()
	if s.Dialect() != DialectSQLite {
		t.Errorf("expected sqlite dialect, got %s", s.Dialect())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
