package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrasage/infrasage/internal/db"
	"github.com/infrasage/infrasage/internal/models"
)

func newTestLogStore(t *testing.T) *LogStore {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewLogStore(store, nil)
}

func entry(success bool) models.OperationLogEntry {
	users := 500
	e := models.OperationLogEntry{
		OperationType: models.OperationReason,
		PatternKey:    "web_application:small",
		Input: models.OperationInput{
			Request:  models.ParsedRequest{Objective: models.ObjectiveWebApplication, Scale: models.Scale{Users: &users}},
			Features: models.Features{Users: 500, AvailabilityRequirement: 99},
		},
		Output:          models.DecisionSummary{SolutionName: "Serverless Web Stack", PatternID: "serverless_web", Confidence: 0.9},
		Success:         success,
		ExecutionTimeMs: 3,
		CostImpact:      40,
		ResourceChanges: 5,
	}
	if !success {
		e.ErrorType = models.ErrorTypeNoCandidates
		e.Output = models.DecisionSummary{}
		e.CostImpact = 0
	}
	return e
}

func TestRecordAssignsIdentity(t *testing.T) {
	l := newTestLogStore(t)
	ctx := context.Background()

	got, err := l.Record(ctx, entry(true))
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Greater(t, got.Seq, int64(0))
	assert.False(t, got.Timestamp.IsZero())

	list, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got.ID, list[0].ID)
	assert.Equal(t, "Serverless Web Stack", list[0].Output.SolutionName)
	require.NotNil(t, list[0].Input.Request.Scale.Users)
	assert.Equal(t, 500, *list[0].Input.Request.Scale.Users)
	assert.True(t, got.Timestamp.Equal(list[0].Timestamp))
}

func TestRecordRejectsMissingOperationType(t *testing.T) {
	l := newTestLogStore(t)
	e := entry(true)
	e.OperationType = ""
	_, err := l.Record(context.Background(), e)
	assert.True(t, errors.Is(err, ErrInvalidEntry))
}

func TestRecordTimestampsAreMonotonic(t *testing.T) {
	l := newTestLogStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	first := entry(true)
	first.Timestamp = base
	_, err := l.Record(ctx, first)
	require.NoError(t, err)

	// A clock step backwards must not reorder the log.
	l.now = func() time.Time { return base.Add(-time.Hour) }
	got, err := l.Record(ctx, entry(true))
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(base), "expected clamp to %v, got %v", base, got.Timestamp)

	explicit := entry(false)
	explicit.Timestamp = base.Add(-2 * time.Hour)
	got, err = l.Record(ctx, explicit)
	require.NoError(t, err)
	assert.False(t, got.Timestamp.Before(base))
}

func TestRecordPrimesFromPersistedLog(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	future := time.Now().Add(time.Hour).UTC()
	first := NewLogStore(store, nil)
	e := entry(true)
	e.Timestamp = future
	_, err = first.Record(ctx, e)
	require.NoError(t, err)

	// A new LogStore over the same log continues from the last timestamp.
	second := NewLogStore(store, nil)
	got, err := second.Record(ctx, entry(true))
	require.NoError(t, err)
	assert.False(t, got.Timestamp.Before(future))
}

func TestQueryFiltersAndOrder(t *testing.T) {
	l := newTestLogStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := entry(i%2 == 0)
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if i == 3 {
			e.PatternKey = "api_service:large"
		}
		_, err := l.Record(ctx, e)
		require.NoError(t, err)
	}

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.After(all[i-1].Timestamp), "most recent first")
	}

	limited, err := l.Query(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	ranged, err := l.Query(ctx, Filter{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	byKey, err := l.Query(ctx, Filter{OperationType: models.OperationReason, PatternKey: "web_application:small"})
	require.NoError(t, err)
	require.Len(t, byKey, 3)
	for _, e := range byKey {
		assert.Equal(t, "web_application:small", e.PatternKey)
	}

	none, err := l.Query(ctx, Filter{OperationType: "learning_pass"})
	require.NoError(t, err)
	assert.Empty(t, none)

	since, err := l.Since(ctx, all[2].Seq, 10)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Less(t, since[0].Seq, since[1].Seq, "ascending seq")
}

func TestAggregate(t *testing.T) {
	l := newTestLogStore(t)
	ctx := context.Background()

	empty, err := l.Aggregate(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 0.0, empty.SuccessRate)

	for _, ok := range []bool{true, true, true, false} {
		_, err := l.Record(ctx, entry(ok))
		require.NoError(t, err)
	}
	s, err := l.Aggregate(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 0.75, s.SuccessRate)
	assert.Equal(t, 3.0, s.AvgExecutionTimeMs)
	assert.Equal(t, 4, s.ByOperationType[models.OperationReason])
	assert.Equal(t, map[string]int{models.ErrorTypeNoCandidates: 1}, s.ByErrorType)
}

func TestCleanupIsExplicit(t *testing.T) {
	l := newTestLogStore(t)
	ctx := context.Background()

	old := entry(true)
	old.Timestamp = time.Now().Add(-60 * 24 * time.Hour)
	_, err := l.Record(ctx, old)
	require.NoError(t, err)
	_, err = l.Record(ctx, entry(true))
	require.NoError(t, err)

	n, err := l.Cleanup(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rest, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestConcurrentRecordsAreSerialized(t *testing.T) {
	l := newTestLogStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := entry(true)
			e.ID = fmt.Sprintf("op-%02d", i)
			_, err := l.Record(ctx, e)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	asc, err := l.Since(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, asc, 20)
	for i := 1; i < len(asc); i++ {
		assert.False(t, asc[i].Timestamp.Before(asc[i-1].Timestamp), "timestamps follow seq order")
	}
}

// failingStore surfaces I/O failures from every operation.
type failingStore struct{ db.OperationStore }

var errDiskFull = errors.New("disk full")

func (failingStore) LatestOperationTime(context.Context) (time.Time, error) { return time.Time{}, nil }
func (failingStore) AppendOperation(context.Context, *db.OperationRecord) (int64, error) {
	return 0, errDiskFull
}
func (failingStore) QueryOperations(context.Context, db.OperationQuery) ([]*db.OperationRecord, error) {
	return nil, errDiskFull
}

func TestStoreFailuresAreSurfaced(t *testing.T) {
	l := NewLogStore(failingStore{}, nil)
	ctx := context.Background()

	_, err := l.Record(ctx, entry(true))
	assert.True(t, errors.Is(err, errDiskFull))

	_, err = l.Query(ctx, Filter{})
	assert.True(t, errors.Is(err, errDiskFull))
}
