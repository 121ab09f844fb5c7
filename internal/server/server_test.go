package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/api/ws"
	"github.com/infrasage/infrasage/internal/config"
	"github.com/infrasage/infrasage/internal/intelligence"
	"github.com/infrasage/infrasage/internal/models"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := *config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Database.SQLitePath = ":memory:"
	cfg.Logging.AuditLogPath = filepath.Join(t.TempDir(), "audit.log")
	cfg.Logging.Stdout = false
	return cfg
}

func newTestCore(t *testing.T, cfg config.Config) *Core {
	t.Helper()
	core, err := NewCore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })
	// Listen on an ephemeral port.
	core.Config.Server.Port = 0
	return core
}

func TestNewCoreRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Type = "oracle"

	_, err := NewCore(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.type")
}

func TestNewCoreBadCatalogPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Patterns.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewCore(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern catalog")
}

func TestNewCoreWiresComponents(t *testing.T) {
	core := newTestCore(t, testConfig(t))

	assert.NotEmpty(t, core.Patterns.Patterns())
	assert.Positive(t, core.Patterns.Version())

	res, err := core.Engine.ReasonThroughProblem(context.Background(), "api service for 200 users", nil)
	require.NoError(t, err)
	assert.Nil(t, res.LogError)

	entries, err := core.Log.Since(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OperationReason, entries[0].OperationType)
}

func TestApplyConfigUpdatesThresholds(t *testing.T) {
	core := newTestCore(t, testConfig(t))

	cfg := core.Config
	cfg.Learning.AdaptationMinFrequency = 3
	cfg.Learning.SuggestionCostImpact = 50
	core.ApplyConfig(context.Background(), cfg, "test.yaml")

	assert.Equal(t, LearningConfig(cfg.Learning), core.Learning.Config())
	assert.Equal(t, intelligence.Config{
		AdaptationMinConfidence: 0.8,
		AdaptationMinFrequency:  3,
		SuggestionSuccessRate:   0.8,
		SuggestionCostImpact:    50,
		BatchSize:               500,
	}, core.Learning.Config())
}

func TestServerEndToEnd(t *testing.T) {
	core := newTestCore(t, testConfig(t))
	srv, err := NewServer(core)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-runErr:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("server did not stop")
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	addr, err := srv.Addr(waitCtx)
	require.NoError(t, err)
	base := "http://" + addr.String()
	assert.True(t, srv.IsRunning())

	// Subscribe to insight pushes before any learning happens.
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/ws/insights", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/reason", "application/json",
		strings.NewReader(`{"request":"web app, budget $150/month, 500 users"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var decided map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decided))
	assert.NotEmpty(t, decided["operation_id"])

	var ops struct {
		Count int `json:"count"`
	}
	getJSON(t, base+"/api/v1/operations", &ops)
	assert.Equal(t, 1, ops.Count)

	// The decision nudges the scheduler; the pass learns the request shape.
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/learning/patterns")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Patterns []models.LearningPattern `json:"patterns"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}
		return len(body.Patterns) == 1 && body.Patterns[0].PatternKey == "web_application:small"
	}, 5*time.Second, 20*time.Millisecond)

	run, err := http.Post(base+"/api/v1/learning/run", "application/json", nil)
	require.NoError(t, err)
	run.Body.Close()
	require.Equal(t, http.StatusOK, run.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.MessageTypeInsights, msg.Type)
	assert.NotNil(t, msg.Insights)

	health, err := http.Get(base + "/ready")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServerRunsOnce(t *testing.T) {
	core := newTestCore(t, testConfig(t))
	srv, err := NewServer(core)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.Run(ctx))
	assert.False(t, srv.IsRunning())
	assert.Error(t, srv.Run(context.Background()))
}

func TestServerListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "256.0.0.1"
	core := newTestCore(t, cfg)
	srv, err := NewServer(core)
	require.NoError(t, err)

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func getJSON(t *testing.T, url string, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("GET %s", url))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}
