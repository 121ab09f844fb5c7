package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrasage/infrasage/internal/models"
)

type testEnv struct {
	dir        string
	configPath string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "infrasage.yaml")
	yaml := fmt.Sprintf(`database:
  type: sqlite
  sqlite_path: %s
logging:
  level: warn
  stdout: false
  audit_log_path: %s
telemetry:
  retention_days: 30
`, filepath.Join(dir, "infrasage.db"), filepath.Join(dir, "audit.log"))
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o600))
	return testEnv{dir: dir, configPath: configPath}
}

// run executes the root command and returns stdout and stderr.
func (e testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommandWithIO(&out, &errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (e testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(t, args...)
	require.NoError(t, err, errOut)
	return out
}

func TestReasonText(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "reason", "web app for 500 users, budget $150/month")
	assert.Contains(t, out, "Recommended solution:")
	assert.Contains(t, out, "confidence")
	assert.Contains(t, out, "operation ")
}

func TestReasonJSONAndHistory(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "--json", "reason", "api service", "--context", `{"users": 20000}`)
	var res struct {
		OperationID string               `json:"operation_id"`
		Request     models.ParsedRequest `json:"request"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.OperationID)
	assert.Equal(t, 20000, res.Request.UserCount())

	env.mustRun(t, "reason", "web app for 500 users")

	out = env.mustRun(t, "--json", "history")
	var entries []models.OperationLogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Greater(t, entries[0].Seq, entries[1].Seq)
	assert.Equal(t, res.OperationID, entries[1].ID)

	out = env.mustRun(t, "history", "--limit", "1")
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, models.OperationReason)
}

func TestReasonRejectsBadContext(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "reason", "web app", "--context", "not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--context must be a JSON object")
}

func TestReasonRequiresRequest(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "reason")
	assert.Error(t, err)
}

func TestHistoryEmpty(t *testing.T) {
	env := newTestEnv(t)

	assert.Contains(t, env.mustRun(t, "history"), "no operations recorded")
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "reason", "web app for 500 users")

	out := env.mustRun(t, "summary")
	assert.Contains(t, out, "total         1")
	assert.Contains(t, out, models.OperationReason)

	out = env.mustRun(t, "--json", "summary", "--since", "1h")
	var s models.OperationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 1, s.Total)
	assert.InDelta(t, 1.0, s.SuccessRate, 1e-9)
}

func TestLearnAndInsights(t *testing.T) {
	env := newTestEnv(t)

	assert.Contains(t, env.mustRun(t, "insights"), "no insights yet")

	for i := 0; i < 3; i++ {
		env.mustRun(t, "reason", "web app for 500 users, budget $150/month")
	}

	out := env.mustRun(t, "learn")
	assert.Contains(t, out, "learning pass complete: 3 entries")
	assert.Contains(t, out, "web_application:small")

	// The watermark persists, so a second pass finds nothing new.
	out = env.mustRun(t, "--json", "learn")
	var res struct {
		Entries   int  `json:"entries"`
		Completed bool `json:"completed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Entries)
	assert.True(t, res.Completed)

	out = env.mustRun(t, "--json", "insights")
	var ins map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ins))
	assert.Contains(t, ins, "suggestions")
	assert.Contains(t, ins, "adaptation_rules")
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "reason", "web app for 500 users")
	env.mustRun(t, "learn")

	out := env.mustRun(t, "cleanup")
	assert.Contains(t, out, "deleted 0 operations")
	assert.NotContains(t, out, "learning patterns")

	out = env.mustRun(t, "--json", "cleanup", "--older-than", "1ns", "--patterns")
	var res cleanupResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 1, res.Operations)
	assert.EqualValues(t, 1, res.LearningPatterns)

	assert.Contains(t, env.mustRun(t, "history"), "no operations recorded")

	_, _, err := env.run(t, "cleanup", "--older-than=-1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--older-than must be positive")
}

func TestCleanupWithoutRetention(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("INFRASAGE_TELEMETRY_RETENTION_DAYS", "0")

	_, _, err := env.run(t, "cleanup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention is disabled")
}

func TestEnvFile(t *testing.T) {
	env := newTestEnv(t)

	missing := filepath.Join(env.dir, "missing.env")
	var out, errOut bytes.Buffer
	cmd := NewRootCommandWithIO(&out, &errOut)
	cmd.SetArgs([]string{"--config", env.configPath, "--env-file", missing, "history"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")

	envFile := filepath.Join(env.dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("INFRASAGE_LOGGING_LEVEL=bogus\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("INFRASAGE_LOGGING_LEVEL") })

	cmd = NewRootCommandWithIO(&out, &errOut)
	cmd.SetArgs([]string{"--config", env.configPath, "--env-file", envFile, "history"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestInvalidConfigFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("database:\n  type: oracle\n"), 0o600))

	_, _, err := env.run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.type")
}
