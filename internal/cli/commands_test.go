package cli

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/config"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/server"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/testutil"
)

// fastConfig makes countdowns and timeouts short enough for tests.
const fastConfig = `approval:
  countdown: 200ms
  tick: 50ms
connection:
  heartbeat_interval: 1s
  backoff_base: 50ms
  backoff_cap: 200ms
  max_reconnect_attempts: 1
  dial_timeout: 2s
  ready_timeout: 2s
logging:
  level: error
`

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.DirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DirName, "config.yaml"), []byte(fastConfig), 0o644))
	return dir
}

func startBackend(t *testing.T, plan []server.PlanStep) string {
	t.Helper()

	logger := logging.New()
	logger.SetOutput(io.Discard)
	s, err := server.NewServer(&server.Config{Plan: plan, Logger: logger})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop()
		ts.Close()
	})
	return testutil.WebSocketURL(ts)
}

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	ctx, cancel := testutil.SessionContext(t)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func autoApprovablePlan() []server.PlanStep {
	return []server.PlanStep{
		{TaskType: state.TaskTypeOutline, Description: "outline"},
		{TaskType: state.TaskTypeChapterContent, Description: "chapter 1", Chapter: state.Ptr(1), NeedsApproval: true},
	}
}

func selectionPlan() []server.PlanStep {
	return []server.PlanStep{
		{TaskType: state.TaskTypeCreativeBrainstorm, Description: "ideas", NeedsApproval: true},
	}
}

func TestLoadSettings_Precedence(t *testing.T) {
	dir := projectDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DirName, ".env"),
		[]byte("NOVELSYNC_URL=ws://from-env-file/ws\nNOVELSYNC_LOG_FORMAT=json\n"), 0o644))
	for _, key := range []string{config.EnvURL, config.EnvLogLevel, config.EnvLogFormat} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	opts := &rootOptions{dir: dir}
	cmd := NewRootCommand()

	st, err := opts.loadSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, "ws://from-env-file/ws", st.cfg.URL)
	assert.Equal(t, "json", st.cfg.Logging.Format)
	assert.Equal(t, "error", st.cfg.Logging.Level)
	assert.Equal(t, filepath.Join(dir, config.DirName), st.cfg.SnapshotDir)

	opts.url = "wss://from-flag/ws"
	opts.logLevel = "debug"
	st, err = opts.loadSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, "wss://from-flag/ws", st.cfg.URL)
	assert.Equal(t, "debug", st.cfg.Logging.Level)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Parallel()

	dir := projectDir(t)
	cmd := NewRootCommand()

	_, err := (&rootOptions{dir: dir, url: "http://not-a-websocket"}).loadSettings(cmd)
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))

	_, err = (&rootOptions{dir: dir, configPath: filepath.Join(dir, "missing.yaml")}).loadSettings(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRootCommand_Version(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "novelsync version")
}

func TestControlCommand(t *testing.T) {
	t.Parallel()

	url := startBackend(t, selectionPlan())
	dir := projectDir(t)

	out, err := execute(t, "control", "start", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Session novel-1: running")

	// Starting again is acknowledged as running rather than failing.
	out, err = execute(t, "control", "start", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "running")

	out, err = execute(t, "control", "pause", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "paused")

	out, err = execute(t, "control", "stop", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")
}

func TestControlCommand_Errors(t *testing.T) {
	t.Parallel()

	url := startBackend(t, selectionPlan())
	dir := projectDir(t)

	_, err := execute(t, "control", "dance", "novel-1", "--dir", dir, "--url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown control action")

	_, err = execute(t, "control", "resume", "novel-1", "--dir", dir, "--url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session is not paused")
}

func TestApproveCommand(t *testing.T) {
	t.Parallel()

	url := startBackend(t, selectionPlan())
	dir := projectDir(t)

	_, err := execute(t, "approve", "novel-1", "--dir", dir, "--url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task awaiting approval")

	_, err = execute(t, "approve", "novel-1", "--action", "maybe", "--dir", dir, "--url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")

	_, err = execute(t, "control", "start", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)

	// The selection waits for an explicit choice; poll until it is pending.
	require.Eventually(t, func() bool {
		_, err := execute(t, "approve", "novel-1", "--idea", "1", "--dir", dir, "--url", url)
		return err == nil
	}, testutil.DefaultEventTimeout, 100*time.Millisecond)
}

func TestFeedbackCommand(t *testing.T) {
	t.Parallel()

	url := startBackend(t, selectionPlan())
	dir := projectDir(t)

	out, err := execute(t, "feedback", "novel-1", "darker tone", "--scope", "chapter", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Feedback sent")

	_, err = execute(t, "feedback", "novel-1", "", "--dir", dir, "--url", url)
	require.Error(t, err)
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	dir := projectDir(t)
	_, err := execute(t, "control", "start", "novel-1", "--dir", dir, "--url", "ws://127.0.0.1:1/ws")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestWatchCommand_RunsToCompletion(t *testing.T) {
	t.Parallel()

	url := startBackend(t, autoApprovablePlan())
	dir := projectDir(t)

	out, err := execute(t, "watch", "novel-1", "--start", "--save", "--no-clear", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Session novel-1")
	assert.Contains(t, out, "Auto-approving task")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Recent steps (newest first):")

	store := state.NewStore(filepath.Join(dir, config.DirName))
	rec, err := store.LoadRecord("novel-1")
	require.NoError(t, err)
	assert.Equal(t, state.SessionStatusCompleted, rec.Progress.Status)
	testutil.AssertProgressCounts(t, rec.Progress, 2, 2, 0)
	require.Len(t, rec.Tasks, 2)

	out, err = execute(t, "status", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "novel-1")
	assert.Contains(t, out, "completed")

	out, err = execute(t, "status", "novel-1", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Session Details")
	assert.Contains(t, out, url)

	out, err = execute(t, "status", "novel-1", "--delete", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted snapshot")
	assert.False(t, store.SessionExists("novel-1"))
}

func TestWatchCommand_FinishedSessionExits(t *testing.T) {
	t.Parallel()

	url := startBackend(t, selectionPlan())
	dir := projectDir(t)

	_, err := execute(t, "control", "start", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)
	_, err = execute(t, "control", "stop", "novel-1", "--dir", dir, "--url", url)
	require.NoError(t, err)

	out, err := execute(t, "watch", "novel-1", "--no-clear", "--dir", dir, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")
}
