package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/testutil"
)

// mockSessionReader implements SessionReader for testing.
type mockSessionReader struct {
	metas   []*state.SessionMeta
	records map[string]*state.SessionRecord
	err     error
}

func newMockSessionReader() *mockSessionReader {
	return &mockSessionReader{records: make(map[string]*state.SessionRecord)}
}

func (m *mockSessionReader) ListSessions() ([]*state.SessionMeta, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.metas, nil
}

func (m *mockSessionReader) GetMeta(id string) (*state.SessionMeta, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, meta := range m.metas {
		if meta.SessionID == id {
			return meta, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", state.ErrSessionNotFound, id)
}

func (m *mockSessionReader) LoadRecord(id string) (*state.SessionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrSessionNotFound, id)
	}
	return rec, nil
}

func TestStatusCommand_ListSessions_Empty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, newMockSessionReader(), nil))
	assert.Contains(t, out.String(), "No sessions found")
}

func TestStatusCommand_ListSessions(t *testing.T) {
	t.Parallel()

	mock := newMockSessionReader()
	mock.metas = []*state.SessionMeta{
		{SessionID: "novel-long-name", Status: state.SessionStatusRunning, Tasks: 3, SavedAt: time.Now()},
		{SessionID: "novel-2", Status: state.SessionStatusIdle, Tasks: 0, SavedAt: time.Now().Add(-2 * time.Hour)},
	}

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, mock, nil))
	output := out.String()

	assert.Contains(t, output, "SESSION")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "TASKS")
	assert.Contains(t, output, "novel-long-name")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "just now")
	assert.Contains(t, output, "novel-2")
	assert.Contains(t, output, "idle")
	assert.Contains(t, output, "2h 0m ago")
}

func TestStatusCommand_ShowSession(t *testing.T) {
	t.Parallel()

	mock := newMockSessionReader()
	mock.metas = []*state.SessionMeta{{SessionID: testutil.SampleSessionID, ServerURL: "ws://backend/ws"}}
	mock.records[testutil.SampleSessionID] = &state.SessionRecord{
		SessionID: testutil.SampleSessionID,
		Progress:  testutil.SampleProgress(),
		Tasks:     testutil.SampleTasks(),
		LastError: "rate limited",
		SavedAt:   time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC),
	}

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, mock, []string{testutil.SampleSessionID}))
	output := out.String()

	assert.Contains(t, output, "Session Details")
	assert.Contains(t, output, testutil.SampleSessionID)
	assert.Contains(t, output, "ws://backend/ws")
	assert.Contains(t, output, "rate limited")
	assert.Contains(t, output, "2/5 done")
	assert.Contains(t, output, "Write chapter 1")
	assert.Contains(t, output, string(state.TaskStatusPendingApproval))
}

func TestStatusCommand_ShowSession_NotFound(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runStatus(&out, newMockSessionReader(), []string{"missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no saved snapshot for session missing")
}

func TestStatusCommand_StoreError(t *testing.T) {
	t.Parallel()

	mock := newMockSessionReader()
	mock.err = errors.New("disk on fire")

	var out bytes.Buffer
	err := runStatus(&out, mock, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")

	err = runStatus(&out, mock, []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load session")
}

func TestStatusCommand_RealStore(t *testing.T) {
	t.Parallel()

	store := state.NewStore(t.TempDir())
	require.NoError(t, store.SaveRecord("ws://localhost:8000/ws", &state.SessionRecord{
		SessionID: "novel-1",
		Progress:  testutil.SampleProgress(),
		Tasks:     testutil.SampleTasks(),
	}))

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, store, nil))
	assert.Contains(t, out.String(), "novel-1")
	assert.Contains(t, out.String(), "running")

	out.Reset()
	require.NoError(t, deleteSession(&out, store, "novel-1"))
	assert.Contains(t, out.String(), "Deleted snapshot of session novel-1")
	assert.False(t, store.SessionExists("novel-1"))

	err := deleteSession(&out, store, "novel-1")
	require.Error(t, err)
}

func TestFormatAge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{90 * time.Minute, "1h 30m ago"},
		{50 * time.Hour, "2d ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAge(tt.d), "formatAge(%s)", tt.d)
	}
}
