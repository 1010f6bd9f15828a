package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

// AssertTaskStatus asserts that the task with id exists with the expected status.
func AssertTaskStatus(t *testing.T, tasks []state.Task, id string, expected state.TaskStatus) {
	t.Helper()
	for _, task := range tasks {
		if task.TaskID == id {
			assert.Equal(t, expected, task.Status, "task %s status mismatch", id)
			return
		}
	}
	t.Errorf("task %s not found among %d tasks", id, len(tasks))
}

// AssertTaskIDs asserts the ids of tasks, in order.
func AssertTaskIDs(t *testing.T, tasks []state.Task, expected ...string) {
	t.Helper()
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.TaskID
	}
	assert.Equal(t, expected, ids)
}

// AssertProgressCounts asserts the task counters of a progress record.
func AssertProgressCounts(t *testing.T, p state.Progress, total, completed, failed int) {
	t.Helper()
	assert.Equal(t, total, p.TotalTasks, "total_tasks mismatch")
	assert.Equal(t, completed, p.CompletedTasks, "completed_tasks mismatch")
	assert.Equal(t, failed, p.FailedTasks, "failed_tasks mismatch")
}

// AssertHistoryKinds asserts the step kinds of history entries, newest first.
func AssertHistoryKinds(t *testing.T, entries []state.HistoryEntry, expected ...state.StepKind) {
	t.Helper()
	require.Len(t, entries, len(expected), "history length mismatch")
	for i, e := range entries {
		assert.Equal(t, expected[i], e.Event.Kind(), "history[%d] kind mismatch", i)
	}
}

// EventNames returns the event names of frames, in order.
func EventNames(frames []Frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event()
	}
	return names
}

// AssertEventsInOrder asserts that expected appear in frames as a
// subsequence. Other events may be interleaved.
func AssertEventsInOrder(t *testing.T, frames []Frame, expected ...string) {
	t.Helper()
	names := EventNames(frames)
	i := 0
	for _, name := range names {
		if i < len(expected) && name == expected[i] {
			i++
		}
	}
	assert.Equal(t, len(expected), i, "events %v not found in order within %v", expected, names)
}
