package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/approval"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/session"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/stream"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/testutil"
)

func TestProgressBar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pct  float64
		want string
	}{
		{0, "[..........]"},
		{50, "[#####.....]"},
		{100, "[##########]"},
		{150, "[##########]"},
		{-5, "[..........]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progressBar(tt.pct, 10), "progressBar(%v)", tt.pct)
	}
}

func TestFormatCountdown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Auto-approving task 12345678 in 3 seconds (novelsync approve to decide now)",
		formatCountdown(&approval.View{TaskID: "1234567890", RemainingSeconds: 3}))
	assert.Contains(t, formatCountdown(&approval.View{TaskID: "t1", RemainingSeconds: 1}), "in 1 second ")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abcdef", truncate("abcdef", 2))
}

func TestRenderSnapshot(t *testing.T) {
	t.Parallel()

	h := state.NewStepHistory(state.DefaultHistoryCapacity)
	for _, ev := range testutil.SampleSteps("task-chapter-1") {
		h.Append(ev)
	}

	p := testutil.SampleProgress()
	p.CurrentTaskProvider = "scripted"
	p.CurrentTaskModel = "novelsync-echo"
	p.RewriteAttempt = 1
	p.RewriteMaxAttempts = 2
	p.RewriteScore = 6
	p.RewriteReason = "pacing"
	p.ChapterPhase = "drafting"

	snap := session.Snapshot{
		SessionID:  testutil.SampleSessionID,
		Connection: stream.StateConnected,
		Progress:   p,
		Tasks:      testutil.SampleTasks(),
		History:    h.Entries(),
		Countdown:  &approval.View{TaskID: "task-brainstorm", RemainingSeconds: 7},
		LastError:  "slow down",
	}

	var out bytes.Buffer
	renderSnapshot(&out, snap, 100)
	output := out.String()

	assert.Contains(t, output, "Session "+testutil.SampleSessionID+"  [connected]")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "40.0%")
	assert.Contains(t, output, "chapter_content (scripted/novelsync-echo)")
	assert.Contains(t, output, "writing 1, 0/2 completed (drafting)")
	assert.Contains(t, output, "attempt 1/2, score 6.0: pacing")
	assert.Contains(t, output, "Auto-approving task task-bra in 7 seconds")
	assert.Contains(t, output, "Error: slow down")
	assert.Contains(t, output, "Draft the story outline")
	assert.Contains(t, output, "Recent steps (newest first):")

	// Newest step is listed first.
	steps := output[strings.Index(output, "Recent steps"):]
	newest := strings.Index(steps, "rewrite succeeded on attempt 1")
	older := strings.Index(steps, "calling scripted/novelsync-echo")
	assert.GreaterOrEqual(t, newest, 0)
	assert.Less(t, newest, older)
}

func TestRenderSnapshot_Minimal(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	renderSnapshot(&out, session.Snapshot{Connection: stream.StateIdle}, defaultWidth)
	output := out.String()

	assert.Contains(t, output, "Session -  [idle]")
	assert.Contains(t, output, "Status:    idle")
	assert.NotContains(t, output, "TYPE")
	assert.NotContains(t, output, "Recent steps")
	assert.NotContains(t, output, "Auto-approving")
}

func TestRenderSnapshot_ConnectionLost(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	renderSnapshot(&out, session.Snapshot{Connection: stream.StateError, ConnectionLost: true}, defaultWidth)
	assert.Contains(t, out.String(), "[connection lost]")
}

func TestRenderTasks_FailedShowsError(t *testing.T) {
	t.Parallel()

	tasks := []state.Task{
		{TaskID: "t1", TaskType: state.TaskTypeScene, Status: state.TaskStatusFailed, Description: "scene", Error: "rejected by user"},
		{TaskID: "t2", TaskType: state.TaskTypeChapterContent, Status: state.TaskStatusRunning, ChapterIndex: state.Ptr(3)},
	}

	var out bytes.Buffer
	renderTasks(&out, tasks, defaultWidth)
	assert.Contains(t, out.String(), "rejected by user")
	assert.Contains(t, out.String(), "chapter 3")
}

func TestRenderRecord(t *testing.T) {
	t.Parallel()

	rec := &state.SessionRecord{
		SessionID: "novel-1",
		Progress:  state.Progress{Status: state.SessionStatusFailed, TotalTasks: 2, FailedTasks: 1, Error: "model unavailable"},
		SavedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	var out bytes.Buffer
	renderRecord(&out, nil, rec)
	output := out.String()

	assert.Contains(t, output, "novel-1")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "Failure:   model unavailable")
	assert.NotContains(t, output, "Server:")
}

func TestTerminalWidth_NonTerminal(t *testing.T) {
	t.Parallel()

	width, isTerm := terminalWidth(&bytes.Buffer{})
	assert.False(t, isTerm)
	assert.Equal(t, defaultWidth, width)
}
