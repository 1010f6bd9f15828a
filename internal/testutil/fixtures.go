package testutil

import "github.com/frankfan814-art/division-autoGpt-sub000/internal/state"

// Fixed session and task ids used across fixtures.
const (
	SampleSessionID = "session-sample"
	SampleOtherID   = "session-other"
)

// SampleTasks returns tasks of one session in different lifecycle states.
// Returns a new slice each time to prevent test interference.
func SampleTasks() []state.Task {
	return []state.Task{
		{
			TaskID:      "task-outline",
			TaskType:    state.TaskTypeOutline,
			Status:      state.TaskStatusCompleted,
			Description: "Draft the story outline",
			Result:      "Three acts, two viewpoints.",
			Evaluation:  &state.Evaluation{Score: 8.5, Passed: true},
		},
		{
			TaskID:       "task-chapter-1",
			TaskType:     state.TaskTypeChapterContent,
			Status:       state.TaskStatusRunning,
			Description:  "Write chapter 1",
			ChapterIndex: state.Ptr(1),
			Metadata: map[string]any{
				state.MetaProvider: "scripted",
				state.MetaModel:    "novelsync-echo",
			},
		},
		{
			TaskID:      "task-brainstorm",
			TaskType:    state.TaskTypeCreativeBrainstorm,
			Status:      state.TaskStatusPendingApproval,
			Description: "Brainstorm opening hooks",
		},
	}
}

// SamplePendingTask returns a task waiting for approval that may be
// auto-approved.
func SamplePendingTask() state.Task {
	return state.Task{
		TaskID:       "task-chapter-2",
		TaskType:     state.TaskTypeChapterContent,
		Status:       state.TaskStatusPendingApproval,
		Description:  "Write chapter 2",
		Result:       "It rained for the whole of chapter two.",
		ChapterIndex: state.Ptr(2),
	}
}

// SampleSelectionTask returns a pending task that requires an explicit
// choice and is never auto-approved.
func SampleSelectionTask() state.Task {
	return state.Task{
		TaskID:      "task-ideas",
		TaskType:    state.TaskTypeIdeaSelection,
		Status:      state.TaskStatusPendingApproval,
		Description: "Pick an opening idea",
		Metadata:    map[string]any{state.MetaRequiresSelection: true},
	}
}

// SampleSteps returns the step events of one generation with a rewrite.
func SampleSteps(taskID string) []state.StepEvent {
	base := func(kind state.StepKind) state.StepBase {
		return state.StepBase{Step: kind, TaskID: taskID}
	}
	return []state.StepEvent{
		state.ContextRetrievalStarted{StepBase: base(state.StepContextRetrievalStart), Query: "chapter 1"},
		state.LLMCallStarted{StepBase: base(state.StepLLMCallStart), Provider: "scripted", Model: "novelsync-echo"},
		state.EvaluationCompleted{StepBase: base(state.StepEvaluationComplete), Score: 6, Issues: []string{"pacing"}},
		state.RewriteAttempted{StepBase: base(state.StepRewriteAttempt), Attempt: 1, MaxAttempts: 2},
		state.RewriteSucceeded{StepBase: base(state.StepRewriteSuccess), Attempt: 1, Score: 8},
	}
}

// SampleProgress returns a mid-session progress record.
func SampleProgress() state.Progress {
	return state.Progress{
		Status:         state.SessionStatusRunning,
		TotalTasks:     5,
		CompletedTasks: 2,
		Percentage:     40,
		CurrentTask:    state.TaskTypeChapterContent,
		CurrentChapter: state.Ptr(1),
		TotalChapters:  2,
	}
}
