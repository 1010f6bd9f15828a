package session

import (
	"encoding/json"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

// Inbound event names.
const (
	EventSubscribed         = "subscribed"
	EventTaskStart          = "task_start"
	EventTaskComplete       = "task_complete"
	EventTaskFail           = "task_fail"
	EventTaskApprovalNeeded = "task_approval_needed"
	EventProgress           = "progress"
	EventStepProgress       = "step_progress"
	EventChapterProgress    = "chapter_progress"
	EventChapterCompleted   = "chapter_completed"
	EventRewriteAttempt     = "rewrite_attempt"
	EventStarted            = "started"
	EventPaused             = "paused"
	EventResumed            = "resumed"
	EventStopped            = "stopped"
	EventCompleted          = "completed"
	EventFailed             = "failed"
	EventError              = "error"
	EventFeedbackReceived   = "feedback_received"
)

// Outbound event names.
const (
	EventSubscribe   = "subscribe"
	EventStart       = "start"
	EventPause       = "pause"
	EventResume      = "resume"
	EventStop        = "stop"
	EventApproveTask = "approve_task"
	EventFeedback    = "feedback"
)

// Action is the user's decision on a task waiting for approval.
type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionRegenerate Action = "regenerate"
)

// Decision is an explicit approval decision for the pending task.
type Decision struct {
	Action       Action
	Feedback     string
	SelectedIdea *int
}

// Feedback is free-form guidance for the writing backend.
type Feedback struct {
	Message string `json:"message"`
	Scope   string `json:"scope,omitempty"`
}

// SubscribeMessage asks the server to stream updates for a session.
type SubscribeMessage struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
}

// ControlMessage starts, pauses, resumes or stops a session.
type ControlMessage struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
}

// ApproveMessage carries a decision on the pending task.
type ApproveMessage struct {
	Event        string `json:"event"`
	SessionID    string `json:"session_id"`
	Action       Action `json:"action"`
	Feedback     string `json:"feedback,omitempty"`
	SelectedIdea *int   `json:"selected_idea,omitempty"`
}

// FeedbackMessage wraps Feedback for the wire.
type FeedbackMessage struct {
	Event string   `json:"event"`
	Data  Feedback `json:"data"`
}

type taskPayload struct {
	Task *state.Task `json:"task"`
}

type progressPayload struct {
	Data state.ProgressPatch `json:"data"`
}

type rawDataPayload struct {
	Data json.RawMessage `json:"data"`
}

type subscribedPayload struct {
	SessionID string               `json:"session_id"`
	Data      *state.ProgressPatch `json:"data"`
}

type chapterProgressPayload struct {
	Data struct {
		CurrentChapter    *int    `json:"current_chapter"`
		TotalChapters     *int    `json:"total_chapters"`
		CompletedChapters *int    `json:"completed_chapters"`
		Phase             *string `json:"phase"`
	} `json:"data"`
}

type chapterCompletedPayload struct {
	Data struct {
		ChapterIndex      *int `json:"chapter_index"`
		CompletedChapters *int `json:"completed_chapters"`
		TotalChapters     *int `json:"total_chapters"`
	} `json:"data"`
}

type rewriteAttemptPayload struct {
	Data struct {
		Attempt     *int     `json:"attempt"`
		MaxAttempts *int     `json:"max_attempts"`
		Score       *float64 `json:"score"`
		Reason      *string  `json:"reason"`
	} `json:"data"`
}

type completedPayload struct {
	Data *struct {
		TotalTasks     *int `json:"total_tasks"`
		CompletedTasks *int `json:"completed_tasks"`
		FailedTasks    *int `json:"failed_tasks"`
	} `json:"data"`
}

type failedPayload struct {
	Data *struct {
		Error string `json:"error"`
	} `json:"data"`
}

type errorPayload struct {
	Message string `json:"message"`
}
