package server

import (
	"encoding/json"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

// inbound is the union of every frame a client may send.
type inbound struct {
	Event        string          `json:"event"`
	SessionID    string          `json:"session_id"`
	Action       string          `json:"action"`
	Feedback     string          `json:"feedback"`
	SelectedIdea *int            `json:"selected_idea"`
	Data         json.RawMessage `json:"data"`
}

type feedbackData struct {
	Message string `json:"message"`
	Scope   string `json:"scope"`
}

type eventFrame struct {
	Event string `json:"event"`
}

type taskFrame struct {
	Event string     `json:"event"`
	Task  state.Task `json:"task"`
}

type dataFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type errorFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type subscribedFrame struct {
	Event     string              `json:"event"`
	SessionID string              `json:"session_id"`
	Data      state.ProgressPatch `json:"data"`
}

type chapterProgressData struct {
	CurrentChapter    int    `json:"current_chapter"`
	TotalChapters     int    `json:"total_chapters"`
	CompletedChapters int    `json:"completed_chapters"`
	Phase             string `json:"phase"`
}

type chapterCompletedData struct {
	ChapterIndex      int `json:"chapter_index"`
	CompletedChapters int `json:"completed_chapters"`
	TotalChapters     int `json:"total_chapters"`
}

type rewriteAttemptData struct {
	Attempt     int     `json:"attempt"`
	MaxAttempts int     `json:"max_attempts"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
}

type countsData struct {
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	FailedTasks    int     `json:"failed_tasks"`
	Percentage     float64 `json:"percentage"`
}

func errorReply(msg string) errorFrame {
	return errorFrame{Event: "error", Message: msg}
}
