// Package state holds the client-side view of a writing session: the
// session-scoped task cache, the merged progress record, the bounded step
// history and the observable snapshot store the UI layer reads from.
package state

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusReady           TaskStatus = "ready"
	TaskStatusRunning         TaskStatus = "running"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
	TaskStatusPendingApproval TaskStatus = "pending_approval"
	TaskStatusSkipped         TaskStatus = "skipped"
)

// Terminal reports whether no further execution happens for the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusSkipped
}

// Task type values.
const (
	TaskTypeOutline            = "outline"
	TaskTypeCharacterDesign    = "character_design"
	TaskTypeWorldview          = "worldview"
	TaskTypePlotDesign         = "plot_design"
	TaskTypeChapterOutline     = "chapter_outline"
	TaskTypeChapterContent     = "chapter_content"
	TaskTypeScene              = "scene"
	TaskTypeDialogue           = "dialogue"
	TaskTypeRevision           = "revision"
	TaskTypeEvaluation         = "evaluation"
	TaskTypeCreativeBrainstorm = "creative_brainstorm"
	TaskTypeIdeaSelection      = "idea_selection"
)

// selectionTaskTypes always need the user to pick among generated options.
var selectionTaskTypes = map[string]bool{
	TaskTypeCreativeBrainstorm: true,
	TaskTypeIdeaSelection:      true,
}

// Metadata keys with meaning to the client.
const (
	MetaPrompt            = "prompt"
	MetaRequiresSelection = "requires_selection"
	MetaProvider          = "provider"
	MetaModel             = "model"
)

// Evaluation is the quality score attached to a generated result.
type Evaluation struct {
	Score           float64            `json:"score"`
	Passed          bool               `json:"passed"`
	DimensionScores map[string]float64 `json:"dimension_scores,omitempty"`
	Issues          []string           `json:"issues,omitempty"`
	Suggestions     []string           `json:"suggestions,omitempty"`
}

// Task is one unit of generated work within a session.
type Task struct {
	TaskID               string         `json:"task_id"`
	TaskType             string         `json:"task_type"`
	Status               TaskStatus     `json:"status"`
	Description          string         `json:"description,omitempty"`
	Result               string         `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
	Evaluation           *Evaluation    `json:"evaluation,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds,omitempty"`
	TotalTokens          int            `json:"total_tokens,omitempty"`
	CostUSD              float64        `json:"cost_usd,omitempty"`
	FailedAttempts       int            `json:"failed_attempts,omitempty"`
	ChapterIndex         *int           `json:"chapter_index,omitempty"`
}

// RequiresSelection reports whether the task waits for an explicit user
// choice and therefore must never be auto-approved.
func (t Task) RequiresSelection() bool {
	if selectionTaskTypes[t.TaskType] {
		return true
	}
	switch v := t.Metadata[MetaRequiresSelection].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// MetaString returns a string metadata value, or "".
func (t Task) MetaString(key string) string {
	s, _ := t.Metadata[key].(string)
	return s
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	if t.ChapterIndex != nil {
		idx := *t.ChapterIndex
		c.ChapterIndex = &idx
	}
	if t.Evaluation != nil {
		ev := *t.Evaluation
		ev.DimensionScores = maps.Clone(t.Evaluation.DimensionScores)
		ev.Issues = append([]string(nil), t.Evaluation.Issues...)
		ev.Suggestions = append([]string(nil), t.Evaluation.Suggestions...)
		c.Evaluation = &ev
	}
	return c
}

// TaskPatch is a shallow partial update for UpdateTask. Nil fields are left
// untouched; a non-nil Metadata replaces the whole map.
type TaskPatch struct {
	TaskType             *string
	Status               *TaskStatus
	Result               *string
	Error                *string
	Evaluation           *Evaluation
	Metadata             map[string]any
	ExecutionTimeSeconds *float64
	TotalTokens          *int
	CostUSD              *float64
	FailedAttempts       *int
	ChapterIndex         *int
}

// Apply returns t with the patch fields merged in.
func (p TaskPatch) Apply(t Task) Task {
	if p.TaskType != nil {
		t.TaskType = *p.TaskType
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Result != nil {
		t.Result = *p.Result
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if p.Evaluation != nil {
		ev := *p.Evaluation
		t.Evaluation = &ev
	}
	if p.Metadata != nil {
		t.Metadata = maps.Clone(p.Metadata)
	}
	if p.ExecutionTimeSeconds != nil {
		t.ExecutionTimeSeconds = *p.ExecutionTimeSeconds
	}
	if p.TotalTokens != nil {
		t.TotalTokens = *p.TotalTokens
	}
	if p.CostUSD != nil {
		t.CostUSD = *p.CostUSD
	}
	if p.FailedAttempts != nil {
		t.FailedAttempts = *p.FailedAttempts
	}
	if p.ChapterIndex != nil {
		idx := *p.ChapterIndex
		t.ChapterIndex = &idx
	}
	return t
}

// SessionStatus is the session-level execution status.
type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = ""
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusStopped   SessionStatus = "stopped"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Progress is the merged progress record of the current session. Distinct
// inbound events own disjoint subsets of these fields.
type Progress struct {
	Status SessionStatus `json:"status,omitempty"`

	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	FailedTasks    int     `json:"failed_tasks"`
	Percentage     float64 `json:"percentage"`

	CurrentTask         string     `json:"current_task,omitempty"`
	CurrentTaskProvider string     `json:"current_task_provider,omitempty"`
	CurrentTaskModel    string     `json:"current_task_model,omitempty"`
	TaskStartedAt       *time.Time `json:"task_started_at,omitempty"`
	RetryCount          int        `json:"retry_count,omitempty"`

	CurrentChapter       *int   `json:"current_chapter,omitempty"`
	TotalChapters        int    `json:"total_chapters,omitempty"`
	CompletedChapters    int    `json:"completed_chapters,omitempty"`
	LastCompletedChapter *int   `json:"last_completed_chapter,omitempty"`
	ChapterPhase         string `json:"chapter_phase,omitempty"`

	RewriteAttempt     int     `json:"rewrite_attempt,omitempty"`
	RewriteMaxAttempts int     `json:"rewrite_max_attempts,omitempty"`
	RewriteScore       float64 `json:"rewrite_score,omitempty"`
	RewriteReason      string  `json:"rewrite_reason,omitempty"`

	Error string `json:"error,omitempty"`
}

// ProgressPatch is a partial progress update. It decodes directly from the
// wire: fields absent from the JSON stay nil and are not touched by Merge,
// fields sent as an explicit null are listed in Cleared and reset by Merge.
type ProgressPatch struct {
	Status *SessionStatus `json:"status,omitempty"`

	TotalTasks     *int     `json:"total_tasks,omitempty"`
	CompletedTasks *int     `json:"completed_tasks,omitempty"`
	FailedTasks    *int     `json:"failed_tasks,omitempty"`
	Percentage     *float64 `json:"percentage,omitempty"`

	CurrentTask         *string    `json:"current_task,omitempty"`
	CurrentTaskProvider *string    `json:"current_task_provider,omitempty"`
	CurrentTaskModel    *string    `json:"current_task_model,omitempty"`
	TaskStartedAt       *time.Time `json:"task_started_at,omitempty"`
	RetryCount          *int       `json:"retry_count,omitempty"`

	CurrentChapter       *int    `json:"current_chapter,omitempty"`
	TotalChapters        *int    `json:"total_chapters,omitempty"`
	CompletedChapters    *int    `json:"completed_chapters,omitempty"`
	LastCompletedChapter *int    `json:"last_completed_chapter,omitempty"`
	ChapterPhase         *string `json:"chapter_phase,omitempty"`

	RewriteAttempt     *int     `json:"rewrite_attempt,omitempty"`
	RewriteMaxAttempts *int     `json:"rewrite_max_attempts,omitempty"`
	RewriteScore       *float64 `json:"rewrite_score,omitempty"`
	RewriteReason      *string  `json:"rewrite_reason,omitempty"`

	Error *string `json:"error,omitempty"`

	// Cleared holds the JSON keys the patch sets to null.
	Cleared []string `json:"-"`
}

// progressClearers resets the Progress field behind each wire key.
var progressClearers = map[string]func(*Progress){
	"status":                 func(p *Progress) { p.Status = SessionStatusIdle },
	"total_tasks":            func(p *Progress) { p.TotalTasks = 0 },
	"completed_tasks":        func(p *Progress) { p.CompletedTasks = 0 },
	"failed_tasks":           func(p *Progress) { p.FailedTasks = 0 },
	"percentage":             func(p *Progress) { p.Percentage = 0 },
	"current_task":           func(p *Progress) { p.CurrentTask = "" },
	"current_task_provider":  func(p *Progress) { p.CurrentTaskProvider = "" },
	"current_task_model":     func(p *Progress) { p.CurrentTaskModel = "" },
	"task_started_at":        func(p *Progress) { p.TaskStartedAt = nil },
	"retry_count":            func(p *Progress) { p.RetryCount = 0 },
	"current_chapter":        func(p *Progress) { p.CurrentChapter = nil },
	"total_chapters":         func(p *Progress) { p.TotalChapters = 0 },
	"completed_chapters":     func(p *Progress) { p.CompletedChapters = 0 },
	"last_completed_chapter": func(p *Progress) { p.LastCompletedChapter = nil },
	"chapter_phase":          func(p *Progress) { p.ChapterPhase = "" },
	"rewrite_attempt":        func(p *Progress) { p.RewriteAttempt = 0 },
	"rewrite_max_attempts":   func(p *Progress) { p.RewriteMaxAttempts = 0 },
	"rewrite_score":          func(p *Progress) { p.RewriteScore = 0 },
	"rewrite_reason":         func(p *Progress) { p.RewriteReason = "" },
	"error":                  func(p *Progress) { p.Error = "" },
}

// UnmarshalJSON decodes the patch and records which keys were explicit nulls.
func (p *ProgressPatch) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	type plain ProgressPatch
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if _, ok := progressClearers[key]; ok && bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			decoded.Cleared = append(decoded.Cleared, key)
		}
	}
	slices.Sort(decoded.Cleared)

	*p = ProgressPatch(decoded)
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setPtrIf[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Merge returns p with every non-nil patch field applied and every Cleared
// field reset. Fields the patch does not carry keep their previous value.
func (p Progress) Merge(patch ProgressPatch) Progress {
	for _, key := range patch.Cleared {
		if reset, ok := progressClearers[key]; ok {
			reset(&p)
		}
	}

	setIf(&p.Status, patch.Status)

	setIf(&p.TotalTasks, patch.TotalTasks)
	setIf(&p.CompletedTasks, patch.CompletedTasks)
	setIf(&p.FailedTasks, patch.FailedTasks)
	setIf(&p.Percentage, patch.Percentage)

	setIf(&p.CurrentTask, patch.CurrentTask)
	setIf(&p.CurrentTaskProvider, patch.CurrentTaskProvider)
	setIf(&p.CurrentTaskModel, patch.CurrentTaskModel)
	setPtrIf(&p.TaskStartedAt, patch.TaskStartedAt)
	setIf(&p.RetryCount, patch.RetryCount)

	setPtrIf(&p.CurrentChapter, patch.CurrentChapter)
	setIf(&p.TotalChapters, patch.TotalChapters)
	setIf(&p.CompletedChapters, patch.CompletedChapters)
	setPtrIf(&p.LastCompletedChapter, patch.LastCompletedChapter)
	setIf(&p.ChapterPhase, patch.ChapterPhase)

	setIf(&p.RewriteAttempt, patch.RewriteAttempt)
	setIf(&p.RewriteMaxAttempts, patch.RewriteMaxAttempts)
	setIf(&p.RewriteScore, patch.RewriteScore)
	setIf(&p.RewriteReason, patch.RewriteReason)

	setIf(&p.Error, patch.Error)
	return p
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
