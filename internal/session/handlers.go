package session

import (
	"strings"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/stream"
)

// alreadyRunning marks the one server error that is an acknowledgment.
const alreadyRunning = "already running"

// handlerFunc applies one inbound message under the syncer lock.
type handlerFunc func(msg *stream.Message) error

func (s *Syncer) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		EventSubscribed:         s.onSubscribed,
		EventTaskStart:          s.onTaskStart,
		EventTaskComplete:       s.onTaskUpdate,
		EventTaskFail:           s.onTaskUpdate,
		EventTaskApprovalNeeded: s.onTaskUpdate,
		EventProgress:           s.onProgress,
		EventStepProgress:       s.onStepProgress,
		EventChapterProgress:    s.onChapterProgress,
		EventChapterCompleted:   s.onChapterCompleted,
		EventRewriteAttempt:     s.onRewriteAttempt,
		EventStarted:            s.onStatus(state.SessionStatusRunning),
		EventPaused:             s.onStatus(state.SessionStatusPaused),
		EventResumed:            s.onStatus(state.SessionStatusRunning),
		EventStopped:            s.onStatus(state.SessionStatusStopped),
		EventCompleted:          s.onCompleted,
		EventFailed:             s.onFailed,
		EventError:              s.onError,
		EventFeedbackReceived:   s.onFeedbackReceived,
	}
}

// wrap serializes h behind the syncer lock and publishes afterwards.
// Payloads that fail to decode are logged and dropped.
func (s *Syncer) wrap(event string, h handlerFunc) stream.Handler {
	return func(msg *stream.Message) {
		s.mu.Lock()
		err := h(msg)
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("dropping message", "event", event, "error", err)
			s.metrics.ObserveDropped("decode_error")
			return
		}
		s.publish()
	}
}

func (s *Syncer) mergeLocked(patch state.ProgressPatch) {
	s.progress = s.progress.Merge(patch)
}

func (s *Syncer) onSubscribed(msg *stream.Message) error {
	var p subscribedPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	s.logger.Info("subscribed", "session", p.SessionID)
	if p.Data != nil {
		s.mergeLocked(*p.Data)
	}
	return nil
}

// upsertLocked stores the task carried by msg and re-evaluates the countdown.
func (s *Syncer) upsertLocked(msg *stream.Message) (state.Task, error) {
	var p taskPayload
	if err := msg.Decode(&p); err != nil {
		return state.Task{}, err
	}
	if p.Task == nil || p.Task.TaskID == "" {
		return state.Task{}, errMissingTask
	}
	if !s.cache.UpsertTask(*p.Task) {
		s.logger.Debug("task event without a session", "event", msg.Event, "task", p.Task.TaskID)
	}
	s.evaluateCountdownLocked()
	return *p.Task, nil
}

func (s *Syncer) onTaskStart(msg *stream.Message) error {
	task, err := s.upsertLocked(msg)
	if err != nil {
		return err
	}
	started := s.now().UTC()
	s.mergeLocked(state.ProgressPatch{
		Status:              state.Ptr(state.SessionStatusRunning),
		CurrentTask:         state.Ptr(task.TaskType),
		CurrentTaskProvider: state.Ptr(task.MetaString(state.MetaProvider)),
		CurrentTaskModel:    state.Ptr(task.MetaString(state.MetaModel)),
		TaskStartedAt:       &started,
		RetryCount:          state.Ptr(task.FailedAttempts),
	})
	return nil
}

func (s *Syncer) onTaskUpdate(msg *stream.Message) error {
	_, err := s.upsertLocked(msg)
	return err
}

func (s *Syncer) onProgress(msg *stream.Message) error {
	var p progressPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	s.mergeLocked(p.Data)
	return nil
}

func (s *Syncer) onStepProgress(msg *stream.Message) error {
	var p rawDataPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	ev, err := state.DecodeStepEvent(p.Data)
	if err != nil {
		return err
	}
	s.history.Append(ev)
	return nil
}

func (s *Syncer) onChapterProgress(msg *stream.Message) error {
	var p chapterProgressPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	s.mergeLocked(state.ProgressPatch{
		CurrentChapter:    p.Data.CurrentChapter,
		TotalChapters:     p.Data.TotalChapters,
		CompletedChapters: p.Data.CompletedChapters,
		ChapterPhase:      p.Data.Phase,
	})
	return nil
}

func (s *Syncer) onChapterCompleted(msg *stream.Message) error {
	var p chapterCompletedPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	s.mergeLocked(state.ProgressPatch{
		LastCompletedChapter: p.Data.ChapterIndex,
		CompletedChapters:    p.Data.CompletedChapters,
		TotalChapters:        p.Data.TotalChapters,
		RewriteAttempt:       state.Ptr(0),
		RewriteMaxAttempts:   state.Ptr(0),
		RewriteScore:         state.Ptr(0.0),
		RewriteReason:        state.Ptr(""),
	})
	return nil
}

func (s *Syncer) onRewriteAttempt(msg *stream.Message) error {
	var p rewriteAttemptPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	s.mergeLocked(state.ProgressPatch{
		RewriteAttempt:     p.Data.Attempt,
		RewriteMaxAttempts: p.Data.MaxAttempts,
		RewriteScore:       p.Data.Score,
		RewriteReason:      p.Data.Reason,
	})
	return nil
}

func (s *Syncer) onStatus(status state.SessionStatus) handlerFunc {
	return func(msg *stream.Message) error {
		s.logger.Info("session status", "event", msg.Event, "status", status)
		s.setStatusLocked(status)
		return nil
	}
}

func (s *Syncer) setStatusLocked(status state.SessionStatus) {
	s.mergeLocked(state.ProgressPatch{Status: &status})
	if status == state.SessionStatusRunning {
		s.lastError = ""
	}
}

func (s *Syncer) onCompleted(msg *stream.Message) error {
	var p completedPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	patch := state.ProgressPatch{
		Status:      state.Ptr(state.SessionStatusCompleted),
		Percentage:  state.Ptr(100.0),
		CurrentTask: state.Ptr(""),
	}
	if p.Data != nil {
		patch.TotalTasks = p.Data.TotalTasks
		patch.CompletedTasks = p.Data.CompletedTasks
		patch.FailedTasks = p.Data.FailedTasks
	}
	s.mergeLocked(patch)
	s.countdown.Cancel()
	s.logger.Info("session completed", "session", s.cache.CurrentSession())
	return nil
}

func (s *Syncer) onFailed(msg *stream.Message) error {
	var p failedPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	patch := state.ProgressPatch{Status: state.Ptr(state.SessionStatusFailed)}
	if p.Data != nil && p.Data.Error != "" {
		patch.Error = &p.Data.Error
		s.lastError = p.Data.Error
	}
	s.mergeLocked(patch)
	s.countdown.Cancel()
	s.logger.Warn("session failed", "session", s.cache.CurrentSession(), "error", s.lastError)
	return nil
}

func (s *Syncer) onError(msg *stream.Message) error {
	var p errorPayload
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(p.Message), alreadyRunning) {
		s.logger.Debug("session already running, treating as started")
		s.setStatusLocked(state.SessionStatusRunning)
		return nil
	}
	s.logger.Warn("server error", "message", p.Message)
	s.lastError = p.Message
	return nil
}

func (s *Syncer) onFeedbackReceived(msg *stream.Message) error {
	s.logger.Info("feedback acknowledged", "session", s.cache.CurrentSession())
	return nil
}
