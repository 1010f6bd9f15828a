package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

var (
	errAlreadyRunning = errors.New("session is already running")
	errNotRunning     = errors.New("session is not running")
	errNotPaused      = errors.New("session is not paused")
	errNoPendingTask  = errors.New("no task awaiting approval")
	errUnknownAction  = errors.New("unknown approval action")
)

type decision struct {
	action       string
	feedback     string
	selectedIdea *int
}

// run executes the plan for one session and fans its events out to the
// subscribed clients.
type run struct {
	id     string
	srv    *Server
	logger *logging.Logger

	mu          sync.Mutex
	status      state.SessionStatus
	subscribers map[*client]struct{}
	counts      countsData
	cancel      context.CancelFunc
	// resumeCh is closed on resume; nil while not paused.
	resumeCh chan struct{}
	awaiting string
	decided  chan decision
}

func newRun(srv *Server, id string) *run {
	return &run{
		id:          id,
		srv:         srv,
		logger:      srv.logger.With("session", id),
		subscribers: make(map[*client]struct{}),
		counts:      countsData{TotalTasks: len(srv.plan)},
	}
}

// subscribe adds c and returns the progress it should start from.
func (r *run) subscribe(c *client) state.ProgressPatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[c] = struct{}{}

	status := r.status
	return state.ProgressPatch{
		Status:         &status,
		TotalTasks:     state.Ptr(r.counts.TotalTasks),
		CompletedTasks: state.Ptr(r.counts.CompletedTasks),
		FailedTasks:    state.Ptr(r.counts.FailedTasks),
		Percentage:     state.Ptr(r.counts.Percentage),
	}
}

func (r *run) unsubscribe(c *client) {
	r.mu.Lock()
	delete(r.subscribers, c)
	r.mu.Unlock()
}

func (r *run) broadcast(event string, v any) {
	r.mu.Lock()
	subs := make([]*client, 0, len(r.subscribers))
	for c := range r.subscribers {
		subs = append(subs, c)
	}
	r.mu.Unlock()

	for _, c := range subs {
		c.send(event, v)
	}
}

func (r *run) start() error {
	r.mu.Lock()
	if r.status == state.SessionStatusRunning || r.status == state.SessionStatusPaused {
		r.mu.Unlock()
		return errAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.status = state.SessionStatusRunning
	r.resumeCh = nil
	r.awaiting = ""
	r.decided = make(chan decision, 1)
	r.counts = countsData{TotalTasks: len(r.srv.plan)}
	r.mu.Unlock()

	r.logger.Info("session started")
	r.broadcast("started", eventFrame{Event: "started"})
	r.srv.metrics.runs.Inc()
	go func() {
		defer r.srv.metrics.runs.Dec()
		r.execute(ctx)
	}()
	return nil
}

func (r *run) pause() error {
	r.mu.Lock()
	if r.status != state.SessionStatusRunning {
		r.mu.Unlock()
		return errNotRunning
	}
	r.status = state.SessionStatusPaused
	r.resumeCh = make(chan struct{})
	r.mu.Unlock()

	r.broadcast("paused", eventFrame{Event: "paused"})
	return nil
}

func (r *run) resume() error {
	r.mu.Lock()
	if r.status != state.SessionStatusPaused {
		r.mu.Unlock()
		return errNotPaused
	}
	r.status = state.SessionStatusRunning
	close(r.resumeCh)
	r.resumeCh = nil
	r.mu.Unlock()

	r.broadcast("resumed", eventFrame{Event: "resumed"})
	return nil
}

func (r *run) stop() error {
	r.mu.Lock()
	if r.status != state.SessionStatusRunning && r.status != state.SessionStatusPaused {
		r.mu.Unlock()
		return errNotRunning
	}
	r.status = state.SessionStatusStopped
	r.awaiting = ""
	r.cancel()
	r.mu.Unlock()

	r.broadcast("stopped", eventFrame{Event: "stopped"})
	return nil
}

// halt cancels execution without notifying subscribers.
func (r *run) halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awaiting = ""
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *run) decide(d decision) error {
	switch d.action {
	case "approve", "reject", "regenerate":
	default:
		return errUnknownAction
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.awaiting == "" {
		return errNoPendingTask
	}
	r.awaiting = ""
	r.decided <- d
	return nil
}

// pauseGate blocks while the session is paused.
func (r *run) pauseGate(ctx context.Context) error {
	r.mu.Lock()
	ch := r.resumeCh
	r.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) sleep(ctx context.Context) error {
	if r.srv.stepDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.srv.stepDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) awaitDecision(ctx context.Context, taskID string) (decision, error) {
	r.mu.Lock()
	r.awaiting = taskID
	ch := r.decided
	r.mu.Unlock()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		r.mu.Lock()
		if r.awaiting == taskID {
			r.awaiting = ""
		}
		r.mu.Unlock()
		return decision{}, ctx.Err()
	}
}

func (r *run) execute(ctx context.Context) {
	plan := r.srv.plan
	totalChapters := chapterCount(plan)
	completedChapters := 0

	r.broadcast("progress", dataFrame{Event: "progress", Data: r.snapshotCounts()})

	for _, step := range plan {
		if err := r.pauseGate(ctx); err != nil {
			return
		}
		ok, err := r.runStep(ctx, step, totalChapters, completedChapters)
		if err != nil {
			r.logger.Debug("run interrupted", "error", err)
			return
		}

		r.mu.Lock()
		if ok {
			r.counts.CompletedTasks++
		} else {
			r.counts.FailedTasks++
		}
		done := r.counts.CompletedTasks + r.counts.FailedTasks
		r.counts.Percentage = float64(done) / float64(r.counts.TotalTasks) * 100
		r.mu.Unlock()

		if ok && step.Chapter != nil {
			completedChapters++
			r.broadcast("chapter_completed", dataFrame{Event: "chapter_completed", Data: chapterCompletedData{
				ChapterIndex:      *step.Chapter,
				CompletedChapters: completedChapters,
				TotalChapters:     totalChapters,
			}})
		}
		r.broadcast("progress", dataFrame{Event: "progress", Data: r.snapshotCounts()})
	}

	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.status = state.SessionStatusCompleted
	r.cancel()
	counts := r.counts
	r.mu.Unlock()

	r.logger.Info("session completed", "completed", counts.CompletedTasks, "failed", counts.FailedTasks)
	r.broadcast("completed", dataFrame{Event: "completed", Data: counts})
}

func (r *run) snapshotCounts() countsData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// runStep executes one plan step, regenerating on request. It reports
// whether the task completed; a non-nil error means the run was cancelled.
func (r *run) runStep(ctx context.Context, step PlanStep, totalChapters, completedChapters int) (bool, error) {
	taskID := uuid.NewString()
	task := state.Task{
		TaskID:       taskID,
		TaskType:     step.TaskType,
		Description:  step.Description,
		ChapterIndex: step.Chapter,
		Metadata: map[string]any{
			state.MetaProvider: scriptProvider,
			state.MetaModel:    scriptModel,
		},
	}

	for revision := 0; ; revision++ {
		started := time.Now()
		task.Status = state.TaskStatusRunning
		task.FailedAttempts = revision

		if step.Chapter != nil {
			r.broadcast("chapter_progress", dataFrame{Event: "chapter_progress", Data: chapterProgressData{
				CurrentChapter:    *step.Chapter,
				TotalChapters:     totalChapters,
				CompletedChapters: completedChapters,
				Phase:             "drafting",
			}})
		}
		r.broadcast("task_start", taskFrame{Event: "task_start", Task: task.Clone()})

		for _, ev := range stepEvents(taskID, step) {
			if err := r.sleep(ctx); err != nil {
				return false, err
			}
			if err := r.pauseGate(ctx); err != nil {
				return false, err
			}
			r.broadcast("step_progress", dataFrame{Event: "step_progress", Data: ev})
			if a, ok := ev.(state.RewriteAttempted); ok {
				r.broadcast("rewrite_attempt", dataFrame{Event: "rewrite_attempt", Data: rewriteAttemptData{
					Attempt:     a.Attempt,
					MaxAttempts: a.MaxAttempts,
					Score:       6.0,
					Reason:      "score below threshold",
				}})
			}
		}

		task.Result = resultFor(step, revision)
		task.Evaluation = &state.Evaluation{Score: 8.5, Passed: true}
		task.ExecutionTimeSeconds = time.Since(started).Seconds()
		task.TotalTokens = 512

		if !step.NeedsApproval {
			task.Status = state.TaskStatusCompleted
			r.broadcast("task_complete", taskFrame{Event: "task_complete", Task: task.Clone()})
			return true, nil
		}

		task.Status = state.TaskStatusPendingApproval
		r.broadcast("task_approval_needed", taskFrame{Event: "task_approval_needed", Task: task.Clone()})

		d, err := r.awaitDecision(ctx, taskID)
		if err != nil {
			return false, err
		}
		switch d.action {
		case "approve":
			if d.selectedIdea != nil {
				task.Metadata["selected_idea"] = *d.selectedIdea
			}
			task.Status = state.TaskStatusCompleted
			r.broadcast("task_complete", taskFrame{Event: "task_complete", Task: task.Clone()})
			return true, nil
		case "reject":
			task.Status = state.TaskStatusFailed
			task.Error = "rejected by user"
			if d.feedback != "" {
				task.Error += ": " + d.feedback
			}
			r.broadcast("task_fail", taskFrame{Event: "task_fail", Task: task.Clone()})
			return false, nil
		default:
			r.logger.Info("regenerating task", "task", taskID, "feedback", d.feedback)
		}
	}
}
