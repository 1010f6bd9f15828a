package server

import (
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

// PlanStep is one task the scripted backend runs for every session.
type PlanStep struct {
	TaskType      string
	Description   string
	Chapter       *int
	NeedsApproval bool
	// Rewrites is how many rewrite attempts precede the final result.
	Rewrites int
}

// DefaultPlan is a short novel: setup tasks, an idea selection that waits for
// the user, then two chapters, the first of which needs approval.
func DefaultPlan() []PlanStep {
	return []PlanStep{
		{TaskType: state.TaskTypeOutline, Description: "Draft the story outline"},
		{TaskType: state.TaskTypeCharacterDesign, Description: "Design the main cast"},
		{TaskType: state.TaskTypeCreativeBrainstorm, Description: "Brainstorm opening hooks", NeedsApproval: true},
		{TaskType: state.TaskTypeChapterContent, Description: "Write chapter 1", Chapter: state.Ptr(1), NeedsApproval: true, Rewrites: 1},
		{TaskType: state.TaskTypeChapterContent, Description: "Write chapter 2", Chapter: state.Ptr(2)},
	}
}

const (
	scriptProvider = "scripted"
	scriptModel    = "novelsync-echo"
)

// chapterCount returns the number of distinct chapters in plan.
func chapterCount(plan []PlanStep) int {
	seen := map[int]bool{}
	for _, step := range plan {
		if step.Chapter != nil {
			seen[*step.Chapter] = true
		}
	}
	return len(seen)
}

// stepEvents returns the granular progress the backend reports while
// generating step for taskID.
func stepEvents(taskID string, step PlanStep) []state.StepEvent {
	base := func(kind state.StepKind, msg string) state.StepBase {
		return state.StepBase{Step: kind, Message: msg, TaskID: taskID}
	}

	events := []state.StepEvent{
		state.ContextRetrievalStarted{StepBase: base(state.StepContextRetrievalStart, ""), Query: step.Description},
		state.ContextRetrievalCompleted{StepBase: base(state.StepContextRetrievalComplete, ""), ItemsFound: 3},
		state.PromptBuilt{StepBase: base(state.StepPromptBuild, ""), PromptLength: 240 + len(step.Description)},
		state.LLMCallStarted{StepBase: base(state.StepLLMCallStart, ""), Provider: scriptProvider, Model: scriptModel},
		state.LLMCallCompleted{StepBase: base(state.StepLLMCallComplete, ""), TotalTokens: 512},
		state.EvaluationStarted{StepBase: base(state.StepEvaluationStart, "")},
	}

	if step.Rewrites > 0 {
		events = append(events,
			state.EvaluationCompleted{StepBase: base(state.StepEvaluationComplete, ""), Score: 6.0, Issues: []string{"pacing"}},
			state.RewriteStarted{StepBase: base(state.StepRewriteStart, ""), Reason: "score below threshold", MaxAttempts: step.Rewrites},
		)
		for attempt := 1; attempt <= step.Rewrites; attempt++ {
			events = append(events,
				state.RewriteAttempted{StepBase: base(state.StepRewriteAttempt, ""), Attempt: attempt, MaxAttempts: step.Rewrites},
				state.RewriteCalled{StepBase: base(state.StepRewriteCall, ""), Attempt: attempt, Provider: scriptProvider, Model: scriptModel},
				state.RewriteEvaluated{StepBase: base(state.StepRewriteEvaluation, ""), Attempt: attempt, Score: 8.0, Passed: true},
			)
		}
		events = append(events, state.RewriteSucceeded{StepBase: base(state.StepRewriteSuccess, ""), Attempt: step.Rewrites, Score: 8.0})
	} else {
		events = append(events, state.EvaluationCompleted{StepBase: base(state.StepEvaluationComplete, ""), Score: 8.5, Passed: true})
	}

	if step.Chapter != nil {
		events = append(events,
			state.ConsistencyCheckStarted{StepBase: base(state.StepConsistencyCheckStart, "")},
			state.ConsistencyCheckCompleted{StepBase: base(state.StepConsistencyCheckComplete, ""), Score: 9.0, Consistent: true},
		)
	}
	return events
}

// resultFor is the generated text for a step.
func resultFor(step PlanStep, revision int) string {
	if revision > 0 {
		return step.Description + " (revised)"
	}
	return step.Description
}
