package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StepKind tags a granular sub-task progress event.
type StepKind string

const (
	StepContextRetrievalStart    StepKind = "context_retrieval_start"
	StepContextRetrievalComplete StepKind = "context_retrieval_complete"
	StepPromptBuild              StepKind = "prompt_build"
	StepLLMCallStart             StepKind = "llm_call_start"
	StepLLMCallComplete          StepKind = "llm_call_complete"
	StepEvaluationStart          StepKind = "evaluation_start"
	StepEvaluationComplete       StepKind = "evaluation_complete"
	StepConsistencyCheckStart    StepKind = "consistency_check_start"
	StepConsistencyCheckComplete StepKind = "consistency_check_complete"
	StepRewriteStart             StepKind = "rewrite_start"
	StepRewriteAttempt           StepKind = "rewrite_attempt"
	StepRewriteCall              StepKind = "rewrite_call"
	StepRewriteEvaluation        StepKind = "rewrite_evaluation"
	StepRewriteSuccess           StepKind = "rewrite_success"
	StepRewriteFailed            StepKind = "rewrite_failed"
	StepRewriteError             StepKind = "rewrite_error"
)

// ErrUnknownStep is returned by DecodeStepEvent for tags it does not know.
var ErrUnknownStep = errors.New("unknown step kind")

// StepEvent is one granular progress event. The set of implementations is
// closed: every StepKind maps to exactly one struct below.
type StepEvent interface {
	Kind() StepKind
	Text() string
	SourceTask() string
	isStepEvent()
}

// StepBase carries the fields common to every step event.
type StepBase struct {
	Step    StepKind `json:"step"`
	Message string   `json:"message,omitempty"`
	TaskID  string   `json:"task_id,omitempty"`
}

func (b StepBase) Kind() StepKind     { return b.Step }
func (b StepBase) Text() string       { return b.Message }
func (b StepBase) SourceTask() string { return b.TaskID }
func (StepBase) isStepEvent()         {}

type ContextRetrievalStarted struct {
	StepBase
	Query string `json:"query,omitempty"`
}

type ContextRetrievalCompleted struct {
	StepBase
	ItemsFound int      `json:"items_found"`
	Sources    []string `json:"sources,omitempty"`
}

type PromptBuilt struct {
	StepBase
	PromptLength  int `json:"prompt_length"`
	ContextTokens int `json:"context_tokens,omitempty"`
}

type LLMCallStarted struct {
	StepBase
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type LLMCallCompleted struct {
	StepBase
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`
}

type EvaluationStarted struct {
	StepBase
}

type EvaluationCompleted struct {
	StepBase
	Score  float64  `json:"score"`
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

type ConsistencyCheckStarted struct {
	StepBase
}

type ConsistencyCheckCompleted struct {
	StepBase
	Score      float64  `json:"score"`
	Consistent bool     `json:"consistent"`
	Issues     []string `json:"issues,omitempty"`
}

type RewriteStarted struct {
	StepBase
	Reason      string `json:"reason,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type RewriteAttempted struct {
	StepBase
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts,omitempty"`
}

type RewriteCalled struct {
	StepBase
	Attempt  int    `json:"attempt"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type RewriteEvaluated struct {
	StepBase
	Attempt int      `json:"attempt"`
	Score   float64  `json:"score"`
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues,omitempty"`
}

type RewriteSucceeded struct {
	StepBase
	Attempt int     `json:"attempt"`
	Score   float64 `json:"score"`
}

type RewriteFailed struct {
	StepBase
	Attempt int     `json:"attempt"`
	Score   float64 `json:"score,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type RewriteErrored struct {
	StepBase
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error"`
}

type stepDecoder func(data []byte) (StepEvent, error)

func decodeAs[T StepEvent](data []byte) (StepEvent, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var stepDecoders = map[StepKind]stepDecoder{
	StepContextRetrievalStart:    decodeAs[ContextRetrievalStarted],
	StepContextRetrievalComplete: decodeAs[ContextRetrievalCompleted],
	StepPromptBuild:              decodeAs[PromptBuilt],
	StepLLMCallStart:             decodeAs[LLMCallStarted],
	StepLLMCallComplete:          decodeAs[LLMCallCompleted],
	StepEvaluationStart:          decodeAs[EvaluationStarted],
	StepEvaluationComplete:       decodeAs[EvaluationCompleted],
	StepConsistencyCheckStart:    decodeAs[ConsistencyCheckStarted],
	StepConsistencyCheckComplete: decodeAs[ConsistencyCheckCompleted],
	StepRewriteStart:             decodeAs[RewriteStarted],
	StepRewriteAttempt:           decodeAs[RewriteAttempted],
	StepRewriteCall:              decodeAs[RewriteCalled],
	StepRewriteEvaluation:        decodeAs[RewriteEvaluated],
	StepRewriteSuccess:           decodeAs[RewriteSucceeded],
	StepRewriteFailed:            decodeAs[RewriteFailed],
	StepRewriteError:             decodeAs[RewriteErrored],
}

// DecodeStepEvent decodes a step_progress payload into its variant.
func DecodeStepEvent(data []byte) (StepEvent, error) {
	var base StepBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to decode step event: %w", err)
	}
	decode, ok := stepDecoders[base.Step]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, base.Step)
	}
	ev, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s step: %w", base.Step, err)
	}
	return ev, nil
}

// Summary renders a one-line description of ev, preferring the server message.
func Summary(ev StepEvent) string {
	if msg := ev.Text(); msg != "" {
		return msg
	}
	switch e := ev.(type) {
	case ContextRetrievalStarted:
		return "retrieving context"
	case ContextRetrievalCompleted:
		return fmt.Sprintf("retrieved %d context items", e.ItemsFound)
	case PromptBuilt:
		return fmt.Sprintf("built prompt (%d chars)", e.PromptLength)
	case LLMCallStarted:
		return fmt.Sprintf("calling %s/%s", e.Provider, e.Model)
	case LLMCallCompleted:
		return fmt.Sprintf("model call finished (%d tokens)", e.TotalTokens)
	case EvaluationStarted:
		return "evaluating result"
	case EvaluationCompleted:
		return fmt.Sprintf("evaluation score %.1f", e.Score)
	case ConsistencyCheckStarted:
		return "checking consistency"
	case ConsistencyCheckCompleted:
		return fmt.Sprintf("consistency score %.1f, %d issues", e.Score, len(e.Issues))
	case RewriteStarted:
		return "rewrite started: " + e.Reason
	case RewriteAttempted:
		return fmt.Sprintf("rewrite attempt %d/%d", e.Attempt, e.MaxAttempts)
	case RewriteCalled:
		return fmt.Sprintf("rewrite call %d", e.Attempt)
	case RewriteEvaluated:
		return fmt.Sprintf("rewrite %d scored %.1f", e.Attempt, e.Score)
	case RewriteSucceeded:
		return fmt.Sprintf("rewrite succeeded on attempt %d", e.Attempt)
	case RewriteFailed:
		return fmt.Sprintf("rewrite failed on attempt %d", e.Attempt)
	case RewriteErrored:
		return "rewrite error: " + e.Error
	}
	return string(ev.Kind())
}
