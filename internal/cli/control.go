package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/session"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

const defaultSettleWait = 2 * time.Second

// controlActions maps each control verb to its send and the status that
// confirms it.
var controlActions = map[string]struct {
	send   func(*session.Syncer) bool
	status state.SessionStatus
}{
	"start":  {(*session.Syncer).StartSession, state.SessionStatusRunning},
	"pause":  {(*session.Syncer).PauseSession, state.SessionStatusPaused},
	"resume": {(*session.Syncer).ResumeSession, state.SessionStatusRunning},
	"stop":   {(*session.Syncer).StopSession, state.SessionStatusStopped},
}

func newControlCommand(root *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "control <start|pause|resume|stop> <session-id>",
		Short: "Start, pause, resume or stop a session",
		Long: `Sends a control command for a session and waits for the backend to
acknowledge it. Starting a session that is already running is not an error.

Example:
  novelsync control start my-novel
  novelsync control pause my-novel --wait 5s`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"start", "pause", "resume", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := controlActions[args[0]]
			if !ok {
				return fmt.Errorf("unknown control action %q", args[0])
			}
			st, err := root.loadSettings(cmd)
			if err != nil {
				return err
			}

			snap, err := oneShot(cmd.Context(), st, args[1], wait, action.send,
				func(s session.Snapshot) bool { return s.Progress.Status == action.status })
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %s\n", snap.SessionID, snap.Progress.Status)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", defaultSettleWait, "How long to wait for the acknowledgement")
	return cmd
}

func newApproveCommand(root *rootOptions) *cobra.Command {
	var (
		action   string
		feedback string
		idea     int
		wait     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Decide on the task waiting for approval",
		Long: `Approves, rejects or regenerates the task the session is waiting on.
Tasks that require a choice among generated ideas take --idea.

Example:
  novelsync approve my-novel
  novelsync approve my-novel --action regenerate --feedback "more tension"
  novelsync approve my-novel --idea 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := session.Decision{Action: session.Action(action), Feedback: feedback}
			switch d.Action {
			case session.ActionApprove, session.ActionReject, session.ActionRegenerate:
			default:
				return fmt.Errorf("unknown action %q: use approve, reject or regenerate", action)
			}
			if cmd.Flags().Changed("idea") {
				if idea < 0 {
					return fmt.Errorf("--idea must not be negative")
				}
				d.SelectedIdea = &idea
			}

			st, err := root.loadSettings(cmd)
			if err != nil {
				return err
			}
			if _, err := oneShot(cmd.Context(), st, args[0], wait,
				func(s *session.Syncer) bool { return s.Approve(d) }, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s for session %s\n", d.Action, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", string(session.ActionApprove), "approve, reject or regenerate")
	cmd.Flags().StringVar(&feedback, "feedback", "", "Guidance sent with the decision")
	cmd.Flags().IntVar(&idea, "idea", 0, "Index of the selected idea")
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "How long to wait for a backend error")
	return cmd
}

func newFeedbackCommand(root *rootOptions) *cobra.Command {
	var (
		scope string
		wait  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "feedback <session-id> <message>",
		Short: "Send free-form feedback to the writing backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fb := session.Feedback{Message: args[1], Scope: scope}
			if fb.Message == "" {
				return fmt.Errorf("feedback message is required")
			}

			st, err := root.loadSettings(cmd)
			if err != nil {
				return err
			}
			if _, err := oneShot(cmd.Context(), st, args[0], wait,
				func(s *session.Syncer) bool { return s.SendFeedback(fb) }, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Feedback sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "What the feedback applies to, e.g. chapter or character")
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "How long to wait for a backend error")
	return cmd
}
