package cli

import (
	"fmt"
	"io"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/session"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

// Bell is the terminal bell character.
const Bell = "\a"

// notifyReason says why the watcher wants the user's attention.
type notifyReason int

const (
	notifyNone notifyReason = iota
	notifyNeedsDecision
	notifyCompleted
	notifyFailed
	notifyConnectionLost
)

func (r notifyReason) String() string {
	switch r {
	case notifyNeedsDecision:
		return "Decision Required"
	case notifyCompleted:
		return "Completed"
	case notifyFailed:
		return "Failed"
	case notifyConnectionLost:
		return "Connection Lost"
	default:
		return "None"
	}
}

// notifier rings the terminal bell once per attention-worthy change of a
// watched session.
type notifier struct {
	out         io.Writer
	lastPending string
	lastStatus  state.SessionStatus
	lost        bool
}

func newNotifier(out io.Writer) *notifier {
	return &notifier{out: out}
}

// observe rings the bell if snap needs attention it did not need before.
func (n *notifier) observe(snap session.Snapshot) notifyReason {
	reason := n.reason(snap)
	if reason != notifyNone && n.out != nil {
		fmt.Fprint(n.out, Bell)
	}
	return reason
}

func (n *notifier) reason(snap session.Snapshot) notifyReason {
	if snap.ConnectionLost {
		if n.lost {
			return notifyNone
		}
		n.lost = true
		return notifyConnectionLost
	}
	n.lost = false

	status := snap.Progress.Status
	prev := n.lastStatus
	n.lastStatus = status
	if status != prev {
		switch status {
		case state.SessionStatusCompleted:
			return notifyCompleted
		case state.SessionStatusFailed:
			return notifyFailed
		}
	}

	pending := ""
	for _, t := range snap.Tasks {
		if t.Status == state.TaskStatusPendingApproval {
			pending = t.TaskID
			break
		}
	}
	if pending == n.lastPending {
		return notifyNone
	}
	n.lastPending = pending
	if pending == "" {
		return notifyNone
	}
	return notifyNeedsDecision
}
