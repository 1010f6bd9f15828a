package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/approval"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/session"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

const (
	defaultWidth = 80
	barWidth     = 30
	clearScreen  = "\033[2J\033[H"
)

// terminalWidth returns the column count of w when it is a terminal.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth, true
	}
	return width, true
}

// renderSnapshot prints a live view of the current session.
func renderSnapshot(w io.Writer, snap session.Snapshot, width int) {
	fmt.Fprintf(w, "Session %s  [%s]\n", orDash(snap.SessionID), connectionLabel(snap))
	fmt.Fprintln(w, strings.Repeat("=", min(width, 60)))

	renderProgress(w, snap.Progress)

	if snap.Countdown != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, formatCountdown(snap.Countdown))
	}
	if snap.LastError != "" {
		fmt.Fprintf(w, "\nError: %s\n", snap.LastError)
	}

	if len(snap.Tasks) > 0 {
		fmt.Fprintln(w)
		renderTasks(w, snap.Tasks, width)
	}
	if len(snap.History) > 0 {
		fmt.Fprintln(w)
		renderHistory(w, snap.History, width)
	}
}

// renderRecord prints a saved session.
func renderRecord(w io.Writer, meta *state.SessionMeta, rec *state.SessionRecord) {
	fmt.Fprintln(w, "Session Details")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w)
	printField(w, "Session", rec.SessionID)
	if meta != nil && meta.ServerURL != "" {
		printField(w, "Server", meta.ServerURL)
	}
	printField(w, "Saved", rec.SavedAt.Local().Format(time.DateTime))
	if rec.LastError != "" {
		printField(w, "Last error", rec.LastError)
	}
	fmt.Fprintln(w)

	renderProgress(w, rec.Progress)
	if len(rec.Tasks) > 0 {
		fmt.Fprintln(w)
		renderTasks(w, rec.Tasks, defaultWidth)
	}
	if len(rec.History) > 0 {
		fmt.Fprintln(w)
		renderHistory(w, rec.History, defaultWidth)
	}
}

func renderProgress(w io.Writer, p state.Progress) {
	printField(w, "Status", statusLabel(p.Status))
	printField(w, "Progress", fmt.Sprintf("%s %5.1f%%  %d/%d done, %d failed",
		progressBar(p.Percentage, barWidth), p.Percentage, p.CompletedTasks, p.TotalTasks, p.FailedTasks))

	if p.CurrentTask != "" {
		current := p.CurrentTask
		if p.CurrentTaskModel != "" {
			current += fmt.Sprintf(" (%s/%s)", p.CurrentTaskProvider, p.CurrentTaskModel)
		}
		if p.TaskStartedAt != nil {
			current += fmt.Sprintf(", started %s", p.TaskStartedAt.Local().Format(time.TimeOnly))
		}
		printField(w, "Current", current)
	}
	if p.RetryCount > 0 {
		printField(w, "Retries", fmt.Sprintf("%d", p.RetryCount))
	}

	if p.TotalChapters > 0 {
		chapter := fmt.Sprintf("%d/%d completed", p.CompletedChapters, p.TotalChapters)
		if p.CurrentChapter != nil {
			chapter = fmt.Sprintf("writing %d, %s", *p.CurrentChapter, chapter)
		}
		if p.ChapterPhase != "" {
			chapter += " (" + p.ChapterPhase + ")"
		}
		printField(w, "Chapters", chapter)
	}
	if p.RewriteAttempt > 0 {
		rewrite := fmt.Sprintf("attempt %d/%d, score %.1f", p.RewriteAttempt, p.RewriteMaxAttempts, p.RewriteScore)
		if p.RewriteReason != "" {
			rewrite += ": " + p.RewriteReason
		}
		printField(w, "Rewrite", rewrite)
	}
	if p.Error != "" {
		printField(w, "Failure", p.Error)
	}
}

func renderTasks(w io.Writer, tasks []state.Task, width int) {
	typeWidth := len("TYPE")
	statusWidth := len("STATUS")
	for _, t := range tasks {
		typeWidth = max(typeWidth, len(t.TaskType))
		statusWidth = max(statusWidth, len(t.Status))
	}

	fmt.Fprintf(w, "%-*s  %-*s  %s\n", typeWidth, "TYPE", statusWidth, "STATUS", "DESCRIPTION")
	fmt.Fprintf(w, "%s  %s  %s\n", strings.Repeat("-", typeWidth), strings.Repeat("-", statusWidth), "-----------")

	descWidth := max(width-typeWidth-statusWidth-4, 10)
	for _, t := range tasks {
		desc := t.Description
		if t.ChapterIndex != nil && desc == "" {
			desc = fmt.Sprintf("chapter %d", *t.ChapterIndex)
		}
		if t.Status == state.TaskStatusFailed && t.Error != "" {
			desc = t.Error
		}
		fmt.Fprintf(w, "%-*s  %-*s  %s\n", typeWidth, t.TaskType, statusWidth, t.Status, truncate(desc, descWidth))
	}
}

func renderHistory(w io.Writer, entries []state.HistoryEntry, width int) {
	fmt.Fprintln(w, "Recent steps (newest first):")
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %s", e.Timestamp.Local().Format(time.TimeOnly), state.Summary(e.Event))
		fmt.Fprintln(w, truncate(line, width))
	}
}

// formatCountdown is the auto-approve notice for the pending task.
func formatCountdown(v *approval.View) string {
	unit := "seconds"
	if v.RemainingSeconds == 1 {
		unit = "second"
	}
	return fmt.Sprintf("Auto-approving task %s in %d %s (novelsync approve to decide now)",
		shortID(v.TaskID), v.RemainingSeconds, unit)
}

// progressBar renders pct (0-100) as a fixed-width bar.
func progressBar(pct float64, width int) string {
	pct = min(max(pct, 0), 100)
	filled := int(pct / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func connectionLabel(snap session.Snapshot) string {
	if snap.ConnectionLost {
		return "connection lost"
	}
	return string(snap.Connection)
}

func statusLabel(s state.SessionStatus) string {
	if s == state.SessionStatusIdle {
		return "idle"
	}
	return string(s)
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%-10s %s\n", label+":", value)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
