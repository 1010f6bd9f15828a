package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
)

// SessionReader abstracts snapshot storage for testability.
type SessionReader interface {
	ListSessions() ([]*state.SessionMeta, error)
	GetMeta(id string) (*state.SessionMeta, error)
	LoadRecord(id string) (*state.SessionRecord, error)
}

// SessionDeleter removes saved snapshots.
type SessionDeleter interface {
	SessionExists(id string) bool
	DeleteSession(id string) error
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show saved session snapshots",
		Long: `Shows sessions saved with "novelsync watch --save".

Without arguments, lists all saved sessions, newest first.
With a session id, shows the saved progress, tasks and recent steps.
With --delete, removes the saved snapshot instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.loadSettings(cmd)
			if err != nil {
				return err
			}
			store := state.NewStore(st.cfg.SnapshotDir)
			if remove {
				if len(args) == 0 {
					return errors.New("--delete needs a session id")
				}
				return deleteSession(cmd.OutOrStdout(), store, args[0])
			}
			return runStatus(cmd.OutOrStdout(), store, args)
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete the saved snapshot of the session")
	return cmd
}

func runStatus(w io.Writer, store SessionReader, args []string) error {
	if len(args) == 0 {
		return listSessions(w, store)
	}
	return showSession(w, store, args[0])
}

func listSessions(w io.Writer, store SessionReader) error {
	sessions, err := store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}

	idWidth := len("SESSION")
	statusWidth := len("STATUS")
	for _, s := range sessions {
		idWidth = max(idWidth, len(s.SessionID))
		statusWidth = max(statusWidth, len(statusLabel(s.Status)))
	}

	fmt.Fprintf(w, "%-*s  %-*s  %-5s  %s\n", idWidth, "SESSION", statusWidth, "STATUS", "TASKS", "SAVED")
	fmt.Fprintf(w, "%s  %s  %s  %s\n", strings.Repeat("-", idWidth), strings.Repeat("-", statusWidth), "-----", "-----")

	for _, s := range sessions {
		fmt.Fprintf(w, "%-*s  %-*s  %-5d  %s\n", idWidth, s.SessionID, statusWidth, statusLabel(s.Status),
			s.Tasks, formatAge(time.Since(s.SavedAt)))
	}
	return nil
}

func showSession(w io.Writer, store SessionReader, id string) error {
	rec, err := store.LoadRecord(id)
	if err != nil {
		if errors.Is(err, state.ErrSessionNotFound) {
			return fmt.Errorf("no saved snapshot for session %s", id)
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	meta, err := store.GetMeta(id)
	if err != nil && !errors.Is(err, state.ErrSessionNotFound) {
		return fmt.Errorf("failed to load session meta: %w", err)
	}

	renderRecord(w, meta, rec)
	return nil
}

func deleteSession(w io.Writer, store SessionDeleter, id string) error {
	if !store.SessionExists(id) {
		return fmt.Errorf("no saved snapshot for session %s", id)
	}
	if err := store.DeleteSession(id); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted snapshot of session %s\n", id)
	return nil
}

// formatAge renders d as a coarse "ago" string.
func formatAge(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm ago", int(d/time.Hour), int(d%time.Hour/time.Minute))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
