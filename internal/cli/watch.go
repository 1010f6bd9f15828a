package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/metrics"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/session"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/stream"
)

type watchOptions struct {
	start       bool
	save        bool
	noClear     bool
	noBell      bool
	stay        bool
	metricsAddr string
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a session live",
		Long: `Connects to the backend, subscribes to a session and redraws its state on
every change: task progress, chapter and rewrite progress, the most recent
generation steps and the auto-approve countdown.

The command exits when the session completes, fails or is stopped, unless
--stay is given, and when the connection is lost for good.

Example:
  novelsync watch my-novel
  novelsync watch my-novel --start --save
  novelsync watch my-novel --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.loadSettings(cmd)
			if err != nil {
				return err
			}
			return runWatch(cmd, st, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.start, "start", false, "Start the session once connected")
	f.BoolVar(&opts.save, "save", false, "Save the last snapshot to the project directory on exit")
	f.BoolVar(&opts.noClear, "no-clear", false, "Append redraws instead of clearing the screen")
	f.BoolVar(&opts.noBell, "no-bell", false, "Do not ring the terminal bell when a decision is needed or the session ends")
	f.BoolVar(&opts.stay, "stay", false, "Keep watching after the session finishes")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runWatch(cmd *cobra.Command, st *settings, sessionID string, opts *watchOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	width, isTerm := terminalWidth(out)
	redraw := isTerm && !opts.noClear
	var bell *notifier
	if isTerm && !opts.noBell {
		bell = newNotifier(out)
	}

	registry := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(registry)
	mgr := newConnection(st, m)
	syncer := newSyncer(st, mgr, m)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				st.logger.Debug("termination signal received")
				return nil
			},
			func(error) {
				signalCancel()
			},
		)
	}

	// Session sync and rendering.
	{
		syncCtx, syncCancel := context.WithCancel(ctx)
		defer syncCancel()

		g.Add(
			func() error {
				return watchSession(syncCtx, st, mgr, syncer, sessionID, opts, func(snap session.Snapshot) {
					if redraw {
						fmt.Fprint(out, clearScreen)
					} else {
						fmt.Fprintln(out)
					}
					renderSnapshot(out, snap, width)
					if bell != nil {
						if reason := bell.observe(snap); reason != notifyNone {
							st.logger.Debug("attention needed", "session", sessionID, "reason", reason)
						}
					}
				})
			},
			func(error) {
				syncCancel()
			},
		)
	}

	// Metrics endpoint.
	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(
			func() error {
				st.logger.Info("serving metrics", "addr", opts.metricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server failed: %w", err)
				}
				return nil
			},
			func(error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			},
		)
	}

	runErr := g.Run()

	snap := syncer.Snapshot()
	syncer.Close()

	if opts.save && snap.SessionID != "" {
		store := state.NewStore(st.cfg.SnapshotDir)
		if err := store.SaveRecord(st.cfg.URL, snap.Record()); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		st.logger.Info("snapshot saved", "session", snap.SessionID, "dir", st.cfg.SnapshotDir)
	}
	return runErr
}

// watchSession drives the syncer until ctx ends, the session finishes or
// the connection is lost. draw runs on this goroutine only.
func watchSession(ctx context.Context, st *settings, mgr *stream.ConnectionManager, syncer *session.Syncer,
	sessionID string, opts *watchOptions, draw func(session.Snapshot)) error {
	updates := make(chan struct{}, 1)
	unsubscribe := syncer.Subscribe(func(session.Snapshot) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	syncer.Start()
	syncer.SetSession(sessionID)

	if opts.start {
		if err := mgr.WaitConnected(ctx, st.cfg.Connection.ReadyTimeout); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", st.cfg.URL, err)
		}
		if !syncer.StartSession() {
			return fmt.Errorf("failed to start session %s", sessionID)
		}
	}

	// With --start, a finished status left over from an earlier run must not
	// end the watch before the new run is acknowledged.
	active := !opts.start
	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
		}

		snap := syncer.Snapshot()
		if snap.Version == lastVersion {
			continue
		}
		lastVersion = snap.Version
		draw(snap)

		if snap.ConnectionLost {
			return stream.ErrConnectionExhausted
		}
		if !finished(snap.Progress.Status) && snap.Progress.Status != state.SessionStatusIdle {
			active = true
		}
		if !opts.stay && active && finished(snap.Progress.Status) {
			return nil
		}
	}
}
