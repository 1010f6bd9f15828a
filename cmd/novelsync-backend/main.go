// novelsync-backend runs the scripted writing backend that novelsync talks
// to. It executes a fixed plan of generation tasks per session and streams
// their progress over websocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/config"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/server"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		dir       string
		port      int
		stepDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:           "novelsync-backend",
		Short:         "Serve scripted novel-writing sessions over websocket",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			envFile, err := config.LoadEnvFile(dir)
			if err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
			if err := config.ApplyEnv(cfg, config.EnvLookup(envFile)); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("step-delay") {
				cfg.Server.StepDelay = stepDelay
			}
			if err := config.ValidateServerConfig(&cfg.Server); err != nil {
				return err
			}

			level, err := logging.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return err
			}
			logger := logging.New()
			logger.SetLevel(level)
			logger.SetFormat(logging.Format(strings.ToLower(cfg.Logging.Format)))
			logger.SetOutput(cmd.ErrOrStderr())

			srv, err := server.NewServerFromConfig(&cfg.Server, logger)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), srv, logger)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory holding .novelsync/config.yaml")
	cmd.Flags().IntVar(&port, "port", config.DefaultServerPort, "Port to listen on")
	cmd.Flags().DurationVar(&stepDelay, "step-delay", config.DefaultStepDelay, "Pause between generation steps")
	return cmd
}

func serve(ctx context.Context, srv *server.Server, logger *logging.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Info("termination signal received")
				return nil
			},
			func(error) {
				signalCancel()
			},
		)
	}

	// HTTP and websocket server.
	{
		g.Add(
			func() error {
				return srv.Start(ctx)
			},
			func(error) {
				if err := srv.Stop(); err != nil {
					logger.Error("failed to stop server", "error", err)
				}
			},
		)
	}

	return g.Run()
}
