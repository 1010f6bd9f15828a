package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/config"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dir        string
	url        string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the novelsync command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "novelsync",
		Short: "Follow and steer novel-writing sessions in real time",
		Long: `novelsync connects to a writing backend over websocket and keeps a live
view of one session: task progress, granular generation steps and tasks
waiting for approval. Tasks that need approval are approved automatically
after a short countdown unless they require an explicit choice.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("novelsync version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to a config file (default <dir>/.novelsync/config.yaml)")
	pf.StringVar(&opts.dir, "dir", "", "Project directory holding .novelsync (default current directory)")
	pf.StringVar(&opts.url, "url", "", "Backend websocket URL")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")

	cmd.AddCommand(
		newWatchCommand(opts),
		newControlCommand(opts),
		newApproveCommand(opts),
		newFeedbackCommand(opts),
		newStatusCommand(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// settings is the resolved configuration of one command invocation.
type settings struct {
	baseDir string
	cfg     *config.Config
	logger  *logging.Logger
}

// loadSettings layers the config file, .novelsync/.env, the process
// environment and command-line flags, in increasing precedence.
func (o *rootOptions) loadSettings(cmd *cobra.Command) (*settings, error) {
	base := o.dir
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		base = cwd
	}

	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfigFile(o.configPath)
	} else {
		cfg, err = config.LoadConfig(base)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	envFile, err := config.LoadEnvFile(base)
	if err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	if err := config.ApplyEnv(cfg, config.EnvLookup(envFile)); err != nil {
		return nil, err
	}

	if o.url != "" {
		cfg.URL = o.url
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &settings{baseDir: base, cfg: cfg, logger: logger}, nil
}

func newLogger(lc config.LoggingConfig, out io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	l := logging.New()
	l.SetLevel(level)
	l.SetFormat(logging.Format(strings.ToLower(lc.Format)))
	l.SetOutput(out)
	return l, nil
}
