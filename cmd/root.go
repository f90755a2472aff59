// Package cmd defines the harvester CLI: crawl, resume, and cursor.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/app"
	"github.com/JakeFAU/timeline-harvester/internal/config"
	"github.com/JakeFAU/timeline-harvester/internal/logging"
	"github.com/JakeFAU/timeline-harvester/internal/report"
)

// Harvester is what the commands need from the application.
type Harvester interface {
	Run(ctx context.Context, seed string) (report.Summary, error)
	ResumeCursor(ctx context.Context) (string, error)
	Close() error
}

// Factory builds a Harvester from a loaded configuration. Tests swap it for a
// fake.
type Factory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error)

func defaultFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error) {
	return app.New(ctx, cfg, app.WithLogger(logger))
}

// cli carries the state shared by the commands of one invocation.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	factory Factory
	stdout  io.Writer
}

// NewRootCmd builds the command tree. A nil factory uses the real app.
func NewRootCmd(factory Factory, stdout io.Writer) *cobra.Command {
	if factory == nil {
		factory = defaultFactory
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	c := &cli{factory: factory, stdout: stdout, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest paginated timeline search results into a delimited file.",
		Long: `harvester walks a cursor-paginated search timeline page by page,
extracts one record per item, appends the records to a delimited file, and
logs every completed cursor so an interrupted run can be resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml, json, or toml)")
	flags.String("query", "", "search query to harvest")
	flags.Int("max-depth", 0, "maximum number of pages to process (0 = unbounded)")
	flags.String("output", "", "destination file for records")
	flags.StringSlice("fields", nil, "output columns, in order")
	flags.String("progress-dir", "", "directory holding the progress log")
	flags.String("metrics-addr", "", "listen address for the status server (empty disables it)")
	flags.Bool("development", false, "human-readable debug logging")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")

	root.AddCommand(c.newCrawlCmd(), c.newResumeCmd(), c.newCursorCmd())
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgFile, cmd.Flags())
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("load config: %w", err)}
	}
	var opts []logging.Option
	if cfg.Logging.Level != "" {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return &ExitError{Code: ExitConfig, Err: fmt.Errorf("logging.level: %w", err)}
		}
		opts = append(opts, logging.WithLevel(level))
	}
	logger, err := logging.New(cfg.Logging.Development, opts...)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	zap.ReplaceGlobals(logger)
	c.cfg = cfg
	c.logger = logger
	return nil
}

// harvest builds the app, runs it from seed, and prints the report.
func (c *cli) harvest(ctx context.Context, seed string) error {
	h, err := c.factory(ctx, c.cfg, c.logger)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("initialize harvester: %w", err)}
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			c.logger.Warn("close harvester", zap.Error(cerr))
		}
	}()
	return c.runAndReport(ctx, h, seed)
}

func (c *cli) runAndReport(ctx context.Context, h Harvester, seed string) error {
	summary, runErr := h.Run(ctx, seed)
	if err := report.WriteText(c.stdout, summary); err != nil {
		c.logger.Warn("print report", zap.Error(err))
	}
	return exitFor(summary, runErr)
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd(nil, os.Stdout).ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "harvester:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, "harvester:", err)
	return ExitConfig
}
