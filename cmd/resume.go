package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/cursorlog"
)

func (c *cli) newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue a crawl from its last logged cursor",
		Long: `Reads the last cursor from the query's progress log and continues from it.
Fails with exit code 3 when nothing has been logged; it never falls back to a
fresh crawl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			h, err := c.factory(ctx, c.cfg, c.logger)
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: fmt.Errorf("initialize harvester: %w", err)}
			}
			defer func() {
				if cerr := h.Close(); cerr != nil {
					c.logger.Warn("close harvester", zap.Error(cerr))
				}
			}()

			cursor, err := h.ResumeCursor(ctx)
			if err != nil {
				if errors.Is(err, cursorlog.ErrNoProgress) {
					err = fmt.Errorf("%w; run crawl to start fresh", err)
				}
				return &ExitError{Code: ExitConfig, Err: err}
			}
			c.logger.Info("resuming crawl", zap.String("cursor", cursor))
			return c.runAndReport(ctx, h, cursor)
		},
	}
}
