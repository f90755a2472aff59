package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/timeline-harvester/internal/app"
)

func (c *cli) newCursorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cursor",
		Short: "Print the last logged cursor of the query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log, where, err := app.OpenProgressLog(ctx, c.cfg)
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: err}
			}
			defer log.Close() //nolint:errcheck // read-only use

			cursor, err := log.Last(ctx)
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: fmt.Errorf("read %s: %w", where, err)}
			}
			_, err = fmt.Fprintln(c.stdout, cursor)
			return err
		},
	}
}
