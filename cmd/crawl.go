package cmd

import (
	"github.com/spf13/cobra"
)

func (c *cli) newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Start a fresh crawl",
		Long: `Starts a crawl at --seed-cursor, or at crawl.default_cursor when no seed
is given. An existing progress log for the query is appended to, not read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.harvest(cmd.Context(), c.cfg.Seed())
		},
	}
	cmd.Flags().String("seed-cursor", "", "cursor of the first fetch")
	return cmd
}
