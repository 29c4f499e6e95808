package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/interviewd/internal/questionset"
)

func newSetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "Load and validate the question sets in --dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			catalog := questionset.NewCatalog(dir, a.logger)
			if err := catalog.Load(); err != nil {
				return fmt.Errorf("load question sets from %s: %w", dir, err)
			}
			sets := catalog.List()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), sets)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REF\tVERSION\tQUESTIONS\tTITLE")
			for _, s := range sets {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Ref, s.Version, len(s.Questions), s.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("dir", "./question_sets", "question set directory")
	return cmd
}
