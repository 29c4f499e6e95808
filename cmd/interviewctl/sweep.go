package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/interviewd/internal/checkpoint"
)

func newSweepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire unfinished interviews untouched for longer than --ttl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be > 0")
			}
			return a.withStore(cmd, func(store checkpoint.Store) error {
				removed, err := store.Expire(cmd.Context(), ttl)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				a.logger.Info("sweep finished", "removed", removed, "ttl", ttl)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "expired %d interview(s)\n", removed)
				return err
			})
		},
	}
	cmd.Flags().Duration("ttl", 7*24*time.Hour, "age after which unfinished interviews are removed")
	return cmd
}
