package cmd

import (
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show the sync health of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			health, err := a.manager.GetSyncHealth(ctx, userID)
			if err != nil {
				return err
			}
			printHealth(cmd.OutOrStdout(), userID, health)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user to report on (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
