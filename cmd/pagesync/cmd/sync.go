package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kimhsiao/pagesync/backend/internal/gateway"
	"github.com/kimhsiao/pagesync/backend/internal/models"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
	"github.com/kimhsiao/pagesync/backend/internal/sync/conflict"
)

func newSyncCmd() *cobra.Command {
	var (
		userID     string
		resourceID string
		direction  string
		strategy   string
		full       bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one resource now",
		Long: `Sync one resource and print the resulting status.

A recoverable failure is retried later by the retry queue; run
"pagesync retry" or "pagesync serve" to process it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			a.registry.StartAll(ctx)

			status, err := a.manager.SyncResource(ctx, sync.SyncRequest{
				UserID:     userID,
				ResourceID: resourceID,
				Direction:  models.Direction(direction),
				Strategy:   conflict.Strategy(strategy),
				Full:       full,
				Priority:   gateway.PriorityInteractive,
			})
			if err != nil {
				return err
			}
			if status != nil {
				printStatus(cmd.OutOrStdout(), status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user owning the items (required)")
	cmd.Flags().StringVarP(&resourceID, "resource", "r", "", "resource to sync (required)")
	cmd.Flags().StringVar(&direction, "direction", string(models.DirectionRemoteToLocal), "remote_to_local, local_to_remote or bidirectional")
	cmd.Flags().StringVar(&strategy, "strategy", string(conflict.StrategyRemoteWins), "conflict strategy: remote_wins, local_wins or merge")
	cmd.Flags().BoolVar(&full, "full", false, "sync even when the resource is unchanged")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}
